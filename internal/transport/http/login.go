package http

import (
	"encoding/json"
	"net/http"

	"github.com/corvidstream/broker/internal/streaming"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID uint32 `json:"client_id"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}

	userID, err := s.auth.VerifyPassword(req.Username, req.Password)
	if err != nil {
		writeError(w, s.logger, streaming.ErrUnauthenticated)
		return
	}

	token, err := s.auth.IssueAccessToken(userID, req.ClientID)
	if err != nil {
		writeError(w, s.logger, streaming.ErrIO("access_token", err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token})
}
