package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/corvidstream/broker/internal/streaming"
)

type createStreamRequest struct {
	Name string `json:"name"`
}

type streamResponse struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

func (s *Server) handleCreateStream(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("create_stream")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	var req createStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}

	stream, err := s.system.CreateStream(req.Name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, streamResponse{ID: stream.ID, Name: stream.Name})
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("list_streams")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	streams := s.system.Streams()
	out := make([]streamResponse, 0, len(streams))
	for _, st := range streams {
		out = append(out, streamResponse{ID: st.ID, Name: st.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteStream(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("delete_stream")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	id, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.system.DeleteStream(id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func streamIDFromRequest(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "streamID"), 10, 32)
	if err != nil {
		return 0, streaming.ErrInvalidArgument
	}
	return uint32(id), nil
}
