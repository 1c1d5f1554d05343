package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/corvidstream/broker/internal/streaming"
)

// requireAuth verifies the bearer JWT and constructs a Session injected
// into the request context for handlers to read via sessionFromContext.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, s.logger, streaming.ErrUnauthenticated)
			return
		}

		claims, err := s.auth.VerifyAccessToken(token)
		if err != nil {
			writeError(w, s.logger, streaming.ErrUnauthenticated)
			return
		}

		sess := streaming.Session{
			UserID:        claims.UserID,
			ClientID:      claims.ClientID,
			Authenticated: true,
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
