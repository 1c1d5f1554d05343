package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corvidstream/broker/internal/streaming"
)

func (s *Server) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("join_group")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	topic, err := s.topicFromRequest(r, streamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	topic.Group(chi.URLParam(r, "group")).Join(sess.ClientID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("leave_group")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	topic, err := s.topicFromRequest(r, streamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	topic.Group(chi.URLParam(r, "group")).Leave(sess.ClientID)
	w.WriteHeader(http.StatusNoContent)
}
