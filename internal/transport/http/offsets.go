package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corvidstream/broker/internal/streaming"
)

type storeOffsetRequest struct {
	PartitionID uint32 `json:"partition_id"`
	Offset      uint64 `json:"offset"`
	Group       string `json:"group"`
}

type offsetResponse struct {
	Offset uint64 `json:"offset"`
	Stored bool   `json:"stored"`
}

func (s *Server) handleStoreOffset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("store_offset")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	topic, err := s.topicFromRequest(r, streamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req storeOffsetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}
	if req.Group != "" && !topic.Group(req.Group).Assignment(sess.ClientID, req.PartitionID) {
		s.metrics.RecordPermissionDenied("store_offset")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	partition, err := topic.Partition(req.PartitionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := partition.StoreConsumerOffset(chi.URLParam(r, "consumer"), req.Offset); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetOffset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("get_offset")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	topic, err := s.topicFromRequest(r, streamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	partitionID, err := parseUint32Query(r.URL.Query(), "partition")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	partition, err := topic.Partition(partitionID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	offset, ok := partition.ConsumerOffset(chi.URLParam(r, "consumer"))
	writeJSON(w, http.StatusOK, offsetResponse{Offset: offset, Stored: ok})
}

func (s *Server) topicFromRequest(r *http.Request, streamID uint32) (*streaming.Topic, error) {
	stream, err := s.system.GetStream(streamID)
	if err != nil {
		return nil, err
	}
	topicID, err := topicIDFromRequest(r)
	if err != nil {
		return nil, err
	}
	return stream.GetTopic(topicID)
}
