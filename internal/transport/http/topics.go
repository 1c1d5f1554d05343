package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/corvidstream/broker/internal/streaming"
)

type createTopicRequest struct {
	Name                 string `json:"name"`
	PartitionCount       int    `json:"partition_count"`
	MaxSegmentSize       uint32 `json:"max_segment_size"`
	MaxSegmentAgeSeconds int64  `json:"max_segment_age_seconds"`
}

type topicResponse struct {
	ID             uint32 `json:"id"`
	Name           string `json:"name"`
	PartitionCount int    `json:"partition_count"`
}

func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("create_topic")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	stream, err := s.system.GetStream(streamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req createTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}
	if req.PartitionCount <= 0 {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}

	cfg := streaming.TopicConfig{
		PartitionCount: req.PartitionCount,
		PartitionConfig: streaming.PartitionConfig{
			MaxSegmentSize:       req.MaxSegmentSize,
			MaxSegmentAge:        time.Duration(req.MaxSegmentAgeSeconds) * time.Second,
			MaxInFlightBytesPerS: streaming.DefaultPartitionConfig().MaxInFlightBytesPerS,
			CompressionThreshold: streaming.DefaultPartitionConfig().CompressionThreshold,
		},
	}
	if cfg.PartitionConfig.MaxSegmentSize == 0 {
		cfg.PartitionConfig.MaxSegmentSize = streaming.DefaultPartitionConfig().MaxSegmentSize
	}
	if cfg.PartitionConfig.MaxSegmentAge == 0 {
		cfg.PartitionConfig.MaxSegmentAge = streaming.DefaultPartitionConfig().MaxSegmentAge
	}

	topic, err := stream.CreateTopic(req.Name, cfg, nil)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, topicResponse{ID: topic.ID, Name: topic.Name, PartitionCount: topic.PartitionCount()})
}

func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("delete_topic")
		writeError(w, s.logger, streaming.ErrUnauthorized)
		return
	}

	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	stream, err := s.system.GetStream(streamID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	topicID, err := topicIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := stream.DeleteTopic(topicID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func topicIDFromRequest(r *http.Request) (uint32, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "topicID"), 10, 32)
	if err != nil {
		return 0, streaming.ErrInvalidArgument
	}
	return uint32(id), nil
}
