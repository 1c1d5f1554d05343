package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/corvidstream/broker/internal/streaming"
)

type publishMessage struct {
	Payload []byte            `json:"payload"`
	Headers map[string]string `json:"headers"`
}

type publishRequest struct {
	Key         []byte           `json:"key"`
	PartitionID *uint32          `json:"partition_id"`
	Messages    []publishMessage `json:"messages"`
}

type publishResponse struct {
	PartitionID uint32   `json:"partition_id"`
	Offsets     []uint64 `json:"offsets"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !s.authz.CanSend(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("publish")
		writeError(w, s.logger, streaming.ErrUnauthorized)
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
	topic, err := stream.GetTopic(topicID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}

	messages := make([]*streaming.Message, len(req.Messages))
	for i, m := range req.Messages {
		headers := make(map[string]streaming.HeaderValue, len(m.Headers))
		for name, value := range m.Headers {
			headers[name] = streaming.HeaderValue{Kind: streaming.HeaderString, Value: []byte(value)}
		}
		messages[i] = streaming.NewMessage(m.Payload, headers)
	}

	start := time.Now()
	partitionID, offsets, err := topic.Publish(req.Key, req.PartitionID, messages, nowMicros())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.metrics.RecordPublish(stream.Name, topic.Name, len(messages), time.Since(start))

	writeJSON(w, http.StatusOK, publishResponse{PartitionID: partitionID, Offsets: offsets})
}

type polledMessage struct {
	Offset    uint64            `json:"offset"`
	Timestamp uint64            `json:"timestamp"`
	Payload   []byte            `json:"payload"`
	Headers   map[string]string `json:"headers"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	streamID, err := streamIDFromRequest(r)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("poll")
		writeError(w, s.logger, streaming.ErrUnauthorized)
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
	topic, err := stream.GetTopic(topicID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	q := r.URL.Query()
	partitionID, err := parseUint32Query(q, "partition")
	if err != nil {
		writeError(w, s.logger, streaming.ErrInvalidArgument)
		return
	}
	count := 100
	if v := q.Get("count"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			count = n
		}
	}
	maxBytes := 1 << 20
	if v := q.Get("max_bytes"); v != "" {
		if n, convErr := strconv.Atoi(v); convErr == nil {
			maxBytes = n
		}
	}
	consumer := q.Get("consumer")
	autoCommit := q.Get("auto_commit") == "true"
	group := q.Get("group")

	strategy, err := parsePollStrategy(q)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	start := time.Now()
	batches, err := topic.Poll(consumer, partitionID, strategy, count, maxBytes, autoCommit, group, sess.ClientID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	out := make([]polledMessage, 0, count)
	for _, b := range batches {
		msgs, err := streaming.UnbatchMessages(b, nil)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		for _, m := range msgs {
			headers := make(map[string]string, len(m.Headers))
			for name, hv := range m.Headers {
				headers[name] = string(hv.Value)
			}
			out = append(out, polledMessage{Offset: m.Offset, Timestamp: m.Timestamp, Payload: m.Payload, Headers: headers})
		}
	}
	s.metrics.RecordPoll(stream.Name, topic.Name, len(out), time.Since(start))

	writeJSON(w, http.StatusOK, out)
}

func parseUint32Query(q map[string][]string, key string) (uint32, error) {
	values, ok := q[key]
	if !ok || len(values) == 0 {
		return 0, streaming.ErrInvalidArgument
	}
	n, err := strconv.ParseUint(values[0], 10, 32)
	if err != nil {
		return 0, streaming.ErrInvalidArgument
	}
	return uint32(n), nil
}

func parsePollStrategy(q map[string][]string) (streaming.PollStrategy, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	switch get("strategy") {
	case "", "offset":
		offset, err := strconv.ParseUint(get("offset"), 10, 64)
		if err != nil {
			return streaming.PollStrategy{}, streaming.ErrInvalidArgument
		}
		return streaming.PollAtOffset(offset), nil
	case "first":
		return streaming.PollFirst(), nil
	case "last":
		return streaming.PollLast(), nil
	case "next":
		return streaming.PollNext(), nil
	case "timestamp":
		ts, err := strconv.ParseUint(get("timestamp"), 10, 64)
		if err != nil {
			return streaming.PollStrategy{}, streaming.ErrInvalidArgument
		}
		return streaming.PollAtTimestamp(ts), nil
	default:
		return streaming.PollStrategy{}, streaming.ErrInvalidArgument
	}
}
