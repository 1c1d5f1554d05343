package binary

import (
	"time"

	"github.com/corvidstream/broker/internal/streaming"
)

// dispatch routes one command frame to the matching core operation.
// sess is mutated in place by Login/Logout; every other command reads it.
func (s *Server) dispatch(sess *streaming.Session, command uint32, payload []byte) ([]byte, error) {
	if command == CommandPing {
		return nil, nil
	}
	if command == CommandLogin {
		return s.handleLogin(sess, payload)
	}
	if err := sess.RequireAuthenticated(); err != nil {
		return nil, err
	}

	switch command {
	case CommandCreateStream:
		return s.handleCreateStream(sess, payload)
	case CommandDeleteStream:
		return s.handleDeleteStream(sess, payload)
	case CommandCreateTopic:
		return s.handleCreateTopic(sess, payload)
	case CommandDeleteTopic:
		return s.handleDeleteTopic(sess, payload)
	case CommandPublish:
		return s.handlePublish(sess, payload)
	case CommandPoll:
		return s.handlePoll(sess, payload)
	case CommandStoreOffset:
		return s.handleStoreOffset(sess, payload)
	case CommandGetOffset:
		return s.handleGetOffset(sess, payload)
	case CommandJoinGroup:
		return s.handleJoinGroup(sess, payload)
	case CommandLeaveGroup:
		return s.handleLeaveGroup(sess, payload)
	default:
		return nil, streaming.ErrFeatureUnavailable
	}
}

func (s *Server) handleLogin(sess *streaming.Session, payload []byte) ([]byte, error) {
	r := newReader(payload)
	username, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	password, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	clientID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	userID, err := s.auth.VerifyPassword(username, password)
	if err != nil {
		return nil, streaming.ErrUnauthenticated
	}
	token, err := s.auth.IssueAccessToken(userID, clientID)
	if err != nil {
		return nil, streaming.ErrIO("access_token", err)
	}

	sess.UserID = userID
	sess.ClientID = clientID
	sess.Authenticated = true

	var w writer
	w.putString(token)
	return w.bytesOut(), nil
}

func (s *Server) handleCreateStream(sess *streaming.Session, payload []byte) ([]byte, error) {
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("create_stream")
		return nil, streaming.ErrUnauthorized
	}
	r := newReader(payload)
	name, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	stream, err := s.system.CreateStream(name)
	if err != nil {
		return nil, err
	}
	var w writer
	w.putUint32(stream.ID)
	return w.bytesOut(), nil
}

func (s *Server) handleDeleteStream(sess *streaming.Session, payload []byte) ([]byte, error) {
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("delete_stream")
		return nil, streaming.ErrUnauthorized
	}
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	return nil, s.system.DeleteStream(streamID)
}

func (s *Server) handleCreateTopic(sess *streaming.Session, payload []byte) ([]byte, error) {
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("create_topic")
		return nil, streaming.ErrUnauthorized
	}
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	name, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	partitionCount, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	maxSegmentSize, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	maxSegmentAgeSeconds, err := r.uint64()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	stream, err := s.system.GetStream(streamID)
	if err != nil {
		return nil, err
	}

	def := streaming.DefaultPartitionConfig()
	if maxSegmentSize > 0 {
		def.MaxSegmentSize = maxSegmentSize
	}
	if maxSegmentAgeSeconds > 0 {
		def.MaxSegmentAge = time.Duration(maxSegmentAgeSeconds) * time.Second
	}
	cfg := streaming.TopicConfig{PartitionCount: int(partitionCount), PartitionConfig: def}

	topic, err := stream.CreateTopic(name, cfg, nil)
	if err != nil {
		return nil, err
	}
	var w writer
	w.putUint32(topic.ID)
	return w.bytesOut(), nil
}

func (s *Server) handleDeleteTopic(sess *streaming.Session, payload []byte) ([]byte, error) {
	if !s.authz.CanManageServers(sess.UserID) {
		s.metrics.RecordPermissionDenied("delete_topic")
		return nil, streaming.ErrUnauthorized
	}
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	topicID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	stream, err := s.system.GetStream(streamID)
	if err != nil {
		return nil, err
	}
	return nil, stream.DeleteTopic(topicID)
}

func (s *Server) resolveTopic(streamID, topicID uint32) (*streaming.Stream, *streaming.Topic, error) {
	stream, err := s.system.GetStream(streamID)
	if err != nil {
		return nil, nil, err
	}
	topic, err := stream.GetTopic(topicID)
	if err != nil {
		return nil, nil, err
	}
	return stream, topic, nil
}

func (s *Server) handlePublish(sess *streaming.Session, payload []byte) ([]byte, error) {
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	if !s.authz.CanSend(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("publish")
		return nil, streaming.ErrUnauthorized
	}
	topicID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	key, err := r.bytes()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	hasPartitionID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	explicitPartitionID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	var partitionIDPtr *uint32
	if hasPartitionID != 0 {
		partitionIDPtr = &explicitPartitionID
	}

	messageCount, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	messages := make([]*streaming.Message, 0, messageCount)
	for i := uint32(0); i < messageCount; i++ {
		msgPayload, err := r.bytes()
		if err != nil {
			return nil, streaming.ErrInvalidArgument
		}
		headerCount, err := r.uint32()
		if err != nil {
			return nil, streaming.ErrInvalidArgument
		}
		headers := make(map[string]streaming.HeaderValue, headerCount)
		for j := uint32(0); j < headerCount; j++ {
			name, err := r.string()
			if err != nil {
				return nil, streaming.ErrInvalidArgument
			}
			value, err := r.bytes()
			if err != nil {
				return nil, streaming.ErrInvalidArgument
			}
			headers[name] = streaming.HeaderValue{Kind: streaming.HeaderBytes, Value: value}
		}
		messages = append(messages, streaming.NewMessage(msgPayload, headers))
	}

	stream, topic, err := s.resolveTopic(streamID, topicID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	partitionID, offsets, err := topic.Publish(key, partitionIDPtr, messages, uint64(time.Now().UnixMicro()))
	if err != nil {
		return nil, err
	}
	s.metrics.RecordPublish(stream.Name, topic.Name, len(messages), time.Since(start))

	var w writer
	w.putUint32(partitionID)
	w.putUint32(uint32(len(offsets)))
	for _, o := range offsets {
		w.putUint64(o)
	}
	return w.bytesOut(), nil
}

func (s *Server) handlePoll(sess *streaming.Session, payload []byte) ([]byte, error) {
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("poll")
		return nil, streaming.ErrUnauthorized
	}
	topicID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	partitionID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	strategyKind, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	strategyValue, err := r.uint64()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	count, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	maxBytes, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	consumer, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	autoCommitFlag, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	group, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	strategy, err := decodeStrategy(strategyKind, strategyValue)
	if err != nil {
		return nil, err
	}

	stream, topic, err := s.resolveTopic(streamID, topicID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	batches, err := topic.Poll(consumer, partitionID, strategy, int(count), int(maxBytes), autoCommitFlag != 0, group, sess.ClientID)
	if err != nil {
		return nil, err
	}

	var w writer
	total := 0
	var body writer
	for _, b := range batches {
		msgs, err := streaming.UnbatchMessages(b, nil)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			body.putUint64(m.Offset)
			body.putUint64(m.Timestamp)
			body.putBytes(m.Payload)
			body.putUint32(uint32(len(m.Headers)))
			for name, hv := range m.Headers {
				body.putString(name)
				body.putBytes(hv.Value)
			}
			total++
		}
	}
	w.putUint32(uint32(total))
	w.buf = append(w.buf, body.bytesOut()...)
	s.metrics.RecordPoll(stream.Name, topic.Name, total, time.Since(start))
	return w.bytesOut(), nil
}

func decodeStrategy(kind uint32, value uint64) (streaming.PollStrategy, error) {
	switch kind {
	case 0:
		return streaming.PollAtOffset(value), nil
	case 1:
		return streaming.PollFirst(), nil
	case 2:
		return streaming.PollLast(), nil
	case 3:
		return streaming.PollNext(), nil
	case 4:
		return streaming.PollAtTimestamp(value), nil
	default:
		return streaming.PollStrategy{}, streaming.ErrInvalidArgument
	}
}

func (s *Server) handleStoreOffset(sess *streaming.Session, payload []byte) ([]byte, error) {
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("store_offset")
		return nil, streaming.ErrUnauthorized
	}
	topicID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	partitionID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	consumer, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	offset, err := r.uint64()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	group, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	_, topic, err := s.resolveTopic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	if group != "" && !topic.Group(group).Assignment(sess.ClientID, partitionID) {
		s.metrics.RecordPermissionDenied("store_offset")
		return nil, streaming.ErrUnauthorized
	}
	partition, err := topic.Partition(partitionID)
	if err != nil {
		return nil, err
	}
	return nil, partition.StoreConsumerOffset(consumer, offset)
}

func (s *Server) handleGetOffset(sess *streaming.Session, payload []byte) ([]byte, error) {
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("get_offset")
		return nil, streaming.ErrUnauthorized
	}
	topicID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	partitionID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	consumer, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	_, topic, err := s.resolveTopic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	partition, err := topic.Partition(partitionID)
	if err != nil {
		return nil, err
	}

	offset, ok := partition.ConsumerOffset(consumer)
	var w writer
	w.putUint64(offset)
	if ok {
		w.putUint32(1)
	} else {
		w.putUint32(0)
	}
	return w.bytesOut(), nil
}

func (s *Server) handleJoinGroup(sess *streaming.Session, payload []byte) ([]byte, error) {
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("join_group")
		return nil, streaming.ErrUnauthorized
	}
	topicID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	group, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	_, topic, err := s.resolveTopic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	topic.Group(group).Join(sess.ClientID)
	return nil, nil
}

func (s *Server) handleLeaveGroup(sess *streaming.Session, payload []byte) ([]byte, error) {
	r := newReader(payload)
	streamID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	if !s.authz.CanPoll(sess.UserID, streamID) {
		s.metrics.RecordPermissionDenied("leave_group")
		return nil, streaming.ErrUnauthorized
	}
	topicID, err := r.uint32()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}
	group, err := r.string()
	if err != nil {
		return nil, streaming.ErrInvalidArgument
	}

	_, topic, err := s.resolveTopic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	topic.Group(group).Leave(sess.ClientID)
	return nil, nil
}
