// internal/streaming/stream.go
package streaming

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Stream owns a set of uniquely-named Topics. Streams are created and
// deleted only through the System registry; a Stream's name is unique
// across the whole system.
type Stream struct {
	ID   uint32
	Name string

	dir    string
	logger *zap.Logger

	mu          sync.RWMutex
	topics      map[uint32]*Topic
	byName      map[string]uint32
	nextTopicID uint32
	tombstoned  bool
}

// NewStream creates an empty stream rooted at dir.
func NewStream(id uint32, name, dir string, logger *zap.Logger) *Stream {
	return &Stream{
		ID:     id,
		Name:   name,
		dir:    dir,
		logger: logger,
		topics: make(map[uint32]*Topic),
		byName: make(map[string]uint32),
	}
}

// CreateTopic creates a new topic with a unique name within this stream.
func (s *Stream) CreateTopic(name string, config TopicConfig, compressor Compressor) (*Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tombstoned {
		return nil, ErrNotFound("stream " + s.Name)
	}
	if _, exists := s.byName[name]; exists {
		return nil, ErrAlreadyExists("topic " + name)
	}

	id := s.nextTopicID
	s.nextTopicID++

	topicDir := filepath.Join(s.dir, name)
	t, err := NewTopic(id, name, topicDir, config, compressor, s.logger)
	if err != nil {
		return nil, err
	}

	s.topics[id] = t
	s.byName[name] = id
	return t, nil
}

// GetTopic returns the topic with the given id.
func (s *Stream) GetTopic(id uint32) (*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tombstoned {
		return nil, ErrNotFound("stream " + s.Name)
	}
	t, ok := s.topics[id]
	if !ok || t.IsTombstoned() {
		return nil, ErrNotFound("topic")
	}
	return t, nil
}

// GetTopicByName returns the topic with the given name.
func (s *Stream) GetTopicByName(name string) (*Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tombstoned {
		return nil, ErrNotFound("stream " + s.Name)
	}
	id, ok := s.byName[name]
	if !ok || s.topics[id].IsTombstoned() {
		return nil, ErrNotFound("topic " + name)
	}
	return s.topics[id], nil
}

// DeleteTopic performs the same staged deletion as System.DeleteStream:
// tombstone the topic so concurrent lookups start failing immediately,
// release the stream lock before the I/O-bound close/unlink, then reacquire
// it to drop the topic from the registry.
func (s *Stream) DeleteTopic(id uint32) error {
	s.mu.Lock()
	t, ok := s.topics[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound("topic")
	}
	s.mu.Unlock()

	t.Tombstone()
	if err := t.Remove(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, id)
	delete(s.byName, t.Name)
	return nil
}

// Topics returns every topic currently owned by this stream.
func (s *Stream) Topics() []*Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	return out
}

// Tombstone marks the stream as deleted: further lookups fail with
// NotFound, but existing Topic/Partition objects remain usable until the
// System registry finishes draining and closing them.
func (s *Stream) Tombstone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tombstoned = true
}

// Close closes every topic owned by this stream. Segment files are left on
// disk; used for graceful shutdown, not deletion.
func (s *Stream) Close() error {
	for _, t := range s.Topics() {
		if err := t.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Remove closes every topic, unlinks its segment files, and removes the
// now-empty stream directory. Used when the stream itself is being deleted.
func (s *Stream) Remove() error {
	for _, t := range s.Topics() {
		if err := t.Remove(); err != nil {
			return err
		}
	}
	if s.dir == "" {
		return nil
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return ErrIO(s.dir, err)
	}
	return nil
}
