// internal/streaming/system.go
package streaming

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// SystemConfig controls defaults used for streams/topics created through
// the registry, and the root directory all of them live under.
type SystemConfig struct {
	DataDir        string
	DefaultTopic   TopicConfig
	CompressionAlg CompressionAlgorithm
}

// System is the single registry owning every Stream. It creates and
// deletes streams; topics are created and deleted through the owning
// Stream, and a topic's partition count is fixed when the topic is
// created (System has no topic or partition operations of its own). It
// is also responsible for scanning the data directory at startup and
// reconstructing every Stream/Topic/Partition/Segment found there.
type System struct {
	config     SystemConfig
	compressor Compressor
	logger     *zap.Logger

	mu          sync.RWMutex
	streams     map[uint32]*Stream
	byName      map[string]uint32
	nextStreamID uint32
}

// NewSystem creates an empty registry. Use Start to populate it from an
// existing data directory, or CreateStream to build one up from scratch.
func NewSystem(config SystemConfig, compressor Compressor, logger *zap.Logger) *System {
	return &System{
		config:     config,
		compressor: compressor,
		logger:     logger,
		streams:    make(map[uint32]*Stream),
		byName:     make(map[string]uint32),
	}
}

// CreateStream creates a new stream with a globally unique name.
func (sys *System) CreateStream(name string) (*Stream, error) {
	sys.mu.Lock()
	defer sys.mu.Unlock()

	if _, exists := sys.byName[name]; exists {
		return nil, ErrAlreadyExists("stream " + name)
	}

	id := sys.nextStreamID
	sys.nextStreamID++

	dir := filepath.Join(sys.config.DataDir, "streams", name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ErrIO(dir, err)
	}

	s := NewStream(id, name, dir, sys.logger)
	sys.streams[id] = s
	sys.byName[name] = id
	return s, nil
}

// GetStream returns the stream with the given id.
func (sys *System) GetStream(id uint32) (*Stream, error) {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	s, ok := sys.streams[id]
	if !ok {
		return nil, ErrNotFound("stream")
	}
	return s, nil
}

// GetStreamByName returns the stream with the given name.
func (sys *System) GetStreamByName(name string) (*Stream, error) {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	id, ok := sys.byName[name]
	if !ok {
		return nil, ErrNotFound("stream " + name)
	}
	return sys.streams[id], nil
}

// DeleteStream performs the staged deletion described for the registry:
// tombstone first so new operations are rejected, then remove every topic
// (which closes and unlinks every partition's segment log/index/time-index
// files via Topic.Remove/Partition.Remove/Segment.Remove), then remove from
// the registry.
func (sys *System) DeleteStream(id uint32) error {
	sys.mu.Lock()
	s, ok := sys.streams[id]
	if !ok {
		sys.mu.Unlock()
		return ErrNotFound("stream")
	}
	sys.mu.Unlock()

	s.Tombstone()
	if err := s.Remove(); err != nil {
		return err
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()
	delete(sys.streams, id)
	delete(sys.byName, s.Name)
	return nil
}

// Streams returns every stream currently registered.
func (sys *System) Streams() []*Stream {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	out := make([]*Stream, 0, len(sys.streams))
	for _, s := range sys.streams {
		out = append(out, s)
	}
	return out
}

// Shutdown closes every stream in the registry, flushing and closing all
// of their segments.
func (sys *System) Shutdown() error {
	for _, s := range sys.Streams() {
		if err := s.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Start scans DataDir/streams for previously-created streams, topics, and
// partitions and reconstructs them in memory, recovering each partition's
// segments from disk before accept opens. A data directory that does not
// yet exist is treated as a fresh, empty system.
func (sys *System) Start() error {
	streamsDir := filepath.Join(sys.config.DataDir, "streams")
	streamEntries, err := os.ReadDir(streamsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return ErrIO(streamsDir, err)
	}

	sys.mu.Lock()
	defer sys.mu.Unlock()

	for _, se := range streamEntries {
		if !se.IsDir() {
			continue
		}
		streamName := se.Name()
		streamDir := filepath.Join(streamsDir, streamName)

		id := sys.nextStreamID
		sys.nextStreamID++
		stream := NewStream(id, streamName, streamDir, sys.logger)

		if err := sys.loadTopics(stream, streamDir); err != nil {
			return err
		}

		sys.streams[id] = stream
		sys.byName[streamName] = id
	}
	return nil
}

func (sys *System) loadTopics(stream *Stream, streamDir string) error {
	topicEntries, err := os.ReadDir(streamDir)
	if err != nil {
		return ErrIO(streamDir, err)
	}

	for _, te := range topicEntries {
		if !te.IsDir() {
			continue
		}
		topicName := te.Name()
		topicDir := filepath.Join(streamDir, topicName)

		partitionIDs, err := partitionIDsIn(topicDir)
		if err != nil {
			return err
		}

		topicID := stream.nextTopicID
		stream.nextTopicID++
		topic := &Topic{
			ID:     topicID,
			Name:   topicName,
			dir:    topicDir,
			groups: make(map[string]*ConsumerGroup),
			logger: sys.logger,
		}

		for _, pid := range partitionIDs {
			partitionDir := PartitionDir(topicDir, pid)
			baseOffsets, err := segmentBaseOffsetsIn(partitionDir)
			if err != nil {
				return err
			}
			p, err := LoadPartition(pid, partitionDir, baseOffsets, sys.config.DefaultTopic.PartitionConfig, sys.compressor, sys.logger)
			if err != nil {
				return err
			}
			topic.partitions = append(topic.partitions, p)
		}

		stream.topics[topicID] = topic
		stream.byName[topicName] = topicID
	}
	return nil
}

func partitionIDsIn(topicDir string) ([]uint32, error) {
	entries, err := os.ReadDir(topicDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrIO(topicDir, err)
	}

	var ids []uint32
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "partition_") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(e.Name(), "partition_"), 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(n))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func segmentBaseOffsetsIn(partitionDir string) ([]uint64, error) {
	entries, err := os.ReadDir(partitionDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrIO(partitionDir, err)
	}

	var bases []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			continue
		}
		bases = append(bases, n)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}
