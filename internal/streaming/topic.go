// internal/streaming/topic.go
package streaming

import (
	"hash/fnv"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// TopicConfig configures how a topic's partitions store and compress data.
type TopicConfig struct {
	PartitionCount       int
	PartitionConfig      PartitionConfig
	CompressionAlgorithm CompressionAlgorithm
}

// Topic owns a fixed set of Partitions and the consumer groups that poll
// them. Its name is unique within the owning Stream; its partition count
// is fixed at creation.
type Topic struct {
	ID   uint32
	Name string

	dir        string
	partitions []*Partition
	roundRobin uint64 // atomic counter for nil-key publishes

	groupsMu sync.RWMutex
	groups   map[string]*ConsumerGroup

	mu         sync.Mutex
	tombstoned bool

	logger *zap.Logger
}

// NewTopic creates a topic with the given number of partitions, each
// rooted at its own directory under dir.
func NewTopic(id uint32, name string, dir string, config TopicConfig, compressor Compressor, logger *zap.Logger) (*Topic, error) {
	t := &Topic{
		ID:     id,
		Name:   name,
		dir:    dir,
		groups: make(map[string]*ConsumerGroup),
		logger: logger,
	}
	for i := 0; i < config.PartitionCount; i++ {
		p, err := NewPartition(uint32(i), PartitionDir(dir, uint32(i)), config.PartitionConfig, compressor, logger)
		if err != nil {
			return nil, err
		}
		t.partitions = append(t.partitions, p)
	}
	return t, nil
}

// PartitionCount returns the fixed number of partitions this topic owns.
func (t *Topic) PartitionCount() int { return len(t.partitions) }

// Partition returns the partition with the given id.
func (t *Topic) Partition(id uint32) (*Partition, error) {
	if int(id) >= len(t.partitions) {
		return nil, ErrNotFound("partition")
	}
	return t.partitions[id], nil
}

// selectPartition resolves a publish target: an explicit id wins, then a
// key hashed mod partition count, then round-robin.
func (t *Topic) selectPartition(key []byte, explicitID *uint32) *Partition {
	n := uint32(len(t.partitions))
	switch {
	case explicitID != nil:
		return t.partitions[*explicitID%n]
	case len(key) > 0:
		h := fnv.New32a()
		_, _ = h.Write(key)
		return t.partitions[h.Sum32()%n]
	default:
		idx := atomic.AddUint64(&t.roundRobin, 1) - 1
		return t.partitions[uint32(idx)%n]
	}
}

// Publish selects a partition for the batch of messages (by explicit id,
// hashed key, or round-robin) and appends them to it, returning the
// assigned offsets.
func (t *Topic) Publish(key []byte, explicitPartitionID *uint32, messages []*Message, now uint64) (partitionID uint32, offsets []uint64, err error) {
	p := t.selectPartition(key, explicitPartitionID)
	offsets, err = p.AppendMessages(messages, now)
	if err != nil {
		return 0, nil, err
	}
	return p.ID, offsets, nil
}

// Poll resolves a starting offset for the given strategy on one partition
// and reads forward from it. consumer identifies the caller for Next/
// auto-commit purposes; autoCommit advances the stored consumer offset
// past the last message returned. When group is non-empty, partitionID
// must currently be assigned to clientID within that group: a group's
// offset only ever advances from the one member the group assigned to
// that partition, so an unassigned member's poll is refused rather than
// racing the assigned member's.
func (t *Topic) Poll(consumer string, partitionID uint32, strategy PollStrategy, count int, maxBytes int, autoCommit bool, group string, clientID uint32) ([]*MessagesBatch, error) {
	if group != "" && !t.Group(group).Assignment(clientID, partitionID) {
		return nil, ErrUnauthorized
	}

	p, err := t.Partition(partitionID)
	if err != nil {
		return nil, err
	}

	fromOffset := p.Resolve(strategy, consumer)
	batches, lastOffset, err := t.readFrom(p, strategy, fromOffset, count, maxBytes)
	if err != nil {
		return nil, err
	}

	if autoCommit && len(batches) > 0 {
		if err := p.StoreConsumerOffset(consumer, lastOffset+1); err != nil {
			return nil, err
		}
	}
	return batches, nil
}

func (t *Topic) readFrom(p *Partition, strategy PollStrategy, fromOffset uint64, count, maxBytes int) ([]*MessagesBatch, uint64, error) {
	if strategy.kind == pollTimestamp {
		return p.ReadByTimestamp(strategy.timestamp, count, maxBytes)
	}
	return p.Read(fromOffset, count, maxBytes)
}

// Group returns the named consumer group, creating it if it does not yet
// exist, assigning partitions across its members as they join.
func (t *Topic) Group(name string) *ConsumerGroup {
	t.groupsMu.Lock()
	defer t.groupsMu.Unlock()
	g, ok := t.groups[name]
	if !ok {
		g = newConsumerGroup(name, len(t.partitions))
		t.groups[name] = g
	}
	return g
}

// DeleteGroup removes a consumer group and its assignments.
func (t *Topic) DeleteGroup(name string) {
	t.groupsMu.Lock()
	defer t.groupsMu.Unlock()
	delete(t.groups, name)
}

// Close closes every partition owned by this topic.
func (t *Topic) Close() error {
	for _, p := range t.partitions {
		if err := p.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Tombstone marks the topic as deleted: Stream.GetTopic/GetTopicByName
// start rejecting lookups for it immediately, while the Partition/Segment
// objects it still holds remain valid for whatever in-flight operation is
// currently using them until Remove finishes.
func (t *Topic) Tombstone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tombstoned = true
}

// IsTombstoned reports whether Tombstone has been called.
func (t *Topic) IsTombstoned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tombstoned
}

// Remove closes every partition and unlinks its segment files, then removes
// the now-empty topic directory.
func (t *Topic) Remove() error {
	for _, p := range t.partitions {
		if err := p.Remove(); err != nil {
			return err
		}
	}
	if t.dir == "" {
		return nil
	}
	if err := os.RemoveAll(t.dir); err != nil {
		return ErrIO(t.dir, err)
	}
	return nil
}
