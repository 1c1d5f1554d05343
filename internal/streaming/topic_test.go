// internal/streaming/topic_test.go
package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTopic(t *testing.T, partitionCount int) *Topic {
	t.Helper()
	cfg := TopicConfig{PartitionCount: partitionCount, PartitionConfig: testPartitionConfig()}
	topic, err := NewTopic(0, "events", t.TempDir(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = topic.Close() })
	return topic
}

func TestTopic_Publish_RoundRobinsWithoutKey(t *testing.T) {
	topic := newTestTopic(t, 3)

	seen := make(map[uint32]bool)
	for i := 0; i < 6; i++ {
		pid, _, err := topic.Publish(nil, nil, []*Message{NewMessage([]byte("x"), nil)}, uint64(i+1))
		require.NoError(t, err)
		seen[pid] = true
	}
	assert.Len(t, seen, 3)
}

func TestTopic_Publish_SameKeyAlwaysSamePartition(t *testing.T) {
	topic := newTestTopic(t, 4)

	var partitions []uint32
	for i := 0; i < 5; i++ {
		pid, _, err := topic.Publish([]byte("order-42"), nil, []*Message{NewMessage([]byte("x"), nil)}, uint64(i+1))
		require.NoError(t, err)
		partitions = append(partitions, pid)
	}
	for _, pid := range partitions {
		assert.Equal(t, partitions[0], pid)
	}
}

func TestTopic_Publish_ExplicitPartitionID(t *testing.T) {
	topic := newTestTopic(t, 3)
	explicit := uint32(2)

	pid, _, err := topic.Publish(nil, &explicit, []*Message{NewMessage([]byte("x"), nil)}, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), pid)
}

func TestTopic_Poll_WithAutoCommitAdvancesOffset(t *testing.T) {
	topic := newTestTopic(t, 1)
	explicit := uint32(0)

	for i := 0; i < 3; i++ {
		_, _, err := topic.Publish(nil, &explicit, []*Message{NewMessage([]byte("x"), nil)}, uint64(i+1))
		require.NoError(t, err)
	}

	batches, err := topic.Poll("consumer-a", 0, PollFirst(), 10, 1<<20, true, "", 0)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	p, err := topic.Partition(0)
	require.NoError(t, err)
	offset, ok := p.ConsumerOffset("consumer-a")
	require.True(t, ok)
	assert.Equal(t, uint64(3), offset)
}

func TestTopic_Group_JoinAssignsPartitions(t *testing.T) {
	topic := newTestTopic(t, 2)
	g := topic.Group("workers")
	g.Join(100)
	g.Join(200)

	assert.True(t, g.Assignment(100, 0))
	assert.True(t, g.Assignment(200, 1))
}

func TestTopic_Poll_GatedByGroupAssignment(t *testing.T) {
	topic := newTestTopic(t, 2)
	explicit := uint32(0)
	_, _, err := topic.Publish(nil, &explicit, []*Message{NewMessage([]byte("x"), nil)}, 1)
	require.NoError(t, err)

	g := topic.Group("workers")
	g.Join(100)
	g.Join(200)
	require.True(t, g.Assignment(100, 0))

	_, err = topic.Poll("consumer-a", 0, PollFirst(), 10, 1<<20, true, "workers", 200)
	require.Error(t, err)
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, KindUnauthorized, sErr.Kind)

	batches, err := topic.Poll("consumer-a", 0, PollFirst(), 10, 1<<20, true, "workers", 100)
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestTopic_DeleteGroup(t *testing.T) {
	topic := newTestTopic(t, 1)
	g := topic.Group("workers")
	g.Join(1)
	topic.DeleteGroup("workers")

	fresh := topic.Group("workers")
	assert.Empty(t, fresh.Members())
}
