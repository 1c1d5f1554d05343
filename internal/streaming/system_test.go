// internal/streaming/system_test.go
package streaming

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSystemConfig(dir string) SystemConfig {
	return SystemConfig{
		DataDir:      dir,
		DefaultTopic: testTopicConfig(),
	}
}

func TestSystem_CreateStream_EnforcesUniqueName(t *testing.T) {
	sys := NewSystem(testSystemConfig(t.TempDir()), nil, zap.NewNop())

	_, err := sys.CreateStream("orders")
	require.NoError(t, err)

	_, err = sys.CreateStream("orders")
	assert.ErrorIs(t, err, ErrAlreadyExists("x"))
}

func TestSystem_DeleteStream_TombstonesAndRemoves(t *testing.T) {
	sys := NewSystem(testSystemConfig(t.TempDir()), nil, zap.NewNop())
	s, err := sys.CreateStream("orders")
	require.NoError(t, err)

	require.NoError(t, sys.DeleteStream(s.ID))

	_, err = sys.GetStream(s.ID)
	assert.ErrorIs(t, err, ErrNotFound("x"))

	_, err = s.CreateTopic("events", testTopicConfig(), nil)
	assert.ErrorIs(t, err, ErrNotFound("x"))
}

func TestSystem_DeleteStream_UnlinksSegmentFilesAndStreamDir(t *testing.T) {
	dir := t.TempDir()
	sys := NewSystem(testSystemConfig(dir), nil, zap.NewNop())
	s, err := sys.CreateStream("orders")
	require.NoError(t, err)
	topic, err := s.CreateTopic("events", testTopicConfig(), nil)
	require.NoError(t, err)

	explicit := uint32(0)
	_, _, err = topic.Publish(nil, &explicit, []*Message{NewMessage([]byte("hi"), nil)}, 1)
	require.NoError(t, err)

	streamDir := filepath.Join(dir, "streams", "orders")
	_, err = os.Stat(streamDir)
	require.NoError(t, err)

	require.NoError(t, sys.DeleteStream(s.ID))

	_, err = os.Stat(streamDir)
	assert.True(t, os.IsNotExist(err))
}

func TestSystem_Start_RecoversExistingData(t *testing.T) {
	dir := t.TempDir()
	cfg := testSystemConfig(dir)

	sys := NewSystem(cfg, nil, zap.NewNop())
	s, err := sys.CreateStream("orders")
	require.NoError(t, err)
	topic, err := s.CreateTopic("events", testTopicConfig(), nil)
	require.NoError(t, err)

	explicit := uint32(0)
	_, _, err = topic.Publish(nil, &explicit, []*Message{NewMessage([]byte("hello"), nil)}, 1)
	require.NoError(t, err)
	require.NoError(t, sys.Shutdown())

	reloaded := NewSystem(cfg, nil, zap.NewNop())
	require.NoError(t, reloaded.Start())

	recoveredStream, err := reloaded.GetStreamByName("orders")
	require.NoError(t, err)
	recoveredTopic, err := recoveredStream.GetTopicByName("events")
	require.NoError(t, err)
	assert.Equal(t, 2, recoveredTopic.PartitionCount())

	p, err := recoveredTopic.Partition(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), p.NextOffset())
}

func TestSystem_Start_EmptyDataDirIsFreshSystem(t *testing.T) {
	sys := NewSystem(testSystemConfig(t.TempDir()), nil, zap.NewNop())
	require.NoError(t, sys.Start())
	assert.Empty(t, sys.Streams())
}
