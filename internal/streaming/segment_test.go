// internal/streaming/segment_test.go
package streaming

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSegment(t *testing.T, dir string, baseOffset uint64) *Segment {
	t.Helper()
	logPath, indexPath, timeIndexPath := segmentFileNames(dir, baseOffset)
	seg, err := NewSegment(logPath, indexPath, timeIndexPath, baseOffset, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = seg.Close() })
	return seg
}

func appendBatch(t *testing.T, seg *Segment, relOffset uint32, payload string, ts uint64) {
	t.Helper()
	batch, err := NewMessagesBatch(seg.BaseOffset+uint64(relOffset), 0, []byte(payload))
	require.NoError(t, err)
	require.NoError(t, seg.Append(batch, ts))
}

func TestSegment_AppendAndReadRange(t *testing.T) {
	dir := t.TempDir()
	seg := newTestSegment(t, dir, 0)

	appendBatch(t, seg, 0, "batch-zero-payload", 100)
	appendBatch(t, seg, 1, "batch-one-payload", 200)
	appendBatch(t, seg, 2, "batch-two-payload", 300)

	batches, err := seg.ReadRange(0, 1<<20)
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, uint64(0), batches[0].BaseOffset)
	assert.Equal(t, uint64(1), batches[1].BaseOffset)
	assert.Equal(t, uint64(2), batches[2].BaseOffset)

	batches, err = seg.ReadRange(1, 1<<20)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, uint64(1), batches[0].BaseOffset)
}

func TestSegment_ReadRange_RespectsMaxBytesButReturnsAtLeastOne(t *testing.T) {
	dir := t.TempDir()
	seg := newTestSegment(t, dir, 0)

	appendBatch(t, seg, 0, "0123456789", 1)
	appendBatch(t, seg, 1, "0123456789", 2)

	batches, err := seg.ReadRange(0, 1)
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestSegment_Append_FailsOnClosed(t *testing.T) {
	dir := t.TempDir()
	seg := newTestSegment(t, dir, 0)
	require.NoError(t, seg.Close())

	batch, err := NewMessagesBatch(0, 0, []byte("x"))
	require.NoError(t, err)
	err = seg.Append(batch, 1)
	assert.ErrorIs(t, err, ErrSegmentClosed)
}

func TestSegment_Close_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	seg := newTestSegment(t, dir, 0)
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())
}

func TestSegment_ShouldRoll_BySize(t *testing.T) {
	dir := t.TempDir()
	seg := newTestSegment(t, dir, 0)
	appendBatch(t, seg, 0, "0123456789", 1)

	assert.False(t, seg.ShouldRoll(5, 1<<20, time.Hour))
	assert.True(t, seg.ShouldRoll(5, seg.CurrentSizeBytes(), time.Hour))
}

func TestSegment_ShouldRoll_ByAge(t *testing.T) {
	dir := t.TempDir()
	seg := newTestSegment(t, dir, 0)
	seg.CreatedAt = time.Now().Add(-2 * time.Hour)

	assert.True(t, seg.ShouldRoll(10, 1<<20, time.Hour))
}

func TestLoadSegment_RebuildsFromIndex(t *testing.T) {
	dir := t.TempDir()
	logPath, indexPath, timeIndexPath := segmentFileNames(dir, 0)

	seg, err := NewSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	appendBatch(t, seg, 0, "first-batch", 10)
	appendBatch(t, seg, 1, "second-batch", 20)
	require.NoError(t, seg.Close())

	reloaded, err := LoadSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })

	assert.Equal(t, uint64(2), reloaded.NextOffset())
	batches, err := reloaded.ReadRange(0, 1<<20)
	require.NoError(t, err)
	require.Len(t, batches, 2)
}

func TestLoadSegment_RebuildsFromLogWhenIndexMissing(t *testing.T) {
	dir := t.TempDir()
	logPath, indexPath, timeIndexPath := segmentFileNames(dir, 0)

	seg, err := NewSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	appendBatch(t, seg, 0, "only-batch", 10)
	require.NoError(t, seg.Close())
	require.NoError(t, os.Remove(indexPath))

	reloaded, err := LoadSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })

	assert.Equal(t, uint64(1), reloaded.NextOffset())
	batches, err := reloaded.ReadRange(0, 1<<20)
	require.NoError(t, err)
	require.Len(t, batches, 1)
}

func TestLoadSegment_TruncatesPartialTrailingWrite(t *testing.T) {
	dir := t.TempDir()
	logPath, indexPath, timeIndexPath := segmentFileNames(dir, 0)

	seg, err := NewSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	appendBatch(t, seg, 0, "complete-batch", 10)
	require.NoError(t, seg.Close())
	require.NoError(t, os.Remove(indexPath))

	f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	partial := make([]byte, batchHeaderSize)
	binary.LittleEndian.PutUint64(partial[0:], 1)
	binary.LittleEndian.PutUint32(partial[8:], batchHeaderSize+100)
	binary.LittleEndian.PutUint32(partial[12:], 0)
	_, err = f.Write(partial)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reloaded, err := LoadSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })

	assert.Equal(t, uint64(1), reloaded.NextOffset())
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.EqualValues(t, reloaded.CurrentSizeBytes(), info.Size())
}

func TestLoadSegment_RescansStaleIndexAfterReopenAndAppend(t *testing.T) {
	dir := t.TempDir()
	logPath, indexPath, timeIndexPath := segmentFileNames(dir, 0)

	seg, err := NewSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	appendBatch(t, seg, 0, "first-batch", 10)
	require.NoError(t, seg.Close())
	// index now on disk, valid and well-formed, covering exactly one batch.

	reopened, err := LoadSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	appendBatch(t, reopened, 1, "second-batch", 20)
	appendBatch(t, reopened, 2, "third-batch", 30)
	// Simulate a crash: the process dies without calling Close again, so the
	// on-disk index still only reflects the first batch even though the log
	// file now holds three.
	require.NoError(t, reopened.writer.Flush())
	require.NoError(t, reopened.logFile.Close())

	reloaded, err := LoadSegment(logPath, indexPath, timeIndexPath, 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reloaded.Close() })

	assert.Equal(t, uint64(3), reloaded.NextOffset())
	batches, err := reloaded.ReadRange(0, 1<<20)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	// the rescanned index was persisted, so a third load sees it directly.
	data, err := os.ReadFile(indexPath)
	require.NoError(t, err)
	assert.Len(t, data, 3*indexEntrySize)
}

func TestSegment_FindByTimestamp(t *testing.T) {
	dir := t.TempDir()
	seg := newTestSegment(t, dir, 0)

	appendBatch(t, seg, 0, "a", 100)
	appendBatch(t, seg, 1, "b", 200)
	appendBatch(t, seg, 2, "c", 300)

	offset, ok := seg.FindByTimestamp(150)
	require.True(t, ok)
	assert.Equal(t, uint64(1), offset)

	_, ok = seg.FindByTimestamp(1000)
	assert.False(t, ok)
}

func TestSegmentFileNames(t *testing.T) {
	logPath, indexPath, timeIndexPath := segmentFileNames("/data/part-0", 42)
	assert.Equal(t, filepath.ToSlash("/data/part-0/00000000000000000042.log"), filepath.ToSlash(logPath))
	assert.Equal(t, filepath.ToSlash("/data/part-0/00000000000000000042.index"), filepath.ToSlash(indexPath))
	assert.Equal(t, filepath.ToSlash("/data/part-0/00000000000000000042.timeindex"), filepath.ToSlash(timeIndexPath))
}
