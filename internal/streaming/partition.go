// internal/streaming/partition.go
package streaming

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PollStrategy selects where a poll starts reading from.
type PollStrategy struct {
	kind      pollStrategyKind
	offset    uint64
	timestamp uint64
}

type pollStrategyKind int

const (
	pollOffset pollStrategyKind = iota
	pollFirst
	pollLast
	pollNext
	pollTimestamp
)

func PollAtOffset(offset uint64) PollStrategy { return PollStrategy{kind: pollOffset, offset: offset} }
func PollFirst() PollStrategy                 { return PollStrategy{kind: pollFirst} }
func PollLast() PollStrategy                  { return PollStrategy{kind: pollLast} }
func PollNext() PollStrategy                  { return PollStrategy{kind: pollNext} }
func PollAtTimestamp(ts uint64) PollStrategy  { return PollStrategy{kind: pollTimestamp, timestamp: ts} }

// PartitionConfig controls segment rolling and append backpressure for a
// single partition.
type PartitionConfig struct {
	MaxSegmentSize       uint32
	MaxSegmentAge        time.Duration
	MaxInFlightBytesPerS int
	CompressionThreshold int
}

func DefaultPartitionConfig() PartitionConfig {
	return PartitionConfig{
		MaxSegmentSize:       1 << 30, // 1 GiB
		MaxSegmentAge:        7 * 24 * time.Hour,
		MaxInFlightBytesPerS: 64 << 20, // 64 MiB/s
		CompressionThreshold: 256,
	}
}

// Partition is an ordered, append-only sequence of messages split across
// Segments. It is the unit of ordering and storage: a Topic fans out
// publishes across its partitions, but within one partition offsets are
// strictly monotonic.
type Partition struct {
	ID         uint32
	dir        string
	config     PartitionConfig
	compressor Compressor
	logger     *zap.Logger

	writeMu       sync.Mutex
	nextOffset    uint64
	lastTimestamp uint64
	segments      []*Segment // ordered by BaseOffset ascending; last is active

	limiter *rate.Limiter

	offsetsMu       sync.RWMutex
	consumerOffsets map[string]uint64
}

// NewPartition creates an empty partition rooted at dir, starting at
// offset 0 with a single active segment.
func NewPartition(id uint32, dir string, config PartitionConfig, compressor Compressor, logger *zap.Logger) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ErrIO(dir, err)
	}
	logPath, indexPath, timeIndexPath := segmentFileNames(dir, 0)
	seg, err := NewSegment(logPath, indexPath, timeIndexPath, 0, logger)
	if err != nil {
		return nil, err
	}
	return &Partition{
		ID:              id,
		dir:             dir,
		config:          config,
		compressor:      compressor,
		logger:          logger,
		segments:        []*Segment{seg},
		limiter:         rate.NewLimiter(rate.Limit(config.MaxInFlightBytesPerS), config.MaxInFlightBytesPerS),
		consumerOffsets: make(map[string]uint64),
	}, nil
}

// LoadPartition reopens a partition from disk, recovering every segment
// found under dir (per Segment.Load's own recovery) in base-offset order.
func LoadPartition(id uint32, dir string, baseOffsets []uint64, config PartitionConfig, compressor Compressor, logger *zap.Logger) (*Partition, error) {
	sort.Slice(baseOffsets, func(i, j int) bool { return baseOffsets[i] < baseOffsets[j] })

	p := &Partition{
		ID:              id,
		dir:             dir,
		config:          config,
		compressor:      compressor,
		logger:          logger,
		limiter:         rate.NewLimiter(rate.Limit(config.MaxInFlightBytesPerS), config.MaxInFlightBytesPerS),
		consumerOffsets: make(map[string]uint64),
	}

	if len(baseOffsets) == 0 {
		logPath, indexPath, timeIndexPath := segmentFileNames(dir, 0)
		seg, err := NewSegment(logPath, indexPath, timeIndexPath, 0, logger)
		if err != nil {
			return nil, err
		}
		p.segments = []*Segment{seg}
		return p, nil
	}

	for _, base := range baseOffsets {
		logPath, indexPath, timeIndexPath := segmentFileNames(dir, base)
		seg, err := LoadSegment(logPath, indexPath, timeIndexPath, base, logger)
		if err != nil {
			return nil, err
		}
		p.segments = append(p.segments, seg)
	}
	p.nextOffset = p.segments[len(p.segments)-1].NextOffset()
	return p, nil
}

// AppendMessages assigns contiguous offsets and a monotonic timestamp to
// each message, batches them, and appends to the active segment, rolling
// to a new segment first if needed.
func (p *Partition) AppendMessages(messages []*Message, now uint64) ([]uint64, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	approxSize := 0
	for _, m := range messages {
		approxSize += len(m.Payload) + 64
	}
	if !p.limiter.AllowN(time.Now(), approxSize) {
		return nil, ErrBackpressured
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	baseOffset := p.nextOffset
	ts := p.nextTimestampLocked(now)
	for i, m := range messages {
		m.Offset = baseOffset + uint64(i)
		m.Timestamp = ts
		m.Checksum = m.computeChecksum()
	}

	batch, err := BatchMessages(baseOffset, messages, p.compressor, p.config.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	active := p.segments[len(p.segments)-1]
	if active.CurrentSizeBytes() > 0 && active.ShouldRoll(len(EncodeBatch(batch)), p.config.MaxSegmentSize, p.config.MaxSegmentAge) {
		active, err = p.rollLocked()
		if err != nil {
			return nil, err
		}
	}

	if err := active.Append(batch, ts); err != nil {
		return nil, err
	}

	p.nextOffset = baseOffset + uint64(len(messages))

	offsets := make([]uint64, len(messages))
	for i, m := range messages {
		offsets[i] = m.Offset
	}
	return offsets, nil
}

// nextTimestampLocked returns now, unless the broker clock has regressed
// since the last append, in which case it reuses the last emitted
// timestamp so offsets never observe a timestamp decrease. Callers must
// hold writeMu.
func (p *Partition) nextTimestampLocked(now uint64) uint64 {
	if now <= p.lastTimestamp {
		return p.lastTimestamp
	}
	p.lastTimestamp = now
	return now
}

func (p *Partition) rollLocked() (*Segment, error) {
	active := p.segments[len(p.segments)-1]
	if err := active.Close(); err != nil {
		return nil, err
	}
	logPath, indexPath, timeIndexPath := segmentFileNames(p.dir, p.nextOffset)
	seg, err := NewSegment(logPath, indexPath, timeIndexPath, p.nextOffset, p.logger)
	if err != nil {
		return nil, err
	}
	p.segments = append(p.segments, seg)
	p.logger.Info("rolled segment",
		zap.Uint32("partition", p.ID),
		zap.Uint64("new_base_offset", p.nextOffset))
	return seg, nil
}

// Read returns up to count messages starting at fromOffset (across
// multiple segments if needed), stopping once maxBytes worth of batches
// have been read, plus the offset of the last included message.
func (p *Partition) Read(fromOffset uint64, count int, maxBytes int) ([]*MessagesBatch, uint64, error) {
	p.writeMu.Lock()
	segs := make([]*Segment, len(p.segments))
	copy(segs, p.segments)
	p.writeMu.Unlock()

	if len(segs) > 0 && fromOffset < segs[0].BaseOffset {
		return nil, 0, fmt.Errorf("%w: offset %d precedes retained range starting at %d", ErrOffsetOutOfRange, fromOffset, segs[0].BaseOffset)
	}

	startIdx := sort.Search(len(segs), func(i int) bool {
		return i == len(segs)-1 || segs[i+1].BaseOffset > fromOffset
	})

	var out []*MessagesBatch
	var lastOffset uint64
	collected := 0
	bytesUsed := 0

	for i := startIdx; i < len(segs) && collected < count && bytesUsed < maxBytes; i++ {
		batches, err := segs[i].ReadRange(fromOffset, maxBytes-bytesUsed)
		if err != nil {
			return nil, 0, err
		}
		for _, b := range batches {
			out = append(out, b)
			lastOffset = b.LastOffset()
			collected += int(b.LastOffsetDelta) + 1
			bytesUsed += len(EncodeBatch(b))
			if collected >= count {
				break
			}
		}
	}
	return out, lastOffset, nil
}

// ReadByTimestamp locates the earliest batch whose sampled timestamp is at
// or after ts by checking segment time indexes in order, then reads
// forward from that offset.
func (p *Partition) ReadByTimestamp(ts uint64, count int, maxBytes int) ([]*MessagesBatch, uint64, error) {
	p.writeMu.Lock()
	segs := make([]*Segment, len(p.segments))
	copy(segs, p.segments)
	p.writeMu.Unlock()

	for _, seg := range segs {
		if offset, ok := seg.FindByTimestamp(ts); ok {
			return p.Read(offset, count, maxBytes)
		}
	}
	return nil, 0, nil
}

// StoreConsumerOffset persists an advisory offset for a consumer or
// consumer group. It does not itself gate delivery.
func (p *Partition) StoreConsumerOffset(consumerOrGroup string, offset uint64) error {
	p.writeMu.Lock()
	next := p.nextOffset
	p.writeMu.Unlock()
	if offset > next {
		return fmt.Errorf("%w: offset %d beyond next offset %d", ErrOffsetOutOfRange, offset, next)
	}

	p.offsetsMu.Lock()
	defer p.offsetsMu.Unlock()
	p.consumerOffsets[consumerOrGroup] = offset
	return nil
}

// ConsumerOffset returns the last stored offset for a consumer or group,
// and whether one has ever been stored.
func (p *Partition) ConsumerOffset(consumerOrGroup string) (uint64, bool) {
	p.offsetsMu.RLock()
	defer p.offsetsMu.RUnlock()
	offset, ok := p.consumerOffsets[consumerOrGroup]
	return offset, ok
}

// NextOffset returns the offset the next appended message would receive.
func (p *Partition) NextOffset() uint64 {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.nextOffset
}

// Resolve turns a PollStrategy into a concrete starting offset for this
// partition, consulting the consumer offset table for PollNext.
func (p *Partition) Resolve(strategy PollStrategy, consumerOrGroup string) uint64 {
	switch strategy.kind {
	case pollOffset:
		return strategy.offset
	case pollFirst:
		p.writeMu.Lock()
		defer p.writeMu.Unlock()
		if len(p.segments) == 0 {
			return 0
		}
		return p.segments[0].BaseOffset
	case pollLast:
		return p.NextOffset()
	case pollNext:
		if offset, ok := p.ConsumerOffset(consumerOrGroup); ok {
			return offset
		}
		return 0
	case pollTimestamp:
		for _, seg := range p.segmentsSnapshot() {
			if offset, ok := seg.FindByTimestamp(strategy.timestamp); ok {
				return offset
			}
		}
		return p.NextOffset()
	default:
		return 0
	}
}

func (p *Partition) segmentsSnapshot() []*Segment {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	out := make([]*Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// FirstOffset returns the lowest offset still retained by this partition,
// i.e. the base offset of its oldest remaining segment.
func (p *Partition) FirstOffset() uint64 {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if len(p.segments) == 0 {
		return 0
	}
	return p.segments[0].BaseOffset
}

// DeleteExpiredSegments removes every closed segment whose last sampled
// timestamp is older than nowMicros-retention, oldest first, stopping at
// the first segment that has not fully elapsed or at the active segment
// (never deleted). Deletion is offset-monotonic: segments are only ever
// removed from the front, so Partition's first retained offset only moves
// forward.
func (p *Partition) DeleteExpiredSegments(nowMicros uint64, retention time.Duration) (int, error) {
	horizon := retention.Microseconds()
	if horizon < 0 {
		horizon = 0
	}
	var cutoff uint64
	if nowMicros > uint64(horizon) {
		cutoff = nowMicros - uint64(horizon)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	deleted := 0
	for len(p.segments) > 1 {
		seg := p.segments[0]
		if !seg.IsClosed() {
			break
		}
		last, ok := seg.LastBatchTimestamp()
		if !ok || last >= cutoff {
			break
		}
		if err := seg.Remove(); err != nil {
			return deleted, err
		}
		p.segments = p.segments[1:]
		deleted++
		p.logger.Info("deleted expired segment",
			zap.Uint32("partition", p.ID),
			zap.Uint64("base_offset", seg.BaseOffset))
	}
	return deleted, nil
}

// Close flushes and closes every segment.
func (p *Partition) Close() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for _, seg := range p.segments {
		if err := seg.Close(); err != nil {
			return err
		}
	}
	return nil
}

// Remove closes every segment and unlinks its log, index, and time-index
// files, then removes the now-empty partition directory. Used when a topic
// is being deleted rather than merely shut down.
func (p *Partition) Remove() error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	for _, seg := range p.segments {
		if err := seg.Remove(); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(p.dir); err != nil {
		return ErrIO(p.dir, err)
	}
	return nil
}

// PartitionDir returns the conventional on-disk directory for a partition
// within a topic directory.
func PartitionDir(topicDir string, partitionID uint32) string {
	return filepath.Join(topicDir, fmt.Sprintf("partition_%d", partitionID))
}
