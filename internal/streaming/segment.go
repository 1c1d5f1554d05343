// internal/streaming/segment.go
package streaming

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// indexEntrySize is one (relative_offset:u32, file_position:u32) pair.
const indexEntrySize = 4 + 4

// timeIndexEntrySize is one (timestamp:u64, relative_offset:u32) pair.
const timeIndexEntrySize = 8 + 4

// indexEntry locates a batch's start within the log file by its offset
// relative to the segment's base offset.
type indexEntry struct {
	relativeOffset uint32
	filePosition   uint32
}

// Segment is one append-only log file plus its index, owning a contiguous
// offset range starting at BaseOffset. A Segment never reorders or
// rewrites batches once written; recovery only ever truncates a trailing
// partial write.
type Segment struct {
	BaseOffset uint64
	CreatedAt  time.Time

	logPath       string
	indexPath     string
	timeIndexPath string

	mu               sync.RWMutex
	logFile          *os.File
	writer           *bufio.Writer
	currentSizeBytes uint32
	nextRelOffset    uint32
	index            []indexEntry
	timeIndex        []timeIndexEntry
	closed           bool

	logger *zap.Logger
}

type timeIndexEntry struct {
	timestamp      uint64
	relativeOffset uint32
}

// NewSegment creates a fresh, empty segment file pair rooted at baseOffset.
func NewSegment(logPath, indexPath, timeIndexPath string, baseOffset uint64, logger *zap.Logger) (*Segment, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ErrIO(logPath, err)
	}
	return &Segment{
		BaseOffset:    baseOffset,
		CreatedAt:     time.Now(),
		logPath:       logPath,
		indexPath:     indexPath,
		timeIndexPath: timeIndexPath,
		logFile:       f,
		writer:        bufio.NewWriterSize(f, 64*1024),
		logger:        logger,
	}, nil
}

// LoadSegment reopens an existing segment, rebuilding its in-memory header
// from the index when present and valid, or by scanning the log otherwise.
func LoadSegment(logPath, indexPath, timeIndexPath string, baseOffset uint64, logger *zap.Logger) (*Segment, error) {
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, ErrIO(logPath, err)
	}

	s := &Segment{
		BaseOffset:    baseOffset,
		logPath:       logPath,
		indexPath:     indexPath,
		timeIndexPath: timeIndexPath,
		logFile:       f,
		writer:        bufio.NewWriterSize(f, 64*1024),
		logger:        logger,
	}

	info, err := f.Stat()
	if err != nil {
		return nil, ErrIO(logPath, err)
	}
	s.CreatedAt = info.ModTime()

	if idx, ok := s.loadIndex(); ok {
		s.index = idx
		if err := s.recoverFromIndex(); err != nil {
			return nil, err
		}
	} else if err := s.rebuildFromLog(); err != nil {
		return nil, err
	}
	s.timeIndex, _ = s.loadTimeIndex()

	return s, nil
}

// loadIndex reads the on-disk index file. It returns ok=false if the file
// is missing, empty, or not a whole number of entries — any of which means
// the index cannot be trusted and the log must be rescanned instead.
func (s *Segment) loadIndex() ([]indexEntry, bool) {
	data, err := os.ReadFile(s.indexPath)
	if err != nil || len(data) == 0 || len(data)%indexEntrySize != 0 {
		return nil, false
	}
	entries := make([]indexEntry, 0, len(data)/indexEntrySize)
	for off := 0; off < len(data); off += indexEntrySize {
		entries = append(entries, indexEntry{
			relativeOffset: binary.LittleEndian.Uint32(data[off:]),
			filePosition:   binary.LittleEndian.Uint32(data[off+4:]),
		})
	}
	return entries, true
}

func (s *Segment) loadTimeIndex() ([]timeIndexEntry, error) {
	data, err := os.ReadFile(s.timeIndexPath)
	if err != nil || len(data)%timeIndexEntrySize != 0 {
		return nil, err
	}
	entries := make([]timeIndexEntry, 0, len(data)/timeIndexEntrySize)
	for off := 0; off < len(data); off += timeIndexEntrySize {
		entries = append(entries, timeIndexEntry{
			timestamp:      binary.LittleEndian.Uint64(data[off:]),
			relativeOffset: binary.LittleEndian.Uint32(data[off+8:]),
		})
	}
	return entries, nil
}

// recoverFromIndex re-derives the index from the log itself rather than
// trusting the on-disk index file: a segment closed once (persisting a
// valid index), then reopened and appended to in a later session that
// crashed without a second close, leaves a well-formed but stale index
// whose tail silently drops every batch appended since. Rescanning and
// rebuilding here, rather than just validating the log tail against the
// loaded index, means a stale index is never mistaken for a complete one.
func (s *Segment) recoverFromIndex() error {
	return s.rebuildFromLog()
}

// rebuildFromLog scans the whole log from scratch, rebuilding and
// persisting the index, and truncating any trailing partial batch.
func (s *Segment) rebuildFromLog() error {
	var entries []indexEntry
	lastGoodEnd, lastRel, err := s.scanLog(func(pos int64, rel uint32) {
		entries = append(entries, indexEntry{relativeOffset: rel, filePosition: uint32(pos)})
	})
	if err != nil {
		return err
	}
	if err := s.logFile.Truncate(lastGoodEnd); err != nil {
		return ErrIO(s.logPath, err)
	}
	if _, err := s.logFile.Seek(0, io.SeekEnd); err != nil {
		return ErrIO(s.logPath, err)
	}
	s.index = entries
	s.currentSizeBytes = uint32(lastGoodEnd)
	s.nextRelOffset = lastRel
	return s.persistIndex()
}

// scanLog walks every complete batch in the log file, invoking onBatch with
// each batch's starting file position and relative offset. It returns the
// byte offset just past the last fully-readable batch (the point recovery
// truncates to) and the relative offset following that batch.
func (s *Segment) scanLog(onBatch func(pos int64, relOffset uint32)) (lastGoodEnd int64, nextRel uint32, err error) {
	if _, err := s.logFile.Seek(0, io.SeekStart); err != nil {
		return 0, 0, ErrIO(s.logPath, err)
	}
	r := bufio.NewReaderSize(s.logFile, 64*1024)

	var pos int64
	for {
		header := make([]byte, batchHeaderSize)
		n, rerr := readFull(r, header)
		if n < batchHeaderSize {
			break
		}
		length := binary.LittleEndian.Uint32(header[8:])
		lastOffsetDelta := binary.LittleEndian.Uint32(header[12:])
		if length < batchHeaderSize {
			break
		}
		body := make([]byte, int(length)-batchHeaderSize)
		n2, _ := readFull(r, body)
		if n2 < len(body) {
			break
		}
		onBatch(pos, nextRel)
		pos += int64(length)
		nextRel += lastOffsetDelta + 1
		if rerr != nil {
			break
		}
	}
	return pos, nextRel, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *Segment) persistIndex() error {
	buf := make([]byte, 0, len(s.index)*indexEntrySize)
	for _, e := range s.index {
		var entryBuf [indexEntrySize]byte
		binary.LittleEndian.PutUint32(entryBuf[0:], e.relativeOffset)
		binary.LittleEndian.PutUint32(entryBuf[4:], e.filePosition)
		buf = append(buf, entryBuf[:]...)
	}
	if err := os.WriteFile(s.indexPath, buf, 0o644); err != nil {
		return ErrIO(s.indexPath, err)
	}
	return nil
}

// NextOffset returns the offset the next appended batch's first message
// would receive.
func (s *Segment) NextOffset() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BaseOffset + uint64(s.nextRelOffset)
}

// CurrentSizeBytes returns the committed size of the log file.
func (s *Segment) CurrentSizeBytes() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSizeBytes
}

// IsClosed reports whether the segment accepts no further appends.
func (s *Segment) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Append writes an encoded batch to the log, recording an index entry for
// its base relative offset, and samples a time index entry.
func (s *Segment) Append(batch *MessagesBatch, firstMessageTimestamp uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSegmentClosed
	}

	encoded := EncodeBatch(batch)
	pos := int64(s.currentSizeBytes)
	if _, err := s.writer.Write(encoded); err != nil {
		return wrapErr(KindStorageFull, s.logPath, err)
	}
	if err := s.writer.Flush(); err != nil {
		return wrapErr(KindStorageFull, s.logPath, err)
	}

	relOffset := s.nextRelOffset
	s.index = append(s.index, indexEntry{relativeOffset: relOffset, filePosition: uint32(pos)})
	s.timeIndex = append(s.timeIndex, timeIndexEntry{timestamp: firstMessageTimestamp, relativeOffset: relOffset})
	s.currentSizeBytes += uint32(len(encoded))
	s.nextRelOffset += batch.LastOffsetDelta + 1

	return nil
}

// ReadRange returns the contiguous run of complete batches starting at the
// first batch whose range covers fromOffset, stopping before a batch would
// push the total past maxBytes — except it always returns at least one
// batch if any qualifies.
func (s *Segment) ReadRange(fromOffset uint64, maxBytes int) ([]*MessagesBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	startIdx := s.findStartIndex(fromOffset)
	if startIdx < 0 {
		return nil, nil
	}

	var out []*MessagesBatch
	var total int
	for i := startIdx; i < len(s.index); i++ {
		pos := int64(s.index[i].filePosition)
		var end int64
		if i+1 < len(s.index) {
			end = int64(s.index[i+1].filePosition)
		} else {
			end = int64(s.currentSizeBytes)
		}
		size := int(end - pos)

		if len(out) > 0 && total+size > maxBytes {
			break
		}

		buf := make([]byte, size)
		if _, err := s.logFile.ReadAt(buf, pos); err != nil {
			return nil, ErrIO(s.logPath, err)
		}
		batch, _, err := DecodeBatch(buf)
		if err != nil {
			return nil, err
		}
		out = append(out, batch)
		total += size
	}
	return out, nil
}

// findStartIndex locates the last index entry whose relative offset is at
// or before fromOffset-BaseOffset: that batch is the first whose range can
// cover fromOffset.
func (s *Segment) findStartIndex(fromOffset uint64) int {
	if fromOffset < s.BaseOffset {
		if len(s.index) == 0 {
			return -1
		}
		return 0
	}
	rel := uint32(fromOffset - s.BaseOffset)
	idx := -1
	for i, e := range s.index {
		if e.relativeOffset > rel {
			break
		}
		idx = i
	}
	return idx
}

// FirstBatchTimestamp returns the timestamp sampled for the earliest batch
// in this segment, used to locate the starting segment for a timestamp
// query without scanning every segment's log.
func (s *Segment) FirstBatchTimestamp() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.timeIndex) == 0 {
		return 0, false
	}
	return s.timeIndex[0].timestamp, true
}

// LastBatchTimestamp returns the timestamp sampled for the most recently
// appended batch in this segment, used by retention to decide whether the
// whole segment has fully elapsed.
func (s *Segment) LastBatchTimestamp() (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.timeIndex) == 0 {
		return 0, false
	}
	return s.timeIndex[len(s.timeIndex)-1].timestamp, true
}

// FindByTimestamp returns the offset of the earliest batch whose sampled
// timestamp is at or after ts, if any such batch was sampled in this
// segment.
func (s *Segment) FindByTimestamp(ts uint64) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.timeIndex {
		if e.timestamp >= ts {
			return s.BaseOffset + uint64(e.relativeOffset), true
		}
	}
	return 0, false
}

// ShouldRoll reports whether appending a batch of nextBatchSize bytes
// should instead trigger a new segment, per the configured size and age
// thresholds.
func (s *Segment) ShouldRoll(nextBatchSize int, maxSegmentSize uint32, maxSegmentAge time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentSizeBytes+uint32(nextBatchSize) > maxSegmentSize {
		return true
	}
	return time.Since(s.CreatedAt) > maxSegmentAge
}

// Close flushes pending writes and persists the index, then marks the
// segment closed. Close is idempotent.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return ErrIO(s.logPath, err)
	}
	if err := s.persistIndexLocked(); err != nil {
		return err
	}
	if err := s.persistTimeIndexLocked(); err != nil {
		return err
	}
	if err := s.logFile.Close(); err != nil {
		s.logger.Error("close segment log file", zap.String("path", s.logPath), zap.Error(err))
	}
	s.closed = true
	return nil
}

func (s *Segment) persistIndexLocked() error {
	buf := make([]byte, 0, len(s.index)*indexEntrySize)
	for _, e := range s.index {
		var entryBuf [indexEntrySize]byte
		binary.LittleEndian.PutUint32(entryBuf[0:], e.relativeOffset)
		binary.LittleEndian.PutUint32(entryBuf[4:], e.filePosition)
		buf = append(buf, entryBuf[:]...)
	}
	if err := os.WriteFile(s.indexPath, buf, 0o644); err != nil {
		return ErrIO(s.indexPath, err)
	}
	return nil
}

func (s *Segment) persistTimeIndexLocked() error {
	buf := make([]byte, 0, len(s.timeIndex)*timeIndexEntrySize)
	for _, e := range s.timeIndex {
		var entryBuf [timeIndexEntrySize]byte
		binary.LittleEndian.PutUint64(entryBuf[0:], e.timestamp)
		binary.LittleEndian.PutUint32(entryBuf[8:], e.relativeOffset)
		buf = append(buf, entryBuf[:]...)
	}
	if err := os.WriteFile(s.timeIndexPath, buf, 0o644); err != nil {
		return ErrIO(s.timeIndexPath, err)
	}
	return nil
}

// Remove closes the segment if needed and unlinks its files from disk, for
// retention-driven deletion.
func (s *Segment) Remove() error {
	_ = s.Close()
	for _, p := range []string{s.logPath, s.indexPath, s.timeIndexPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return ErrIO(p, err)
		}
	}
	return nil
}

func segmentFileNames(dir string, baseOffset uint64) (logPath, indexPath, timeIndexPath string) {
	name := fmt.Sprintf("%020d", baseOffset)
	return dir + "/" + name + ".log", dir + "/" + name + ".index", dir + "/" + name + ".timeindex"
}
