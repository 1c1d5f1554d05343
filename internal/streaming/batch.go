// internal/streaming/batch.go
package streaming

import (
	"encoding/binary"
	"fmt"
)

// batchHeaderSize is the fixed 16-byte header: base_offset(8) + length(4) +
// last_offset_delta(4).
const batchHeaderSize = 8 + 4 + 4

// MessagesBatch groups a contiguous run of messages that share a base
// offset. Messages is the opaque, already-encoded run of Message records;
// the codec here neither interprets it nor verifies per-message
// checksums.
type MessagesBatch struct {
	BaseOffset      uint64
	Length          uint32
	LastOffsetDelta uint32
	Messages        []byte
}

// LastOffset returns the offset of the final message in the batch.
func (b *MessagesBatch) LastOffset() uint64 {
	return b.BaseOffset + uint64(b.LastOffsetDelta)
}

// NewMessagesBatch builds a batch from an encoded run of messages. messages
// must not be empty: a batch with no messages is illegal.
func NewMessagesBatch(baseOffset uint64, lastOffsetDelta uint32, messages []byte) (*MessagesBatch, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: empty messages batch", ErrInvalidArgument)
	}
	return &MessagesBatch{
		BaseOffset:      baseOffset,
		Length:          uint32(batchHeaderSize + len(messages)),
		LastOffsetDelta: lastOffsetDelta,
		Messages:        messages,
	}, nil
}

// EncodeBatch lays out a batch as base_offset:u64-LE || length:u32-LE ||
// last_offset_delta:u32-LE || messages_bytes.
func EncodeBatch(b *MessagesBatch) []byte {
	buf := make([]byte, batchHeaderSize+len(b.Messages))
	binary.LittleEndian.PutUint64(buf[0:], b.BaseOffset)
	binary.LittleEndian.PutUint32(buf[8:], b.Length)
	binary.LittleEndian.PutUint32(buf[12:], b.LastOffsetDelta)
	copy(buf[batchHeaderSize:], b.Messages)
	return buf
}

// DecodeBatch reads one batch from the front of buf, returning it and the
// number of bytes consumed. It returns ErrCorruptedData if buf does not
// contain a complete batch per its own length field.
func DecodeBatch(buf []byte) (*MessagesBatch, int, error) {
	if len(buf) < batchHeaderSize {
		return nil, 0, fmt.Errorf("%w: batch header truncated", ErrCorruptedData)
	}
	baseOffset := binary.LittleEndian.Uint64(buf[0:])
	length := binary.LittleEndian.Uint32(buf[8:])
	lastOffsetDelta := binary.LittleEndian.Uint32(buf[12:])

	if length < batchHeaderSize {
		return nil, 0, fmt.Errorf("%w: batch length %d shorter than header", ErrCorruptedData, length)
	}
	if len(buf) < int(length) {
		return nil, 0, fmt.Errorf("%w: batch truncated, want %d have %d", ErrCorruptedData, length, len(buf))
	}

	messages := make([]byte, length-batchHeaderSize)
	copy(messages, buf[batchHeaderSize:length])

	return &MessagesBatch{
		BaseOffset:      baseOffset,
		Length:          length,
		LastOffsetDelta: lastOffsetDelta,
		Messages:        messages,
	}, int(length), nil
}

// BatchMessages encodes a run of messages sharing a base offset into one
// MessagesBatch, compressing each payload whose size is at least threshold
// when compressor is non-nil and its algorithm is not "none".
func BatchMessages(baseOffset uint64, messages []*Message, compressor Compressor, threshold int) (*MessagesBatch, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: cannot batch zero messages", ErrInvalidArgument)
	}

	var payload []byte
	for _, m := range messages {
		var compressed []byte
		if compressor != nil && compressor.Algorithm() != CompressionNone && len(m.Payload) >= threshold {
			c, err := compressor.Compress(m.Payload)
			if err != nil {
				return nil, fmt.Errorf("compress payload for offset %d: %w", m.Offset, err)
			}
			compressed = c
		}
		payload = append(payload, EncodeMessage(m, compressed)...)
	}

	lastOffsetDelta := uint32(len(messages) - 1)
	return NewMessagesBatch(baseOffset, lastOffsetDelta, payload)
}

// UnbatchMessages decodes every message stored in a batch, in order.
func UnbatchMessages(b *MessagesBatch, compressor Compressor) ([]*Message, error) {
	var decompress func([]byte) ([]byte, error)
	if compressor != nil {
		decompress = compressor.Decompress
	}

	var out []*Message
	rest := b.Messages
	for len(rest) > 0 {
		m, n, err := DecodeMessage(rest, decompress)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
		rest = rest[n:]
	}
	return out, nil
}
