// internal/streaming/message.go
package streaming

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"

	"github.com/google/uuid"
)

// headerStateCompressed marks, in a message's state byte, that the payload
// bytes on the wire are compressed and must be inflated before the
// checksum the caller sees is computed over plaintext.
const headerStateCompressed = 0x80

// HeaderKind tags the type a header value was encoded from.
type HeaderKind uint8

const (
	HeaderString HeaderKind = iota
	HeaderInt64
	HeaderBool
	HeaderBytes
)

// HeaderValue is a typed header value. Header names are opaque,
// case-sensitive byte strings: the codec never folds case.
type HeaderValue struct {
	Kind  HeaderKind
	Value []byte
}

// Message is one immutable record in a partition's log. Offset is assigned
// by the owning Partition and is strictly monotonic within it.
type Message struct {
	Offset    uint64
	Timestamp uint64 // microseconds since epoch, broker clock
	ID        uuid.UUID
	Headers   map[string]HeaderValue
	Payload   []byte
	Checksum  uint32

	// compressed records whether Payload, as currently held, is the
	// compressed wire form (true) or plaintext (false). It is not part
	// of the wire encoding; Decode sets it from the state byte.
	compressed bool
}

// NewMessage creates a message ready for checksum computation and append;
// Offset and Timestamp are filled in by Partition.AppendMessages.
func NewMessage(payload []byte, headers map[string]HeaderValue) *Message {
	if headers == nil {
		headers = make(map[string]HeaderValue)
	}
	m := &Message{
		ID:      uuid.New(),
		Headers: headers,
		Payload: payload,
	}
	m.Checksum = m.computeChecksum()
	return m
}

// computeChecksum covers id+timestamp+headers+payload, always over
// plaintext payload bytes regardless of whether compression is applied
// before the message is written to disk.
func (m *Message) computeChecksum() uint32 {
	h := crc32.NewIEEE()
	_, _ = h.Write(m.ID[:])
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], m.Timestamp)
	_, _ = h.Write(tsBuf[:])
	for _, name := range sortedHeaderNames(m.Headers) {
		hv := m.Headers[name]
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{byte(hv.Kind)})
		_, _ = h.Write(hv.Value)
	}
	_, _ = h.Write(m.Payload)
	return h.Sum32()
}

// VerifyChecksum reports whether the stored checksum matches the message's
// current (plaintext) payload and headers.
func (m *Message) VerifyChecksum() bool {
	return m.Checksum == m.computeChecksum()
}

// EncodeMessage writes one message in the wire format:
// offset:u64 || state:u8 || timestamp:u64 || id:u128 || checksum:u32 ||
// headers_len:u32 || headers_bytes || payload_len:u32 || payload_bytes.
// If compressedPayload is non-nil, it is written in place of m.Payload and
// the compressed bit is set in the state byte.
func EncodeMessage(m *Message, compressedPayload []byte) []byte {
	headerBytes := encodeHeaders(m.Headers)

	payload := m.Payload
	state := byte(0)
	if compressedPayload != nil {
		payload = compressedPayload
		state = headerStateCompressed
	}

	size := 8 + 1 + 8 + 16 + 4 + 4 + len(headerBytes) + 4 + len(payload)
	buf := make([]byte, size)
	off := 0

	binary.LittleEndian.PutUint64(buf[off:], m.Offset)
	off += 8
	buf[off] = state
	off++
	binary.LittleEndian.PutUint64(buf[off:], m.Timestamp)
	off += 8
	copy(buf[off:off+16], m.ID[:])
	off += 16
	binary.LittleEndian.PutUint32(buf[off:], m.Checksum)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(headerBytes)))
	off += 4
	copy(buf[off:], headerBytes)
	off += len(headerBytes)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(payload)))
	off += 4
	copy(buf[off:], payload)

	return buf
}

// DecodeMessage reads one message from the front of b and returns it along
// with the number of bytes consumed. decompress, if non-nil, is invoked on
// the stored payload whenever the compressed bit is set, so the returned
// Payload is plaintext. With a nil decompress, a compressed payload is
// returned as stored.
func DecodeMessage(b []byte, decompress func([]byte) ([]byte, error)) (*Message, int, error) {
	const fixedHeader = 8 + 1 + 8 + 16 + 4 + 4
	if len(b) < fixedHeader {
		return nil, 0, fmt.Errorf("%w: message header truncated", ErrCorruptedData)
	}

	off := 0
	m := &Message{}
	m.Offset = binary.LittleEndian.Uint64(b[off:])
	off += 8
	state := b[off]
	off++
	m.Timestamp = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(m.ID[:], b[off:off+16])
	off += 16
	m.Checksum = binary.LittleEndian.Uint32(b[off:])
	off += 4
	headersLen := binary.LittleEndian.Uint32(b[off:])
	off += 4

	if len(b[off:]) < int(headersLen)+4 {
		return nil, 0, fmt.Errorf("%w: message headers truncated", ErrCorruptedData)
	}
	headers, err := decodeHeaders(b[off : off+int(headersLen)])
	if err != nil {
		return nil, 0, err
	}
	m.Headers = headers
	off += int(headersLen)

	payloadLen := binary.LittleEndian.Uint32(b[off:])
	off += 4
	if len(b[off:]) < int(payloadLen) {
		return nil, 0, fmt.Errorf("%w: message payload truncated", ErrCorruptedData)
	}
	payload := make([]byte, payloadLen)
	copy(payload, b[off:off+int(payloadLen)])
	off += int(payloadLen)

	m.compressed = state&headerStateCompressed != 0
	if m.compressed && decompress != nil {
		plain, err := decompress(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: decompress payload: %v", ErrCorruptedData, err)
		}
		m.Payload = plain
		m.compressed = false
	} else {
		m.Payload = payload
	}

	return m, off, nil
}

func encodeHeaders(headers map[string]HeaderValue) []byte {
	names := sortedHeaderNames(headers)
	var size int
	size += 4
	for _, name := range names {
		hv := headers[name]
		size += 4 + len(name) + 1 + 4 + len(hv.Value)
	}

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(names)))
	off += 4
	for _, name := range names {
		hv := headers[name]
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(name)))
		off += 4
		copy(buf[off:], name)
		off += len(name)
		buf[off] = byte(hv.Kind)
		off++
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(hv.Value)))
		off += 4
		copy(buf[off:], hv.Value)
		off += len(hv.Value)
	}
	return buf
}

func decodeHeaders(b []byte) (map[string]HeaderValue, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: header count truncated", ErrCorruptedData)
	}
	count := binary.LittleEndian.Uint32(b)
	off := 4
	headers := make(map[string]HeaderValue, count)
	for i := uint32(0); i < count; i++ {
		if len(b[off:]) < 4 {
			return nil, fmt.Errorf("%w: header name length truncated", ErrCorruptedData)
		}
		nameLen := binary.LittleEndian.Uint32(b[off:])
		off += 4
		if len(b[off:]) < int(nameLen)+1+4 {
			return nil, fmt.Errorf("%w: header entry truncated", ErrCorruptedData)
		}
		name := string(b[off : off+int(nameLen)])
		off += int(nameLen)
		kind := HeaderKind(b[off])
		off++
		valueLen := binary.LittleEndian.Uint32(b[off:])
		off += 4
		if len(b[off:]) < int(valueLen) {
			return nil, fmt.Errorf("%w: header value truncated", ErrCorruptedData)
		}
		value := make([]byte, valueLen)
		copy(value, b[off:off+int(valueLen)])
		off += int(valueLen)
		headers[name] = HeaderValue{Kind: kind, Value: value}
	}
	return headers, nil
}

// sortedHeaderNames returns header names in a stable order so encoding
// (and therefore the checksum) is deterministic regardless of Go's
// randomized map iteration.
func sortedHeaderNames(headers map[string]HeaderValue) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
