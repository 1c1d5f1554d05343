// Package binary implements the broker's length-prefixed TCP wire
// protocol: frame_len:u32 || command_code:u32 || payload, responses
// status:u32 || payload_len:u32 || payload. No business logic lives here;
// every command maps directly to a core streaming/auth/rbac call.
package binary

import (
	"encoding/binary"
	"fmt"
)

// reader walks a payload buffer left to right, the same style as
// streaming.DecodeMessage, returning a truncation error instead of
// panicking on a short buffer.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) uint32() (uint32, error) {
	if len(r.buf)-r.off < 4 {
		return 0, fmt.Errorf("payload truncated reading uint32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) uint64() (uint64, error) {
	if len(r.buf)-r.off < 8 {
		return 0, fmt.Errorf("payload truncated reading uint64")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if len(r.buf)-r.off < int(n) {
		return nil, fmt.Errorf("payload truncated reading %d bytes", n)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writer accumulates an outgoing payload in the same field order a
// reader expects to consume it.
type writer struct {
	buf []byte
}

func (w *writer) putUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) putString(s string) { w.putBytes([]byte(s)) }

func (w *writer) bytesOut() []byte { return w.buf }
