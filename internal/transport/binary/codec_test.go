package binary

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	var w writer
	w.putUint32(42)
	w.putUint64(1<<40 + 7)
	w.putBytes([]byte{1, 2, 3})
	w.putString("hello")

	r := newReader(w.bytesOut())
	u32, err := r.uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u32)

	u64, err := r.uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40+7), u64)

	b, err := r.bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)

	s, err := r.string()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}

func TestReader_TruncatedPayloadErrors(t *testing.T) {
	r := newReader([]byte{1, 2})
	_, err := r.uint32()
	assert.Error(t, err)

	r2 := newReader([]byte{5, 0, 0, 0, 'a', 'b'})
	_, err = r2.bytes()
	assert.Error(t, err)
}

func TestWriteResponse_EncodesStatusAndPayload(t *testing.T) {
	var w writer
	w.putString("payload")

	var buf bytes.Buffer
	require.NoError(t, writeResponse(&buf, StatusOK, w.bytesOut()))

	out := buf.Bytes()
	assert.Equal(t, StatusOK, binary.LittleEndian.Uint32(out[0:]))
	assert.Equal(t, uint32(len(w.bytesOut())), binary.LittleEndian.Uint32(out[4:]))
	assert.Equal(t, w.bytesOut(), out[8:])
}

func TestReadFrame_RoundTripsCommandAndPayload(t *testing.T) {
	var payload writer
	payload.putString("hello")

	body := append([]byte{0, 0, 0, 0}, payload.bytesOut()...)
	binary.LittleEndian.PutUint32(body[:4], CommandPing)

	var frame bytes.Buffer
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	frame.Write(lenBuf[:])
	frame.Write(body)

	command, gotPayload, err := readFrame(&frame)
	require.NoError(t, err)
	assert.Equal(t, uint32(CommandPing), command)
	assert.Equal(t, payload.bytesOut(), gotPayload)
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], maxFrameSize+1)
	frame := bytes.NewReader(lenBuf[:])

	_, _, err := readFrame(frame)
	assert.Error(t, err)
}
