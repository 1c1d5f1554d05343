package binary

import (
	"encoding/binary"
	"fmt"
	"io"
)

const maxFrameSize = 64 << 20 // 64 MiB, generous enough for a large publish batch

// readFrame reads one frame_len:u32 || command_code:u32 || payload frame
// from r, returning the command code and payload.
func readFrame(r io.Reader) (uint32, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	frameLen := binary.LittleEndian.Uint32(lenBuf[:])
	if frameLen < 4 || frameLen > maxFrameSize {
		return 0, nil, fmt.Errorf("invalid frame length %d", frameLen)
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}

	command := binary.LittleEndian.Uint32(body[:4])
	return command, body[4:], nil
}

// writeResponse writes status:u32 || payload_len:u32 || payload to w.
func writeResponse(w io.Writer, status uint32, payload []byte) error {
	out := make([]byte, 4+4+len(payload))
	binary.LittleEndian.PutUint32(out[0:], status)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(payload)))
	copy(out[8:], payload)
	_, err := w.Write(out)
	return err
}
