// internal/streaming/compressor_zstd.go
package streaming

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Compressor over github.com/klauspost/compress/zstd.
// Encoder and decoder are built once, lazily, and reused across calls —
// construction is the expensive part, not a per-call cost.
type ZstdCompressor struct {
	level zstd.EncoderLevel

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
}

// NewZstdCompressor creates a compressor at the given zstd level (1-19,
// see zstd.EncoderLevelFromZstd).
func NewZstdCompressor(level int) (*ZstdCompressor, error) {
	if level < 1 || level > 19 {
		return nil, fmt.Errorf("zstd level must be 1-19, got %d", level)
	}
	return &ZstdCompressor{level: zstd.EncoderLevelFromZstd(level)}, nil
}

func (c *ZstdCompressor) getEncoder() (*zstd.Encoder, error) {
	c.encoderOnce.Do(func() {
		c.encoder, c.encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level), zstd.WithEncoderConcurrency(1))
	})
	return c.encoder, c.encoderErr
}

func (c *ZstdCompressor) getDecoder() (*zstd.Decoder, error) {
	c.decoderOnce.Do(func() {
		c.decoder, c.decoderErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return c.decoder, c.decoderErr
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	encoder, err := c.getEncoder()
	if err != nil {
		return nil, fmt.Errorf("get zstd encoder: %w", err)
	}
	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := c.getDecoder()
	if err != nil {
		return nil, fmt.Errorf("get zstd decoder: %w", err)
	}
	return decoder.DecodeAll(data, nil)
}

func (c *ZstdCompressor) Algorithm() CompressionAlgorithm { return CompressionZstd }

// noopCompressor passes payloads through unchanged, used when an
// algorithm of "none" is configured.
type noopCompressor struct{}

func NewNoopCompressor() Compressor { return noopCompressor{} }

func (noopCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noopCompressor) Algorithm() CompressionAlgorithm        { return CompressionNone }

// NewCompressor builds the configured Compressor implementation; the
// broker calls it once at startup and shares the result across the System.
func NewCompressor(alg CompressionAlgorithm, level int) (Compressor, error) {
	switch alg {
	case CompressionZstd:
		return NewZstdCompressor(level)
	case CompressionNone, "":
		return NewNoopCompressor(), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}
