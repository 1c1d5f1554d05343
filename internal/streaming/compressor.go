// internal/streaming/compressor.go
package streaming

// CompressionAlgorithm names a payload compression scheme.
type CompressionAlgorithm string

const (
	CompressionNone CompressionAlgorithm = "none"
	CompressionZstd CompressionAlgorithm = "zstd"
)

// Compressor compresses and decompresses individual message payloads. It is
// orthogonal to batching: a batch may hold a mix of compressed and
// plaintext messages, and compression never crosses a message boundary.
// Implementations are in compressor_zstd.go.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() CompressionAlgorithm
}
