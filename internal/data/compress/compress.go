package compress

// Compressor defines the interface for compressing and decompressing byte slices.
type Compressor interface {
	// Compress compresses the source byte slice and returns the compressed data.
	Compress(src []byte) ([]byte, error)

	// Decompress decompresses src into a buffer of exactly rawSize bytes.
	// The caller (the page framing in internal/data/page) always knows
	// the original size from the page header, closing the gap the
	// original LZ4 wrapper left open.
	Decompress(src []byte, rawSize int) ([]byte, error)
}
