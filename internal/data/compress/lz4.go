package compress

import (
	"github.com/pierrec/lz4/v4"
)

// LZ4 implements the Compressor interface using the LZ4 algorithm.
type LZ4 struct{}

// NewLZ4 creates a new LZ4 compressor.
func NewLZ4() *LZ4 {
	return &LZ4{}
}

// Compress compresses the source byte slice using LZ4.
func (c *LZ4) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Data is incompressible: return src unchanged. The result is then
		// not smaller than the input, so the page framing stores the page
		// uncompressed.
		return src, nil
	}
	return dst[:n], nil
}

// Decompress decompresses src into a buffer of exactly rawSize bytes.
// The page framing always records the uncompressed size in its header,
// so the original size is never a guess.
func (c *LZ4) Decompress(src []byte, rawSize int) ([]byte, error) {
	dst := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}
