// Package page implements the low-level framing for one run page: a
// packed sequence of opaque records plus a row-offset index, optionally
// compressed (spec §3 "Page", §6 ".run contents"). It knows nothing
// about statements or keys — storage.Page builds the statement codec on
// top of this, the way the teacher's internal/data/block mixed both
// concerns; splitting them here keeps the compression/row-index framing
// reusable and testable in isolation.
package page

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arkdb/vinyl/internal/data/compress"
)

// Header is the fixed-size prefix of an encoded page.
type Header struct {
	Count           uint32
	RawSizeBytes    uint32
	StoredSizeBytes uint32
	Compressed      uint8
}

const headerSize = 4 + 4 + 4 + 1

// Encode packs records back to back, appends a row-offset index (one
// uint32 per record: the end offset of that record within the
// uncompressed blob, matching §6's ROW_INDEX record), optionally
// compresses the result with comp, and writes header+payload to w.
// comp may be nil to store uncompressed.
func Encode(w io.Writer, records [][]byte, comp compress.Compressor) error {
	var blob bytes.Buffer
	offsets := make([]uint32, len(records))
	var cum uint32
	for i, rec := range records {
		blob.Write(rec)
		cum += uint32(len(rec))
		offsets[i] = cum
	}
	if err := binary.Write(&blob, binary.LittleEndian, offsets); err != nil {
		return fmt.Errorf("page: write row index: %w", err)
	}

	raw := blob.Bytes()
	stored := raw
	compressed := uint8(0)
	if comp != nil && len(raw) > 0 {
		c, err := comp.Compress(raw)
		if err != nil {
			return fmt.Errorf("page: compress: %w", err)
		}
		if len(c) < len(raw) {
			stored = c
			compressed = 1
		}
	}

	hdr := Header{
		Count:           uint32(len(records)),
		RawSizeBytes:    uint32(len(raw)),
		StoredSizeBytes: uint32(len(stored)),
		Compressed:      compressed,
	}
	if err := writeHeader(w, hdr); err != nil {
		return err
	}
	_, err := w.Write(stored)
	return err
}

func writeHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	binary.LittleEndian.PutUint32(buf[0:], h.Count)
	binary.LittleEndian.PutUint32(buf[4:], h.RawSizeBytes)
	binary.LittleEndian.PutUint32(buf[8:], h.StoredSizeBytes)
	buf[12] = h.Compressed
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Count:           binary.LittleEndian.Uint32(buf[0:]),
		RawSizeBytes:    binary.LittleEndian.Uint32(buf[4:]),
		StoredSizeBytes: binary.LittleEndian.Uint32(buf[8:]),
		Compressed:      buf[12],
	}, nil
}

// Decode reads a page previously written by Encode and returns its
// records in order.
func Decode(r io.Reader, comp compress.Compressor) ([][]byte, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, fmt.Errorf("page: read header: %w", err)
	}
	stored := make([]byte, hdr.StoredSizeBytes)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, fmt.Errorf("page: read payload: %w", err)
	}

	raw := stored
	if hdr.Compressed == 1 {
		if comp == nil {
			return nil, fmt.Errorf("page: page is compressed but no compressor configured")
		}
		raw, err = comp.Decompress(stored, int(hdr.RawSizeBytes))
		if err != nil {
			return nil, fmt.Errorf("page: decompress: %w", err)
		}
	}
	if uint32(len(raw)) != hdr.RawSizeBytes {
		return nil, fmt.Errorf("page: raw size mismatch: got %d want %d", len(raw), hdr.RawSizeBytes)
	}

	count := int(hdr.Count)
	if count == 0 {
		return nil, nil
	}
	idxSize := count * 4
	if idxSize > len(raw) {
		return nil, fmt.Errorf("page: row index overruns payload")
	}
	dataLen := len(raw) - idxSize
	offsets := make([]uint32, count)
	idxReader := bytes.NewReader(raw[dataLen:])
	if err := binary.Read(idxReader, binary.LittleEndian, offsets); err != nil {
		return nil, fmt.Errorf("page: read row index: %w", err)
	}

	records := make([][]byte, count)
	var start uint32
	for i, end := range offsets {
		if end > uint32(dataLen) || end < start {
			return nil, fmt.Errorf("page: row index out of range")
		}
		records[i] = raw[start:end]
		start = end
	}
	return records, nil
}
