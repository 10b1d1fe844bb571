package storage

import (
	"encoding/binary"
	"fmt"
)

// encodeStmt packs a statement into the opaque record bytes that
// internal/data/page stores and indexes. Layout: type(1) lsn(8)
// n_upserts(4) key-part-count(4) [len(4) bytes]* value-len(4) value
// ops-count(4) [field(4) kind(1) arg(8)]*
func encodeStmt(s *Stmt) []byte {
	size := 1 + 8 + 4 + 4
	for _, p := range s.Key {
		size += 4 + len(p)
	}
	size += 4 + len(s.Value)
	size += 4 + len(s.Ops)*(4+1+8)

	buf := make([]byte, size)
	off := 0
	buf[off] = byte(s.Type)
	off++
	binary.LittleEndian.PutUint64(buf[off:], s.LSN)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], s.NUpserts)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Key)))
	off += 4
	for _, p := range s.Key {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(p)))
		off += 4
		off += copy(buf[off:], p)
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Value)))
	off += 4
	off += copy(buf[off:], s.Value)
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(s.Ops)))
	off += 4
	for _, op := range s.Ops {
		binary.LittleEndian.PutUint32(buf[off:], uint32(op.FieldIndex))
		off += 4
		buf[off] = byte(op.Kind)
		off++
		binary.LittleEndian.PutUint64(buf[off:], uint64(op.Arg))
		off += 8
	}
	return buf
}

func decodeStmt(b []byte) (*Stmt, error) {
	if len(b) < 1+8+4+4 {
		return nil, fmt.Errorf("%w: truncated statement record", ErrInvalidRun)
	}
	s := &Stmt{}
	off := 0
	s.Type = StmtType(b[off])
	off++
	s.LSN = binary.LittleEndian.Uint64(b[off:])
	off += 8
	s.NUpserts = binary.LittleEndian.Uint32(b[off:])
	off += 4
	partCount := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	s.Key = make(Key, partCount)
	for i := 0; i < partCount; i++ {
		if off+4 > len(b) {
			return nil, fmt.Errorf("%w: truncated key part", ErrInvalidRun)
		}
		l := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if off+l > len(b) {
			return nil, fmt.Errorf("%w: truncated key bytes", ErrInvalidRun)
		}
		s.Key[i] = append([]byte(nil), b[off:off+l]...)
		off += l
	}
	if off+4 > len(b) {
		return nil, fmt.Errorf("%w: truncated value length", ErrInvalidRun)
	}
	vl := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	if off+vl > len(b) {
		return nil, fmt.Errorf("%w: truncated value", ErrInvalidRun)
	}
	if vl > 0 {
		s.Value = append([]byte(nil), b[off:off+vl]...)
	}
	off += vl
	if off+4 > len(b) {
		return nil, fmt.Errorf("%w: truncated ops count", ErrInvalidRun)
	}
	opCount := int(binary.LittleEndian.Uint32(b[off:]))
	off += 4
	s.Ops = make([]UpsertOp, opCount)
	for i := 0; i < opCount; i++ {
		if off+13 > len(b) {
			return nil, fmt.Errorf("%w: truncated op", ErrInvalidRun)
		}
		s.Ops[i] = UpsertOp{
			FieldIndex: int(binary.LittleEndian.Uint32(b[off:])),
			Kind:       UpsertOpKind(b[off+4]),
			Arg:        int64(binary.LittleEndian.Uint64(b[off+5:])),
		}
		off += 13
	}
	return s, nil
}
