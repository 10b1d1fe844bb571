package storage

// StmtType tags a statement with its semantic operation (§3 "Statement").
type StmtType uint8

const (
	StmtDelete StmtType = iota
	StmtReplace
	StmtUpsert
	StmtSelect
)

func (t StmtType) String() string {
	switch t {
	case StmtDelete:
		return "DELETE"
	case StmtReplace:
		return "REPLACE"
	case StmtUpsert:
		return "UPSERT"
	case StmtSelect:
		return "SELECT"
	default:
		return "UNKNOWN"
	}
}

// upsertInf marks a statement whose n_upserts counter has saturated:
// once crossed, the value is never incremented further (ported from
// tarantool's VY_UPSERT_INF sentinel in src/box/vinyl.c).
const upsertInf = ^uint32(0)

// UpsertOp is one step of an UPSERT's update program. The op set is
// intentionally tiny — the host (not the core) owns tuple format and
// full update-program semantics; the core only needs enough to apply
// and squash UPSERTs against opaque field values (§4.6).
type UpsertOp struct {
	FieldIndex int
	Kind       UpsertOpKind
	Arg        int64
}

type UpsertOpKind uint8

const (
	OpAdd UpsertOpKind = iota
	OpSet
)

// Stmt is the immutable record that flows through every layer of the
// engine (§3). Value is empty for DELETE/SELECT. Ops is only set for
// UPSERT. Statements are cheap to copy by value except for the backing
// byte slices, which callers must not mutate after construction —
// mems and runs hold them without defensive copies once inserted.
type Stmt struct {
	Type  StmtType
	Key   Key
	Value []byte
	Ops   []UpsertOp
	LSN   uint64

	// NUpserts bounds the squash chain length for consecutive UPSERTs
	// on the same key (§4.4, §9 "n_upserts saturation"). Zero for
	// non-UPSERT statements.
	NUpserts uint32
}

// size approximates the statement's footprint for quota/mem accounting
// (§4.2 "used += size(stmt)").
func (s *Stmt) size() int64 {
	n := int64(1 + 8 + 4) // type + lsn + n_upserts
	for _, p := range s.Key {
		n += int64(len(p))
	}
	n += int64(len(s.Value))
	n += int64(len(s.Ops) * 16)
	return n
}

func (s *Stmt) clone() *Stmt {
	c := *s
	c.Key = append(Key(nil), s.Key...)
	if s.Value != nil {
		c.Value = append([]byte(nil), s.Value...)
	}
	if s.Ops != nil {
		c.Ops = append([]UpsertOp(nil), s.Ops...)
	}
	return &c
}

// bumpUpserts increments n_upserts, saturating at upsertInf (never
// wrapping back to zero). Returns true once the threshold configured
// for background squashing is crossed.
func (s *Stmt) bumpUpserts(base *Stmt) bool {
	if base != nil {
		s.NUpserts = base.NUpserts
	}
	if s.NUpserts == upsertInf {
		return false
	}
	s.NUpserts++
	if s.NUpserts > upsertThreshold {
		s.NUpserts = upsertInf
		return true
	}
	return false
}
