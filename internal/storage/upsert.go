package storage

import (
	"encoding/binary"
	"log/slog"
)

// applyUpsert implements §4.6 "apply_upsert(new_upsert, old_stmt)".
//
//   - old absent or DELETE: the new UPSERT's embedded base tuple (its
//     Value) becomes a REPLACE stamped with new's lsn.
//   - old REPLACE/UPSERT: run new's update program against old's value;
//     result is a REPLACE if old was a REPLACE, or a combined UPSERT if
//     both were UPSERT and the op programs are squashable.
//
// After execution the primary-key fields are checked against old_stmt;
// if the program touched one, the old statement is returned unchanged
// and the violation is logged (never surfaced as an error — the host
// already validated the key shape at the wire boundary).
func applyUpsert(kd *KeyDef, newUpsert, old *Stmt, logger *slog.Logger) *Stmt {
	if old == nil || old.Type == StmtDelete {
		result := &Stmt{
			Type:     StmtReplace,
			Key:      newUpsert.Key,
			Value:    append([]byte(nil), newUpsert.Value...),
			LSN:      newUpsert.LSN,
			NUpserts: newUpsert.NUpserts,
		}
		return result
	}

	newValue, touchedPK := runUpsertOps(kd, old.Value, newUpsert.Ops)
	if touchedPK {
		if logger != nil {
			logger.Warn("upsert attempted to modify primary key field, dropped",
				"lsn", newUpsert.LSN)
		}
		return old
	}

	if old.Type == StmtReplace {
		return &Stmt{
			Type:     StmtReplace,
			Key:      old.Key,
			Value:    newValue,
			LSN:      newUpsert.LSN,
			NUpserts: newUpsert.NUpserts,
		}
	}

	// old.Type == StmtUpsert: squash the two op programs into one
	// combined UPSERT carrying the pre-applied value as its new base,
	// so a later apply only has to replay the combined ops once.
	combined := squashOps(old.Ops, newUpsert.Ops)
	return &Stmt{
		Type:     StmtUpsert,
		Key:      old.Key,
		Value:    newValue,
		Ops:      combined,
		LSN:      newUpsert.LSN,
		NUpserts: newUpsert.NUpserts,
	}
}

// runUpsertOps applies an update program to a base value, field by
// field. Each field is modeled as a fixed 8-byte little-endian int64
// slot at ops[i].FieldIndex*8 (the core doesn't own tuple format — see
// spec §1 Out-of-scope — so this is the minimal concrete shape that
// lets UPSERT chains and squashing be tested end to end). FieldIndex 0
// is reserved for the primary key and can never be touched.
func runUpsertOps(kd *KeyDef, base []byte, ops []UpsertOp) (result []byte, touchedPK bool) {
	result = append([]byte(nil), base...)
	for _, op := range ops {
		if op.FieldIndex == 0 {
			touchedPK = true
			continue
		}
		off := op.FieldIndex * 8
		for len(result) < off+8 {
			result = append(result, 0)
		}
		cur := int64(binary.LittleEndian.Uint64(result[off : off+8]))
		switch op.Kind {
		case OpAdd:
			cur += op.Arg
		case OpSet:
			cur = op.Arg
		}
		binary.LittleEndian.PutUint64(result[off:off+8], uint64(cur))
	}
	return result, touchedPK
}

// squashOps combines two sequential update programs into one: for any
// field touched by both, a newer Set wins, Add+Add collapses into a
// single Add with the summed argument, and Set followed by Add becomes
// a Set of the summed value.
// Matches §8's associativity law:
// apply_upsert(new, apply_upsert(mid, old)) == apply_upsert(squash(mid, new), old).
func squashOps(older, newer []UpsertOp) []UpsertOp {
	byField := make(map[int]UpsertOp, len(older)+len(newer))
	order := make([]int, 0, len(older)+len(newer))
	for _, op := range older {
		if _, ok := byField[op.FieldIndex]; !ok {
			order = append(order, op.FieldIndex)
		}
		byField[op.FieldIndex] = op
	}
	for _, op := range newer {
		prior, ok := byField[op.FieldIndex]
		if !ok {
			order = append(order, op.FieldIndex)
			byField[op.FieldIndex] = op
			continue
		}
		switch {
		case prior.Kind == OpAdd && op.Kind == OpAdd:
			byField[op.FieldIndex] = UpsertOp{FieldIndex: op.FieldIndex, Kind: OpAdd, Arg: prior.Arg + op.Arg}
		case prior.Kind == OpSet && op.Kind == OpAdd:
			byField[op.FieldIndex] = UpsertOp{FieldIndex: op.FieldIndex, Kind: OpSet, Arg: prior.Arg + op.Arg}
		default:
			byField[op.FieldIndex] = op
		}
	}
	out := make([]UpsertOp, 0, len(order))
	for _, idx := range order {
		out = append(out, byField[idx])
	}
	return out
}
