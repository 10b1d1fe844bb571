package storage

import (
	"io"

	"github.com/arkdb/vinyl/internal/data/compress"
	"github.com/arkdb/vinyl/internal/data/page"
)

// Page is the decoded payload of one run page: its statements plus the
// summary stats used for binary search and GC heuristics (§3 "Page").
type Page struct {
	MinKey      Key
	MaxKey      Key
	MinLSN      uint64
	MaxLSN      uint64
	HasDelete   bool
	Statements  []*Stmt
}

// buildPage computes a Page's summary fields from an already
// key-sorted, (key,lsn)-ordered statement slice (the write iterator's
// output, §4.5).
func buildPage(stmts []*Stmt) *Page {
	p := &Page{Statements: stmts}
	for i, s := range stmts {
		if i == 0 {
			p.MinKey = s.Key
		}
		if i == len(stmts)-1 {
			p.MaxKey = s.Key
		}
		if i == 0 || s.LSN < p.MinLSN {
			p.MinLSN = s.LSN
		}
		if s.LSN > p.MaxLSN {
			p.MaxLSN = s.LSN
		}
		if s.Type == StmtDelete {
			p.HasDelete = true
		}
	}
	return p
}

// encodePage writes the page to w using the shared row-indexed page
// framing, compressed with comp (nil for no compression).
func encodePage(w io.Writer, p *Page, comp compress.Compressor) error {
	records := make([][]byte, len(p.Statements))
	for i, s := range p.Statements {
		records[i] = encodeStmt(s)
	}
	return page.Encode(w, records, comp)
}

// decodePage reads a page previously written by encodePage.
func decodePage(r io.Reader, comp compress.Compressor) (*Page, error) {
	records, err := page.Decode(r, comp)
	if err != nil {
		return nil, err
	}
	stmts := make([]*Stmt, len(records))
	for i, rec := range records {
		s, err := decodeStmt(rec)
		if err != nil {
			return nil, err
		}
		stmts[i] = s
	}
	return buildPage(stmts), nil
}
