// Package memory is an in-memory import source for tests and local
// development.
package memory

import (
	"context"
	"sync"

	"fatura/internal/importsrc"
)

type Source struct {
	mu   sync.Mutex
	rows []importsrc.ValidatedImportRow
}

var _ importsrc.RowSource = (*Source)(nil)

func New(rows ...importsrc.ValidatedImportRow) *Source {
	return &Source{rows: rows}
}

// Add appends rows to the next fetch.
func (s *Source) Add(rows ...importsrc.ValidatedImportRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

// FetchRows returns the pending rows and clears them, like a consumed feed.
func (s *Source) FetchRows(ctx context.Context) ([]importsrc.ValidatedImportRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.rows
	s.rows = nil
	return out, nil
}
