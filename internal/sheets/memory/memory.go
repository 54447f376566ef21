package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"fintrack/internal/amqp"
	"fintrack/internal/sheets"
)

// Store keeps mirrored rows in process. It backs tests and local runs
// without a spreadsheet.
type Store struct {
	mu     sync.Mutex
	rows   map[int][]sheets.Row
	refs   map[string]string
	failOn func(*amqp.LedgerEvent) error
}

var (
	_ sheets.LedgerMirror = (*Store)(nil)
	_ sheets.RowLister    = (*Store)(nil)
)

func New() *Store {
	return &Store{rows: map[int][]sheets.Row{}, refs: map[string]string{}}
}

// FailWith makes AppendEvent return whatever fn returns for the event, when non-nil.
func (s *Store) FailWith(fn func(*amqp.LedgerEvent) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn = fn
}

// AppendEvent stores the event and returns a synthetic row reference.
func (s *Store) AppendEvent(_ context.Context, ev *amqp.LedgerEvent) (string, error) {
	if ev == nil || ev.EventID == "" {
		return "", errors.New("event without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failOn != nil {
		if err := s.failOn(ev); err != nil {
			return "", err
		}
	}
	if ref, ok := s.refs[ev.EventID]; ok {
		return ref, nil
	}

	row := sheets.RowFromEvent(ev)
	year := row.Year()
	s.rows[year] = append(s.rows[year], row)
	ref := fmt.Sprintf("mem:%d:%d", year, len(s.rows[year]))
	s.refs[ev.EventID] = ref
	return ref, nil
}

// ListRows returns the rows of the year ordered by occurrence.
func (s *Store) ListRows(_ context.Context, year int) ([]sheets.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]sheets.Row(nil), s.rows[year]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// Len counts rows across all years.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rows := range s.rows {
		n += len(rows)
	}
	return n
}
