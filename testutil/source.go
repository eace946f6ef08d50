package testutil

import (
	"io"
	"sync"
)

// SliceRowSource is an in-memory row source for bulk copy tests. It
// yields the configured rows in order, then io.EOF, or FailAfter rows
// followed by Err when an error is configured.
type SliceRowSource struct {
	Rows      [][]interface{}
	Err       error
	FailAfter int

	mu   sync.Mutex
	next int
}

// Next returns the next configured row.
func (s *SliceRowSource) Next() ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil && s.next >= s.FailAfter {
		return nil, s.Err
	}
	if s.next >= len(s.Rows) {
		return nil, io.EOF
	}

	row := s.Rows[s.next]
	s.next++
	return row, nil
}

// Served reports how many rows have been handed out.
func (s *SliceRowSource) Served() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
