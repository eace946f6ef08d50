package bulk

import (
	"encoding/csv"
	"io"
)

// CSVSource adapts a CSV stream to a RowSource. Values are passed to the
// driver as strings; Postgres coerces them per the target column types.
type CSVSource struct {
	reader    *csv.Reader
	hasHeader bool
	header    []string
	started   bool
}

// NewCSVSource creates a row source over r. When hasHeader is true the
// first record is consumed as the header and not emitted as a row.
func NewCSVSource(r io.Reader, hasHeader bool) *CSVSource {
	cr := csv.NewReader(r)
	cr.ReuseRecord = false
	return &CSVSource{
		reader:    cr,
		hasHeader: hasHeader,
	}
}

// Header returns the header record, if any. Only populated after the first
// Next call.
func (s *CSVSource) Header() []string {
	return s.header
}

// Next returns the next CSV record as a row of values, or io.EOF.
// Empty fields become nil so they load as NULL rather than empty strings.
func (s *CSVSource) Next() ([]interface{}, error) {
	if !s.started {
		s.started = true
		if s.hasHeader {
			header, err := s.reader.Read()
			if err != nil {
				return nil, err
			}
			s.header = header
		}
	}

	record, err := s.reader.Read()
	if err != nil {
		return nil, err
	}

	row := make([]interface{}, len(record))
	for i, field := range record {
		if field == "" {
			row[i] = nil
		} else {
			row[i] = field
		}
	}

	return row, nil
}

// ReplaySource yields buffered rows first, then delegates to the wrapped
// source. Used when rows had to be read ahead, such as pulling a CSV
// header before the transfer starts.
type ReplaySource struct {
	pending [][]interface{}
	rest    RowSource
}

// NewReplaySource creates a source that replays rows before continuing
// with rest. Nil rows are skipped.
func NewReplaySource(row []interface{}, rest RowSource) *ReplaySource {
	s := &ReplaySource{rest: rest}
	if row != nil {
		s.pending = append(s.pending, row)
	}
	return s
}

// Next implements RowSource.
func (s *ReplaySource) Next() ([]interface{}, error) {
	if len(s.pending) > 0 {
		row := s.pending[0]
		s.pending = s.pending[1:]
		return row, nil
	}
	return s.rest.Next()
}
