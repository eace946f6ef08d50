package stream

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/lib/pq"
)

// ColumnSpec identifies a single large column value to stream: one column
// of one row, selected by a key column.
type ColumnSpec struct {
	Table     string
	Column    string
	KeyColumn string
	Key       interface{}
}

// chunkFetcher returns the next chunk of the column value starting at the
// 1-based byte offset, at most length bytes. An empty slice signals
// exhaustion.
type chunkFetcher func(ctx context.Context, offset int64, length int) ([]byte, error)

// ColumnReader is an io.Reader over one column value, fetched from the
// database in chunks so the full value is never held in memory. It is read
// until exhausted and then discarded; there is no rewind.
type ColumnReader struct {
	ctx       context.Context
	fetch     chunkFetcher
	chunkSize int
	offset    int64 // 1-based byte offset, bytea substring semantics
	buf       []byte
	eof       bool
}

// chunkQuery builds the paging statement for one column value. The column
// is cast to bytea so substring offsets and lengths count bytes, not
// characters; character counting would make multibyte text values page
// past data and return chunks larger than the configured bound.
func chunkQuery(spec ColumnSpec) string {
	return fmt.Sprintf(
		"SELECT substring(%s::bytea FROM $2 FOR $3) FROM %s WHERE %s = $1",
		pq.QuoteIdentifier(spec.Column),
		pq.QuoteIdentifier(spec.Table),
		pq.QuoteIdentifier(spec.KeyColumn),
	)
}

// NewColumnReader creates a reader over the column identified by spec.
// chunkSize bounds both the fetch size and peak memory, in bytes; values
// <= 0 use DefaultChunkSize. Table and column identifiers are quoted, the
// key is passed as a bind parameter.
func NewColumnReader(ctx context.Context, db *sql.DB, spec ColumnSpec, chunkSize int) (*ColumnReader, error) {
	if spec.Table == "" || spec.Column == "" || spec.KeyColumn == "" {
		return nil, fmt.Errorf("stream: column spec requires table, column, and key column")
	}

	query := chunkQuery(spec)

	fetch := func(fetchCtx context.Context, offset int64, length int) ([]byte, error) {
		var chunk []byte
		err := db.QueryRowContext(fetchCtx, query, spec.Key, offset, length).Scan(&chunk)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("stream: no row with %s = %v in %s", spec.KeyColumn, spec.Key, spec.Table)
		}
		return chunk, err
	}

	return newColumnReader(ctx, fetch, chunkSize), nil
}

func newColumnReader(ctx context.Context, fetch chunkFetcher, chunkSize int) *ColumnReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ColumnReader{
		ctx:       ctx,
		fetch:     fetch,
		chunkSize: chunkSize,
		offset:    1,
	}
}

// Read implements io.Reader. Each underlying fetch retrieves at most one
// chunk; a short or empty fetch marks the end of the value.
func (r *ColumnReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
		if len(r.buf) == 0 {
			return 0, io.EOF
		}
	}

	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *ColumnReader) fill() error {
	chunk, err := r.fetch(r.ctx, r.offset, r.chunkSize)
	if err != nil {
		return err
	}

	r.offset += int64(len(chunk))
	r.buf = chunk

	// A short chunk means the value ends inside this fetch.
	if len(chunk) < r.chunkSize {
		r.eof = true
	}
	return nil
}

// CopyColumn streams the column identified by spec into dst using
// bounded-size chunks. Convenience wrapper over NewColumnReader and
// CopyWithStats.
func CopyColumn(ctx context.Context, db *sql.DB, spec ColumnSpec, dst io.Writer, chunkSize int) (CopyStats, error) {
	reader, err := NewColumnReader(ctx, db, spec, chunkSize)
	if err != nil {
		return CopyStats{}, err
	}
	return CopyWithStats(dst, reader, chunkSize)
}
