// Package bulk transfers large row sets into Postgres using the driver's
// COPY support instead of row-at-a-time INSERTs.
package bulk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lib/pq"
	"golang.org/x/time/rate"

	"github.com/quarrydata/pgexport/command"
)

// Options configures a Copier.
type Options struct {
	// BatchSize is the number of rows flushed per COPY statement.
	// Default: 1000
	BatchSize int

	// TimeoutSeconds bounds the whole transfer, in whole seconds.
	// Zero means no transfer-level timeout beyond the caller's context.
	TimeoutSeconds int

	// RowsPerSecond throttles the transfer. Zero means unlimited.
	RowsPerSecond float64

	// Logger receives progress logging. If nil, logging is discarded.
	Logger command.Logger
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		BatchSize: 1000,
	}
}

// RowSource supplies rows to copy. Next returns io.EOF when exhausted.
type RowSource interface {
	Next() ([]interface{}, error)
}

// Result describes a completed bulk copy.
type Result struct {
	Rows     int64
	Batches  int
	Duration time.Duration
}

// CopyError represents a failed bulk transfer. The whole transfer is
// rolled back; Rows records how many rows had been staged before failure.
type CopyError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Table   string `json:"table,omitempty"`
	Rows    int64  `json:"rows"`
	Cause   error  `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *CopyError) Error() string {
	return e.FormatError(false)
}

// FormatError formats the error based on debug mode.
func (e *CopyError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
		"rows":    e.Rows,
	}
	if e.Table != "" {
		errorData["table"] = e.Table
	}
	if e.Cause != nil {
		errorData["cause"] = map[string]interface{}{"message": e.Cause.Error()}
	}

	b, _ := json.MarshalIndent(errorData, "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error.
func (e *CopyError) Unwrap() error {
	return e.Cause
}

// Copier bulk-loads rows into one table.
type Copier struct {
	db      *sql.DB
	table   string
	columns []string
	opts    Options
	logger  command.Logger
}

// NewCopier creates a copier for the given table and column list.
func NewCopier(db *sql.DB, table string, columns []string, opts Options) (*Copier, error) {
	if table == "" {
		return nil, &CopyError{
			Code:    "E_COPY_CONFIG",
			Type:    "COPY_ERROR",
			Message: "table name is required",
		}
	}
	if len(columns) == 0 {
		return nil, &CopyError{
			Code:    "E_COPY_CONFIG",
			Type:    "COPY_ERROR",
			Message: "at least one column is required",
			Table:   table,
		}
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.TimeoutSeconds < 0 {
		return nil, command.ErrNegativeTimeout(opts.TimeoutSeconds)
	}

	logger := opts.Logger
	if logger == nil {
		logger = command.NewNoopLogger()
	}

	return &Copier{
		db:      db,
		table:   table,
		columns: columns,
		opts:    opts,
		logger:  logger,
	}, nil
}

// Copy transfers all rows from src into the table inside one transaction,
// flushing a COPY statement every BatchSize rows. Any failure rolls back
// the whole transfer.
func (c *Copier) Copy(ctx context.Context, src RowSource) (*Result, error) {
	start := time.Now()

	if c.opts.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	var limiter *rate.Limiter
	if c.opts.RowsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.opts.RowsPerSecond), c.opts.BatchSize)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, c.failed("E_COPY_BEGIN", "failed to begin copy transaction", 0, err)
	}

	result := &Result{}
	exhausted := false

	for !exhausted {
		batchRows, err := c.copyBatch(ctx, tx, src, limiter, result)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if batchRows == 0 {
			break
		}
		result.Rows += batchRows
		result.Batches++
		if batchRows < int64(c.opts.BatchSize) {
			exhausted = true
		}

		c.logger.Debug("copy batch flushed",
			command.String("table", c.table),
			command.Int64("rows", result.Rows),
			command.Int("batches", result.Batches))
	}

	if err := tx.Commit(); err != nil {
		return nil, c.failed("E_COPY_COMMIT", "failed to commit copy transaction", result.Rows, err)
	}

	result.Duration = time.Since(start)

	c.logger.Info("bulk copy completed",
		command.String("table", c.table),
		command.Int64("rows", result.Rows),
		command.Int("batches", result.Batches),
		command.Duration("duration", result.Duration))

	return result, nil
}

// copyBatch stages up to BatchSize rows through one COPY statement.
// Returns the number of rows staged; zero means the source was already
// exhausted.
func (c *Copier) copyBatch(ctx context.Context, tx *sql.Tx, src RowSource, limiter *rate.Limiter, progress *Result) (int64, error) {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(c.table, c.columns...))
	if err != nil {
		return 0, c.failed("E_COPY_PREPARE", "failed to prepare copy statement", progress.Rows, err)
	}

	var staged int64
	for staged < int64(c.opts.BatchSize) {
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			stmt.Close()
			return 0, c.failed("E_COPY_SOURCE", "row source failed", progress.Rows+staged, err)
		}

		if len(row) != len(c.columns) {
			stmt.Close()
			return 0, c.failed("E_COPY_ARITY",
				fmt.Sprintf("row has %d values, expected %d", len(row), len(c.columns)),
				progress.Rows+staged, nil)
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				stmt.Close()
				return 0, c.failed("E_COPY_ABORTED", "copy aborted while throttled", progress.Rows+staged, err)
			}
		}

		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			stmt.Close()
			return 0, c.failed("E_COPY_ROW", "failed to stage row", progress.Rows+staged, err)
		}
		staged++
	}

	if staged > 0 {
		// Flush the buffered rows to the server.
		if _, err := stmt.ExecContext(ctx); err != nil {
			stmt.Close()
			return 0, c.failed("E_COPY_FLUSH", "failed to flush copy batch", progress.Rows+staged, err)
		}
	}

	if err := stmt.Close(); err != nil {
		return 0, c.failed("E_COPY_CLOSE", "failed to close copy statement", progress.Rows+staged, err)
	}

	return staged, nil
}

func (c *Copier) failed(code, msg string, rows int64, cause error) error {
	return &CopyError{
		Code:    code,
		Type:    "COPY_ERROR",
		Message: msg,
		Table:   c.table,
		Rows:    rows,
		Cause:   cause,
	}
}
