// Package sink writes query results to text destinations: CSV, TSV, or
// newline-delimited JSON. Rows are written one at a time so results
// streamed from the database never have to be buffered whole.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/quarrydata/pgexport/command"
)

// Format represents the output format type.
type Format string

const (
	// FormatCSV outputs comma-separated values.
	FormatCSV Format = "csv"
	// FormatTSV outputs tab-separated values.
	FormatTSV Format = "tsv"
	// FormatJSONL outputs one JSON object per row.
	FormatJSONL Format = "jsonl"
)

// IsUnknown reports whether the format is unsupported.
func (f Format) IsUnknown() bool {
	switch f {
	case FormatCSV, FormatTSV, FormatJSONL:
		return false
	default:
		return true
	}
}

// ExportError represents a failed export.
type ExportError struct {
	Code    string `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Rows    int64  `json:"rows"`
	Cause   error  `json:"cause,omitempty"`
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// Writer serializes rows to an output destination in the configured format.
type Writer struct {
	format     Format
	out        io.Writer
	closer     io.Closer
	header     bool
	nullString string

	columns []string
	csvw    *csv.Writer
	jsonEnc *json.Encoder
	started bool
	rows    int64
}

// NewWriter creates a writer for the given format and destination.
// If out is nil, os.Stdout is used. The header row is written for CSV and
// TSV by default; use SetHeader(false) to suppress it.
func NewWriter(format Format, out io.Writer) (*Writer, error) {
	if format.IsUnknown() {
		return nil, &ExportError{
			Code:    "E_EXPORT_FORMAT",
			Type:    "EXPORT_ERROR",
			Message: fmt.Sprintf("unsupported format: %q", format),
		}
	}
	if out == nil {
		out = os.Stdout
	}

	w := &Writer{
		format: format,
		out:    out,
		header: true,
	}

	switch format {
	case FormatCSV:
		w.csvw = csv.NewWriter(out)
	case FormatTSV:
		w.csvw = csv.NewWriter(out)
		w.csvw.Comma = '\t'
	case FormatJSONL:
		w.jsonEnc = json.NewEncoder(out)
	}

	return w, nil
}

// NewFileWriterOrStdout creates a writer to the given path, falling back
// to stdout when the path is empty.
func NewFileWriterOrStdout(format Format, path string) (*Writer, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return NewWriter(format, os.Stdout)
	}

	file, err := os.Create(trimmed)
	if err != nil {
		return nil, &ExportError{
			Code:    "E_EXPORT_CREATE",
			Type:    "EXPORT_ERROR",
			Message: fmt.Sprintf("failed to create output file %s", trimmed),
			Cause:   err,
		}
	}

	w, err := NewWriter(format, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	w.closer = file
	return w, nil
}

// SetHeader controls whether a header row is written for CSV/TSV output.
func (w *Writer) SetHeader(enabled bool) {
	w.header = enabled
}

// SetNullString sets the rendering of NULL values for CSV/TSV output.
// Default is the empty string.
func (w *Writer) SetNullString(s string) {
	w.nullString = s
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int64 {
	return w.rows
}

// Begin declares the column names. Must be called before WriteRow.
func (w *Writer) Begin(columns []string) error {
	if w.started {
		return &ExportError{
			Code:    "E_EXPORT_STATE",
			Type:    "EXPORT_ERROR",
			Message: "Begin called twice",
		}
	}
	w.columns = columns
	w.started = true

	if w.csvw != nil && w.header {
		if err := w.csvw.Write(columns); err != nil {
			return w.failed("failed to write header", err)
		}
	}
	return nil
}

// WriteRow writes a single data row. The row must have one value per
// declared column.
func (w *Writer) WriteRow(row []interface{}) error {
	if !w.started {
		return &ExportError{
			Code:    "E_EXPORT_STATE",
			Type:    "EXPORT_ERROR",
			Message: "WriteRow called before Begin",
		}
	}
	if len(row) != len(w.columns) {
		return &ExportError{
			Code:    "E_EXPORT_ARITY",
			Type:    "EXPORT_ERROR",
			Message: fmt.Sprintf("row has %d values, expected %d", len(row), len(w.columns)),
			Rows:    w.rows,
		}
	}

	switch w.format {
	case FormatCSV, FormatTSV:
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = w.render(v)
		}
		if err := w.csvw.Write(record); err != nil {
			return w.failed("failed to write row", err)
		}
	case FormatJSONL:
		obj := make(map[string]interface{}, len(row))
		for i, v := range row {
			obj[w.columns[i]] = jsonValue(v)
		}
		if err := w.jsonEnc.Encode(obj); err != nil {
			return w.failed("failed to encode row", err)
		}
	}

	w.rows++
	return nil
}

// WriteResultSet writes a materialized result set, header included.
func (w *Writer) WriteResultSet(rs *command.ResultSet) error {
	if err := w.Begin(rs.ColumnNames()); err != nil {
		return err
	}
	for _, row := range rs.Rows {
		if err := w.WriteRow(row); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush writes any buffered output to the destination.
func (w *Writer) Flush() error {
	if w.csvw != nil {
		w.csvw.Flush()
		if err := w.csvw.Error(); err != nil {
			return w.failed("failed to flush output", err)
		}
	}
	return nil
}

// Close flushes and closes the destination if this writer owns it.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		if w.closer != nil {
			w.closer.Close()
		}
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// render converts a database value to its text representation.
func (w *Writer) render(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return w.nullString
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// jsonValue normalizes database values for JSON encoding.
func jsonValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}

func (w *Writer) failed(msg string, cause error) error {
	return &ExportError{
		Code:    "E_EXPORT_WRITE",
		Type:    "EXPORT_ERROR",
		Message: msg,
		Rows:    w.rows,
		Cause:   cause,
	}
}
