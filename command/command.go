package command

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Command kinds inferred from the statement prefix.
const (
	KindQuery    = "query"
	KindMutation = "mutation"
	KindDDL      = "ddl"
	KindCopy     = "copy"
	KindUnknown  = "unknown"
)

// Command is a single statement plus its timeout configuration.
// The timeout is a whole number of seconds the caller is willing to wait
// for the operation to complete before it is aborted. Zero means the
// client default (30 unless configured otherwise); negative values are
// rejected at execution time.
type Command struct {
	client         *Client
	text           string
	args           []interface{}
	timeoutSeconds int
}

// WithTimeout sets the per-command timeout in whole seconds and returns
// the command for chaining. Set it before execution; it has no effect on
// a command already running.
func (cmd *Command) WithTimeout(seconds int) *Command {
	cmd.timeoutSeconds = seconds
	return cmd
}

// TimeoutSeconds returns the configured timeout (0 = client default).
func (cmd *Command) TimeoutSeconds() int {
	return cmd.timeoutSeconds
}

// Text returns the statement text.
func (cmd *Command) Text() string {
	return cmd.text
}

// effectiveTimeout resolves the timeout to apply, falling back to the
// client default when unset.
func (cmd *Command) effectiveTimeout(defaultSeconds int) (int, error) {
	if cmd.timeoutSeconds < 0 {
		return 0, ErrNegativeTimeout(cmd.timeoutSeconds)
	}
	if cmd.timeoutSeconds == 0 {
		return defaultSeconds, nil
	}
	return cmd.timeoutSeconds, nil
}

// Query executes the command and materializes all rows into a ResultSet.
// If the command exceeds its timeout it fails with a *TimeoutError and
// no partial rows are returned.
func (cmd *Command) Query(ctx context.Context) (*ResultSet, error) {
	result, err := cmd.client.execute(ctx, cmd, KindQuery, func(runCtx context.Context, statement string) (interface{}, error) {
		rows, err := cmd.client.db.QueryContext(runCtx, statement, cmd.args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		return collectResultSet(rows)
	})
	if err != nil {
		return nil, cmd.wrapError(err, "query failed")
	}

	rs := result.(*ResultSet)
	return rs, nil
}

// Exec executes the command and returns the number of rows affected.
func (cmd *Command) Exec(ctx context.Context) (int64, error) {
	kind := inferKind(cmd.text)
	if kind == KindQuery {
		kind = KindMutation
	}

	result, err := cmd.client.execute(ctx, cmd, kind, func(runCtx context.Context, statement string) (interface{}, error) {
		res, err := cmd.client.db.ExecContext(runCtx, statement, cmd.args...)
		if err != nil {
			return nil, err
		}

		affected, err := res.RowsAffected()
		if err != nil {
			// Not all statements report affected rows; treat as zero.
			return int64(0), nil
		}
		return affected, nil
	})
	if err != nil {
		return 0, cmd.wrapError(err, "exec failed")
	}

	return result.(int64), nil
}

// Rows executes the command and returns the raw sql.Rows for callers that
// stream results themselves (see the stream package). The returned cancel
// function releases the timeout context and must be called after the rows
// are closed.
func (cmd *Command) Rows(ctx context.Context) (*sql.Rows, context.CancelFunc, error) {
	seconds, err := cmd.effectiveTimeout(cmd.client.opts.DefaultTimeoutSeconds)
	if err != nil {
		return nil, nil, err
	}

	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if seconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, secondsToDuration(seconds))
	}

	rows, err := cmd.client.db.QueryContext(runCtx, cmd.text, cmd.args...)
	if err != nil {
		cancel()
		return nil, nil, cmd.wrapError(err, "query failed")
	}

	return rows, cancel, nil
}

// wrapError converts driver errors into typed command errors, passing
// through errors that are already typed.
func (cmd *Command) wrapError(err error, msg string) error {
	switch err.(type) {
	case *CommandError, *TimeoutError, *JobError:
		return err
	}

	return &CommandError{
		Code:      "E_COMMAND_FAILED",
		Type:      "COMMAND_ERROR",
		Message:   msg,
		Statement: cmd.text,
		Args:      cmd.args,
		Cause:     err,
	}
}

func secondsToDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// inferKind determines the command kind from the statement prefix.
func inferKind(statement string) string {
	s := strings.ToUpper(strings.TrimSpace(statement))

	switch {
	case strings.HasPrefix(s, "SELECT"), strings.HasPrefix(s, "WITH"), strings.HasPrefix(s, "SHOW"):
		return KindQuery
	case strings.HasPrefix(s, "INSERT"), strings.HasPrefix(s, "UPDATE"), strings.HasPrefix(s, "DELETE"):
		return KindMutation
	case strings.HasPrefix(s, "CREATE"), strings.HasPrefix(s, "ALTER"), strings.HasPrefix(s, "DROP"), strings.HasPrefix(s, "TRUNCATE"):
		return KindDDL
	case strings.HasPrefix(s, "COPY"):
		return KindCopy
	default:
		return KindUnknown
	}
}
