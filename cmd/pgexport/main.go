// Command pgexport executes SQL against Postgres with enforced timeouts
// and exports the results to text destinations.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/quarrydata/pgexport/bulk"
	"github.com/quarrydata/pgexport/command"
	"github.com/quarrydata/pgexport/config"
	"github.com/quarrydata/pgexport/metrics"
	"github.com/quarrydata/pgexport/server"
	"github.com/quarrydata/pgexport/sink"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:    "pgexport",
		Usage:   "export Postgres query results with enforced command timeouts",
		Version: command.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to YAML config file",
				Sources: cli.EnvVars("PGEXPORT_CONFIG"),
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "Postgres connection string",
				Sources: cli.EnvVars("PGEXPORT_DSN"),
			},
			&cli.IntFlag{
				Name:  "timeout",
				Usage: "command timeout in whole seconds (0 uses the default of 30)",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "verbose error output with stack traces",
			},
		},
		Commands: []*cli.Command{
			runCommand(),
			copyCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, command.FormatError(err, false))
		os.Exit(1)
	}
}

// loadConfig resolves configuration from the config file, environment,
// and command-line flags, in ascending precedence.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if dsn := cmd.String("dsn"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if cmd.IsSet("timeout") {
		cfg.Command.DefaultTimeoutSeconds = int(cmd.Int("timeout"))
	}
	if cmd.Bool("debug") {
		cfg.Log.Debug = true
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("no DSN configured; set --dsn, PGEXPORT_DSN, or database.dsn in the config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openClient(ctx context.Context, cfg *config.Config) (*command.Client, error) {
	client, err := command.Open(cfg.Database.DSN, cfg.ToOptions())
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		client.Close(ctx)
		return nil, err
	}
	return client, nil
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "execute one or more queries and export the results",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "SQL query to run; repeat to export several result sets concurrently",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "output format: csv, tsv, or jsonl (defaults to the configured format)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "output file; empty writes to stdout (single query only)",
			},
			&cli.StringFlag{
				Name:  "null",
				Usage: "text rendered for NULL values in csv/tsv output",
			},
			&cli.BoolFlag{
				Name:  "no-header",
				Usage: "suppress the header row in csv/tsv output",
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	queries := cmd.StringSlice("query")
	if len(queries) == 0 {
		return fmt.Errorf("at least one --query is required")
	}

	out := cmd.String("out")
	if out == "" && len(queries) > 1 {
		return fmt.Errorf("--out is required when running more than one query")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	formatName := cmd.String("format")
	if formatName == "" {
		formatName = cfg.Export.Format
	}
	format := sink.Format(strings.ToLower(formatName))
	if format.IsUnknown() {
		return fmt.Errorf("unsupported format %q; expected csv, tsv, or jsonl", formatName)
	}

	client, err := openClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	group, groupCtx := errgroup.WithContext(ctx)
	for i, query := range queries {
		path := outputPath(out, i, len(queries))
		statement := query

		group.Go(func() error {
			return exportQuery(groupCtx, client, statement, format, path, cfg, cmd)
		})
	}
	return group.Wait()
}

// outputPath derives the per-query output path. With several queries the
// index is inserted before the extension, so "out.csv" becomes
// "out.1.csv", "out.2.csv", and so on.
func outputPath(out string, index, total int) string {
	if total == 1 || out == "" {
		return out
	}
	ext := filepath.Ext(out)
	base := strings.TrimSuffix(out, ext)
	return fmt.Sprintf("%s.%d%s", base, index+1, ext)
}

func exportQuery(ctx context.Context, client *command.Client, statement string, format sink.Format, path string, cfg *config.Config, cmd *cli.Command) error {
	result, err := client.Command(statement).Query(ctx)
	if err != nil {
		return err
	}

	writer, err := sink.NewFileWriterOrStdout(format, path)
	if err != nil {
		return err
	}
	if cmd.Bool("no-header") {
		writer.SetHeader(false)
	}
	null := cmd.String("null")
	if null == "" {
		null = cfg.Export.NullString
	}
	if null != "" {
		writer.SetNullString(null)
	}

	if err := writer.WriteResultSet(result); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	client.Logger().Info("export finished",
		command.String("statement", statement),
		command.Int("rows", result.RowCount),
		command.String("out", path))
	return nil
}

func copyCommand() *cli.Command {
	return &cli.Command{
		Name:  "copy",
		Usage: "bulk-load a CSV file into a table using COPY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "table",
				Usage:    "destination table",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "column",
				Usage: "destination columns in CSV order; defaults to the CSV header",
			},
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "CSV file to load",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "no-csv-header",
				Usage: "treat the first CSV record as data, not a header",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "rows flushed per COPY statement",
				Value: 1000,
			},
			&cli.FloatFlag{
				Name:  "rows-per-second",
				Usage: "throttle the transfer; 0 means unlimited",
			},
		},
		Action: copyAction,
	}
}

func copyAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	client, err := openClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	file, err := os.Open(cmd.String("input"))
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer file.Close()

	hasHeader := !cmd.Bool("no-csv-header")
	source := bulk.NewCSVSource(file, hasHeader)

	columns := cmd.StringSlice("column")
	var rowSource bulk.RowSource = source
	if len(columns) == 0 {
		if !hasHeader {
			return fmt.Errorf("--column is required when the CSV has no header")
		}
		// Pull the header through the source before the copier starts.
		first, err := source.Next()
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read CSV header: %w", err)
		}
		columns = source.Header()
		if len(columns) == 0 {
			return fmt.Errorf("input CSV is empty")
		}
		rowSource = bulk.NewReplaySource(first, source)
	}

	opts := bulk.DefaultOptions()
	opts.BatchSize = int(cmd.Int("batch-size"))
	opts.TimeoutSeconds = cfg.Command.DefaultTimeoutSeconds
	opts.RowsPerSecond = cmd.Float("rows-per-second")
	opts.Logger = client.Logger()

	copier, err := bulk.NewCopier(client.DB(), cmd.String("table"), columns, opts)
	if err != nil {
		return err
	}

	result, err := copier.Copy(ctx, rowSource)
	if err != nil {
		return err
	}

	fmt.Printf("copied %d rows in %d batches (%s)\n", result.Rows, result.Batches, result.Duration)
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the job status and metrics HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address; overrides the config file",
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	client, err := openClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close(context.Background())

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.ObserveRunner(registry, client.Runner())
	client.RegisterHook(collector.Hook())

	srv := server.New(client.Runner(), client, registry, server.Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		Logger:       client.Logger(),
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(srv.ListenAndServe)
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
