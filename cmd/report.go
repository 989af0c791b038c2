// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/config"
	"github.com/xkilldash9x/erpfill/internal/observability"
	"github.com/xkilldash9x/erpfill/internal/reporting"
	"github.com/xkilldash9x/erpfill/internal/results"
	"github.com/xkilldash9x/erpfill/internal/store"
)

// storeProvider creates the result history store. This abstraction lets tests
// inject a store backed by pgxmock instead of a live database connection.
type storeProvider interface {
	// Create returns the store, a cleanup function that releases the pool and an error.
	Create(ctx context.Context, databaseURL string, logger *zap.Logger) (*store.Store, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider that connects to PostgreSQL.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects, verifies the connection and makes sure the table exists.
func (p *defaultStoreProvider) Create(ctx context.Context, databaseURL string, logger *zap.Logger) (*store.Store, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return st, cleanup, nil
}

type reportOptions struct {
	from   string
	fromDB bool
	limit  int
	format string
	output string
}

func newReportCmd(provider storeProvider) *cobra.Command {
	var opts reportOptions

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize row results from the results CSV or the history database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, opts, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&opts.from, "from", "", "results CSV to read (default: the configured results file)")
	reportCmd.Flags().BoolVar(&opts.fromDB, "db", false, "read recent results from the database instead of the CSV")
	reportCmd.Flags().IntVar(&opts.limit, "limit", 50, "rows to read from the database")
	reportCmd.Flags().StringVarP(&opts.format, "format", "f", "table", "output format: table, markdown or json")
	reportCmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file (default: stdout)")
	reportCmd.Flags().String("database-url", "", "PostgreSQL database holding result history")
	annotate(reportCmd.Flags(), "database-url", "output.database_url")
	return reportCmd
}

// runReport contains the core, testable logic for rendering a report.
func runReport(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts reportOptions, provider storeProvider, stdout io.Writer) error {
	// 1. Collect the lines.
	var lines []results.Line
	if opts.fromDB {
		if cfg.Output.DatabaseURL == "" {
			return fmt.Errorf("database URL is not configured (%s_OUTPUT_DATABASE_URL)", config.EnvPrefix)
		}
		st, cleanup, err := provider.Create(ctx, cfg.Output.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		rows, err := st.Recent(ctx, opts.limit)
		if err != nil {
			return err
		}
		for _, r := range rows {
			lines = append(lines, r.Line())
		}
	} else {
		path := opts.from
		if path == "" {
			path = cfg.Output.ResultsCSVPath()
		}
		var err error
		if lines, err = results.ReadCSV(path); err != nil {
			return err
		}
	}
	logger.Debug("Rendering report.", zap.Int("lines", len(lines)), zap.String("format", opts.format))

	// 2. Render.
	var (
		reporter reporting.Reporter
		err      error
	)
	if opts.output == "" || opts.output == "stdout" {
		reporter, err = reporting.NewWithWriter(opts.format, writeNopCloser{stdout})
	} else {
		reporter, err = reporting.New(opts.format, opts.output)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}
	for _, l := range lines {
		if err := reporter.Write(l); err != nil {
			_ = reporter.Close()
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finish report: %w", err)
	}
	if opts.output != "" && opts.output != "stdout" {
		logger.Info("Report written.", zap.String("path", opts.output))
	}
	return nil
}

type writeNopCloser struct{ io.Writer }

func (writeNopCloser) Close() error { return nil }
