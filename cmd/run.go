// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/auth"
	"github.com/xkilldash9x/erpfill/internal/browser"
	"github.com/xkilldash9x/erpfill/internal/config"
	"github.com/xkilldash9x/erpfill/internal/driver"
	"github.com/xkilldash9x/erpfill/internal/observability"
	"github.com/xkilldash9x/erpfill/internal/records"
	"github.com/xkilldash9x/erpfill/internal/results"
	"github.com/xkilldash9x/erpfill/internal/selectors"
)

// sessionFactory opens the browser tab a run drives. Tests swap in a mock page.
type sessionFactory interface {
	Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Page, func(), error)
}

type chromeSessionFactory struct{}

// NewSessionFactory returns the factory that launches a local Chrome.
func NewSessionFactory() sessionFactory {
	return chromeSessionFactory{}
}

func (chromeSessionFactory) Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Page, func(), error) {
	manager, err := browser.NewManager(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	session, err := manager.NewSession(ctx)
	if err != nil {
		_ = manager.Shutdown(context.Background())
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown failed.", zap.Error(err))
		}
	}
	return session, cleanup, nil
}

func newRunCmd(sessions sessionFactory, stores storeProvider) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Log in and fill the configured form for every spreadsheet row",
		Long: `Reads the input spreadsheet (xlsx or csv), logs each row's user into the ERP,
fills the selected form and appends one line per row to the results CSV.
A failing row never stops the run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.Run.InputPath = args[0]
			}
			sum, csvPath, err := runFill(ctx, observability.GetLogger(), cfg, sessions, stores)
			if sum.RunID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s: %d row(s), %d succeeded, %d failed. Results: %s\n",
					sum.RunID, sum.Total, sum.Succeeded, sum.Failed, csvPath)
			}
			if errors.Is(err, context.Canceled) {
				return fmt.Errorf("run aborted by user signal")
			}
			return err
		},
	}

	fs := runCmd.Flags()
	fs.String("sheet", "", "worksheet name (default: the active sheet)")
	fs.String("login-url", "", "ERP login page")
	fs.String("form", "", "registry form to fill after login (empty: login only)")
	fs.Bool("dry-run", false, "fill fields but never submit")
	fs.Int("max-rows", 0, "process at most this many rows (0: all)")
	fs.Int("login-attempts", 0, "login attempts per row")
	fs.Bool("headless", true, "run Chrome without a window")
	fs.String("selectors", "", "selector override file (yaml, json or json5)")
	fs.String("screenshots", "", "screenshot policy: off, failure or always")
	fs.Int("rows-per-minute", 0, "pace rows (0: no pacing)")
	fs.String("output-dir", "", "directory for results, screenshots, state and logs")
	fs.String("database-url", "", "also record results in this PostgreSQL database")
	for flag, key := range map[string]string{
		"sheet":           "run.sheet",
		"login-url":       "run.login_url",
		"form":            "run.form",
		"dry-run":         "run.dry_run",
		"max-rows":        "run.max_rows",
		"login-attempts":  "run.login_attempts",
		"headless":        "browser.headless",
		"selectors":       "selectors.path",
		"screenshots":     "run.screenshot_policy",
		"rows-per-minute": "run.rows_per_minute",
		"output-dir":      "output.dir",
		"database-url":    "output.database_url",
	} {
		annotate(fs, flag, key)
	}
	return runCmd
}

// loadRegistry returns the built-in selectors with the optional override
// file merged over them, validated for a run.
func loadRegistry(path string) (*selectors.Registry, error) {
	reg, err := selectors.Load(path)
	if err != nil {
		return nil, err
	}
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid selectors: %w", err)
	}
	return reg, nil
}

// runFill is the testable body of the run command.
func runFill(ctx context.Context, logger *zap.Logger, cfg *config.Config, sessions sessionFactory, stores storeProvider) (driver.Summary, string, error) {
	var sum driver.Summary

	// 1. Per-run log next to the global one.
	runLog, err := observability.NewRunLog(logger, cfg.Output.LogsPath(), time.Now())
	if err != nil {
		return sum, "", err
	}
	defer runLog.Close()
	logger = runLog.Logger
	logger.Info("Run log opened.", zap.String("path", runLog.Path))

	// 2. Input and selectors, before anything touches the browser.
	source := records.NewSource(logger, records.DefaultParsers(cfg.Run.InputPath, cfg.Run.Sheet)...)
	recs, err := source.Load(ctx, cfg.Run.InputPath)
	if err != nil {
		return sum, "", err
	}
	reg, err := loadRegistry(cfg.Selectors.Path)
	if err != nil {
		return sum, "", err
	}
	for _, dir := range []string{cfg.Output.ScreenshotsPath(), cfg.Output.StatePath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return sum, "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	// 3. Result sinks.
	csvWriter, err := results.OpenCSV(cfg.Output.ResultsCSVPath())
	if err != nil {
		return sum, "", err
	}
	defer func() {
		if err := csvWriter.Close(); err != nil {
			logger.Warn("Failed to close results file.", zap.Error(err))
		}
	}()
	sink := results.MultiSink{csvWriter}
	if cfg.Output.DatabaseURL != "" {
		st, cleanup, err := stores.Create(ctx, cfg.Output.DatabaseURL, logger)
		if err != nil {
			return sum, csvWriter.Path(), fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		sink = append(sink, st)
	}

	// 4. Browser.
	page, closePage, err := sessions.Open(ctx, cfg.Browser, logger)
	if err != nil {
		return sum, csvWriter.Path(), fmt.Errorf("failed to start browser: %w", err)
	}
	if closePage != nil {
		defer closePage()
	}

	// 5. Drive.
	d, err := driver.New(page, reg, sink, driver.Options{
		Form:          cfg.Run.Form,
		DryRun:        cfg.Run.DryRun,
		MaxRows:       cfg.Run.MaxRows,
		Screenshots:   cfg.Run.ScreenshotPolicy,
		ScreenshotDir: cfg.Output.ScreenshotsPath(),
		StateDir:      cfg.Output.StatePath(),
		SubmitTimeout: cfg.Run.PostSaveWait(),
		RowsPerMinute: cfg.Run.RowsPerMinute,
		Login: auth.Options{
			URL:            cfg.Run.LoginURL,
			Attempts:       cfg.Run.LoginAttempts,
			CaptchaWait:    cfg.Run.CaptchaWait(),
			NavigationWait: cfg.Browser.NavigationTimeout,
		},
	}, logger)
	if err != nil {
		return sum, csvWriter.Path(), err
	}
	sum, err = d.Run(ctx, recs)
	return sum, csvWriter.Path(), err
}
