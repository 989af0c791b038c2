// File: internal/driver/driver.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/erpfill/internal/auth"
	"github.com/xkilldash9x/erpfill/internal/browser"
	"github.com/xkilldash9x/erpfill/internal/config"
	"github.com/xkilldash9x/erpfill/internal/form"
	"github.com/xkilldash9x/erpfill/internal/records"
	"github.com/xkilldash9x/erpfill/internal/results"
	"github.com/xkilldash9x/erpfill/internal/selectors"
)

// Page is the full browser surface a run needs.
type Page interface {
	auth.Page
	Screenshot(ctx context.Context, path string) error
	SaveState(ctx context.Context, path string) error
	ClearState(ctx context.Context) error
}

var _ Page = (*browser.Session)(nil)

// Options control a run.
type Options struct {
	// Form names the registry form filled after login. Empty means login only.
	Form          string
	DryRun        bool
	MaxRows       int
	Screenshots   string
	ScreenshotDir string
	StateDir      string
	SubmitTimeout time.Duration
	// FollowURL overrides the form's redirect_url.
	FollowURL     string
	RowsPerMinute int
	Login         auth.Options
}

// Summary counts the rows of a finished run.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    int
}

// Driver walks the records one at a time.
type Driver struct {
	page    Page
	reg     *selectors.Registry
	sink    results.Sink
	opts    Options
	logger  *zap.Logger
	limiter *rate.Limiter
	form    *selectors.Form
	auth    *auth.Authenticator
	filler  *form.Filler
}

// New wires a driver. The registry is used as given and never modified.
func New(page Page, reg *selectors.Registry, sink results.Sink, opts Options, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		return nil, errors.New("selector registry is required")
	}
	if opts.Screenshots == "" {
		opts.Screenshots = config.ScreenshotFailure
	}

	d := &Driver{
		page:   page,
		reg:    reg,
		sink:   sink,
		opts:   opts,
		logger: logger.Named("driver"),
		auth:   auth.NewAuthenticator(page, reg.Login, opts.Login, logger),
		filler: form.NewFiller(page, logger),
	}
	if opts.Form != "" {
		f, err := reg.Form(opts.Form)
		if err != nil {
			return nil, err
		}
		d.form = &f
	}
	if opts.RowsPerMinute > 0 {
		d.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RowsPerMinute)), 1)
	}
	return d, nil
}

// Run processes records in order. A failing row never stops the run; only a
// canceled context does.
func (d *Driver) Run(ctx context.Context, recs []records.Record) (Summary, error) {
	sum := Summary{RunID: uuid.NewString()}
	logger := d.logger.With(zap.String("run_id", sum.RunID))
	logger.Info("Run started.",
		zap.Int("records", len(recs)),
		zap.String("form", d.opts.Form),
		zap.Bool("dry_run", d.opts.DryRun),
		zap.Int("max_rows", d.opts.MaxRows))

	for _, rec := range recs {
		if d.opts.MaxRows > 0 && sum.Total >= d.opts.MaxRows {
			logger.Info("Row cap reached.", zap.Int("max_rows", d.opts.MaxRows))
			break
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return sum, err
			}
		}

		// Cancellation is honoured between rows. The row in flight finishes
		// on its own timeouts and its result is still recorded.
		rowCtx := context.WithoutCancel(ctx)
		res := d.processRecord(rowCtx, sum.RunID, rec)
		sum.Total++
		if res.Success {
			sum.Succeeded++
		} else {
			sum.Failed++
		}

		if d.sink != nil {
			if err := d.sink.Record(rowCtx, res); err != nil {
				logger.Error("Failed to record row result.", zap.Int("row", res.Row), zap.Error(err))
			}
		}
		logger.Info("Row processed.",
			zap.Int("row", res.Row),
			zap.String("user", res.Username),
			zap.Bool("success", res.Success),
			zap.Int("filled", len(res.Filled)),
			zap.Int("field_errors", len(res.FieldErrors)),
			zap.String("exception", res.Exception),
			zap.Duration("took", res.Duration()))
	}

	logger.Info("Run finished.",
		zap.Int("total", sum.Total),
		zap.Int("succeeded", sum.Succeeded),
		zap.Int("failed", sum.Failed))
	return sum, ctx.Err()
}

func (d *Driver) processRecord(ctx context.Context, runID string, rec records.Record) results.RowResult {
	tr := results.Begin(runID, rec.Row(), rec.Username())
	skipShot := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Panic while processing row.", zap.Int("row", rec.Row()), zap.Any("panic", r), zap.Stack("stack"))
				tr.Fail(fmt.Errorf("panic while processing row: %v", r))
			}
		}()
		skipShot = d.handle(ctx, tr, rec)
	}()

	policy := d.opts.Screenshots
	if !skipShot && (policy == config.ScreenshotAlways || (policy == config.ScreenshotFailure && tr.Failed())) {
		status := "ok"
		if tr.Failed() {
			status = "failed"
		}
		name := fmt.Sprintf("%s-row%d-%s-%s.png", shortID(runID), rec.Row(), safeName(rec.Username(), rec.Row()), status)
		path := filepath.Join(d.opts.ScreenshotDir, name)
		if err := d.page.Screenshot(ctx, path); err != nil {
			d.logger.Warn("Screenshot failed.", zap.Int("row", rec.Row()), zap.Error(err))
		} else {
			tr.Screenshot(path)
		}
	}
	return tr.Finish()
}

// handle runs login and the form for one record. It reports whether the
// page is unrelated to the row, in which case no screenshot is taken.
func (d *Driver) handle(ctx context.Context, tr *results.Tracker, rec records.Record) bool {
	if missing := rec.Missing(records.LoginFields...); len(missing) > 0 {
		_, err := d.auth.Login(ctx, rec)
		tr.Fail(err)
		return true
	}

	// 1. Start from a clean browser for each user.
	if err := d.page.ClearState(ctx); err != nil {
		d.logger.Debug("Could not clear session state.", zap.Error(err))
	}

	// 2. Login.
	out, err := d.auth.Login(ctx, rec)
	tr.Attempts(out.Attempts)
	tr.TargetURL(out.URL)
	if err != nil {
		tr.Fail(err)
		return false
	}

	// 3. Persist the authenticated session.
	statePath := filepath.Join(d.opts.StateDir, safeName(rec.Username(), rec.Row())+".json")
	if err := d.page.SaveState(ctx, statePath); err != nil {
		d.logger.Warn("Could not save session state.", zap.Int("row", rec.Row()), zap.Error(err))
		tr.FieldError("session state: " + err.Error())
	} else {
		tr.StateFile(statePath)
	}

	// 4. Form.
	if d.form == nil {
		return false
	}
	rep, err := d.filler.Fill(ctx, *d.form, rec, form.Options{
		DryRun:        d.opts.DryRun,
		SubmitTimeout: d.opts.SubmitTimeout,
		FollowURL:     d.opts.FollowURL,
	})
	tr.Filled(rep.Filled...)
	tr.FieldError(rep.Errors...)
	tr.Skipped(rep.Skipped...)
	if rep.TargetURL != "" {
		tr.TargetURL(rep.TargetURL)
	}
	if err != nil {
		tr.Fail(err)
	}
	return false
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// safeName turns a user name into a file name component.
func safeName(user string, row int) string {
	s := unsafeChars.ReplaceAllString(user, "_")
	if s == "" || s == "." || s == ".." {
		return fmt.Sprintf("row-%d", row)
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
