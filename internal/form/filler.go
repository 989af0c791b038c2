// File: internal/form/filler.go
package form

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/browser"
	"github.com/xkilldash9x/erpfill/internal/records"
	"github.com/xkilldash9x/erpfill/internal/selectors"
)

// Page is the subset of a browser tab the workflow drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) string
	Inspect(ctx context.Context, sel string) browser.ElementKind
	Exists(ctx context.Context, sel string) bool
	Click(ctx context.Context, sel string) browser.ActionResult
	SetText(ctx context.Context, sel, value string) browser.ActionResult
	SelectOption(ctx context.Context, sel, value string) browser.ActionResult
	SetCheckbox(ctx context.Context, sel string, checked bool) browser.ActionResult
	SelectRadio(ctx context.Context, sel, value string) browser.ActionResult
	AwaitOutcome(ctx context.Context, fromURL string, markers []string, timeout time.Duration) browser.Outcome
}

// Options tune a single Fill.
type Options struct {
	// DryRun fills fields but never clicks dependents or submit.
	DryRun bool
	// SubmitTimeout bounds the wait for a save confirmation and for dependents.
	SubmitTimeout time.Duration
	// FollowURL overrides the form's redirect after saving.
	FollowURL string
}

// Report accumulates what happened to one record on one form.
type Report struct {
	Filled    []string
	Errors    []string
	Actions   []string
	Skipped   []string
	Submitted bool
	Outcome   browser.Outcome
	TargetURL string
}

func (r *Report) merge(o Report) {
	r.Filled = append(r.Filled, o.Filled...)
	r.Errors = append(r.Errors, o.Errors...)
	r.Actions = append(r.Actions, o.Actions...)
}

// Filler maps record fields onto a page.
type Filler struct {
	page   Page
	logger *zap.Logger
}

func NewFiller(page Page, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Filler{page: page, logger: logger.Named("form")}
}

// Resolve returns the first candidate that matches an element on the page.
func (f *Filler) Resolve(ctx context.Context, candidates []string) (string, bool) {
	for _, sel := range candidates {
		if f.page.Exists(ctx, sel) {
			return sel, true
		}
	}
	return "", false
}

// FillFields fills every non-empty record field the form maps. A failing field
// is recorded and the next one is attempted.
func (f *Filler) FillFields(ctx context.Context, form selectors.Form, rec records.Record) Report {
	var rep Report
	for _, field := range form.FieldOrder() {
		if ctx.Err() != nil {
			break
		}
		value := rec.Get(field)
		if value == "" {
			continue
		}

		res, action := f.fillField(ctx, field, form.Fields[field], value)
		if res.OK {
			rep.Filled = append(rep.Filled, field)
			rep.Actions = append(rep.Actions, action+" "+field)
			f.logger.Debug("Field filled.", zap.String("field", field), zap.String("mode", res.Mode))
			continue
		}
		msg := fmt.Sprintf("%s: %s", field, res.Reason)
		rep.Errors = append(rep.Errors, msg)
		f.logger.Warn("Field not filled.", zap.String("field", field), zap.String("reason", res.Reason))
	}
	return rep
}

func (f *Filler) fillField(ctx context.Context, field string, candidates []string, value string) (browser.ActionResult, string) {
	if len(candidates) == 0 {
		return browser.Failed("no selector configured"), ""
	}
	sel, ok := f.Resolve(ctx, candidates)
	if !ok {
		return browser.Failed("no element matched %d selector(s)", len(candidates)), ""
	}

	switch kind := f.page.Inspect(ctx, sel); kind {
	case browser.KindSelect:
		return f.page.SelectOption(ctx, sel, value), "select"
	case browser.KindCheckbox:
		return f.page.SetCheckbox(ctx, sel, browser.IsTruthy(value)), "check"
	case browser.KindRadio:
		return f.page.SelectRadio(ctx, sel, value), "choose"
	case browser.KindInput, browser.KindTextarea:
		return f.page.SetText(ctx, sel, value), "type"
	case browser.KindMissing:
		return browser.Failed("element %s disappeared", sel), ""
	default:
		return browser.Failed("unsupported element %s (%s)", sel, kind), ""
	}
}

// Fill runs the whole workflow for one record: navigate, fill, trigger
// dependents, submit and follow the redirect. Field problems land in the
// report; the error is reserved for failures that abort the record.
func (f *Filler) Fill(ctx context.Context, form selectors.Form, rec records.Record, opts Options) (rep Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Panic during form fill.", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic during form fill: %v", r)
		}
	}()

	// 1. Reach the form.
	target := rec.Get(records.FieldNextPage)
	if target == "" {
		target = form.URL
	}
	if target != "" {
		if err := f.page.Navigate(ctx, target); err != nil {
			return rep, fmt.Errorf("failed to open form: %w", err)
		}
	}

	// 2. Fields.
	rep.merge(f.FillFields(ctx, form, rec))
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// 3. Dependent actions, e.g. saving a sub-detail grid.
	present := rec.Present()
	for _, dep := range form.Dependents {
		if !dep.Triggered(present) {
			continue
		}
		if opts.DryRun {
			rep.Skipped = append(rep.Skipped, "dependent "+dep.Name)
			continue
		}
		f.runDependent(ctx, dep, opts.SubmitTimeout, &rep)
	}

	// 4. Submit.
	if len(form.Submit) > 0 {
		if opts.DryRun {
			rep.Skipped = append(rep.Skipped, "submit")
			f.logger.Info("Dry run, submit skipped.", zap.Int("row", rec.Row()))
		} else if err := f.submit(ctx, form, opts, &rep); err != nil {
			return rep, err
		}
	}

	// 5. Redirect.
	follow := opts.FollowURL
	if follow == "" {
		follow = form.RedirectURL
	}
	if follow != "" {
		if err := f.page.Navigate(ctx, follow); err != nil {
			return rep, fmt.Errorf("failed to follow redirect: %w", err)
		}
	}
	rep.TargetURL = f.page.CurrentURL(ctx)
	return rep, nil
}

func (f *Filler) runDependent(ctx context.Context, dep selectors.Dependent, timeout time.Duration, rep *Report) {
	sel, ok := f.Resolve(ctx, dep.Click)
	if !ok {
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: no element matched %d selector(s)", dep.Name, len(dep.Click)))
		return
	}
	if res := f.page.Click(ctx, sel); !res.OK {
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: %s", dep.Name, res.Reason))
		return
	}
	rep.Actions = append(rep.Actions, "click "+dep.Name)

	if len(dep.Await) == 0 {
		return
	}
	if out := f.page.AwaitOutcome(ctx, "", dep.Await, timeout); out.Kind == browser.OutcomeTimeout {
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: no confirmation within %s", dep.Name, timeout))
	}
}

func (f *Filler) submit(ctx context.Context, form selectors.Form, opts Options, rep *Report) error {
	from := f.page.CurrentURL(ctx)
	sel, ok := f.Resolve(ctx, form.Submit)
	if !ok {
		return fmt.Errorf("submit button not found (tried %d selector(s))", len(form.Submit))
	}
	if res := f.page.Click(ctx, sel); !res.OK {
		return fmt.Errorf("submit failed: %w", res.Err())
	}
	rep.Submitted = true
	rep.Actions = append(rep.Actions, "click submit")

	rep.Outcome = f.page.AwaitOutcome(ctx, from, form.Confirm, opts.SubmitTimeout)
	f.logger.Info("Form submitted.",
		zap.String("outcome", rep.Outcome.Kind.String()),
		zap.String("detail", rep.Outcome.Detail))

	if len(form.ConfirmAccept) > 0 {
		if sel, ok := f.Resolve(ctx, form.ConfirmAccept); ok {
			if res := f.page.Click(ctx, sel); res.OK {
				rep.Actions = append(rep.Actions, "click confirm")
			} else {
				rep.Errors = append(rep.Errors, "confirm: "+res.Reason)
			}
		}
	}
	return ctx.Err()
}
