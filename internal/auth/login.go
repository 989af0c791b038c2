// File: internal/auth/login.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/browser"
	"github.com/xkilldash9x/erpfill/internal/form"
	"github.com/xkilldash9x/erpfill/internal/records"
	"github.com/xkilldash9x/erpfill/internal/selectors"
)

var (
	// ErrMissingCredentials means the row lacks a user name or password; no attempt is made.
	ErrMissingCredentials = errors.New("missing login credentials")
	// ErrLoginFailed means every attempt ended without a success signal.
	ErrLoginFailed = errors.New("login failed")
	// ErrNoLoginURL means neither the configuration nor the selectors name a login page.
	ErrNoLoginURL = errors.New("no login url configured")
)

// Page is what the login step needs from a browser tab.
type Page interface {
	form.Page
	Value(ctx context.Context, sel string) (string, bool)
	HTML(ctx context.Context) (string, error)
}

// Options configure the login step.
type Options struct {
	URL            string
	Attempts       int
	CaptchaWait    time.Duration
	NavigationWait time.Duration
}

// Outcome describes a finished login step.
type Outcome struct {
	Attempts int
	Success  bool
	Reason   string
	URL      string
}

// Authenticator logs a record's user into the ERP.
type Authenticator struct {
	page   Page
	filler *form.Filler
	login  selectors.Login
	opts   Options
	logger *zap.Logger
}

func NewAuthenticator(page Page, login selectors.Login, opts Options, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.URL == "" {
		opts.URL = login.URL
	}
	return &Authenticator{
		page:   page,
		filler: form.NewFiller(page, logger),
		login:  login,
		opts:   opts,
		logger: logger.Named("auth"),
	}
}

// Login tries at most Options.Attempts times.
func (a *Authenticator) Login(ctx context.Context, rec records.Record) (Outcome, error) {
	var out Outcome
	if missing := rec.Missing(records.LoginFields...); len(missing) > 0 {
		out.Reason = "missing " + strings.Join(missing, ", ")
		return out, fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	if a.opts.URL == "" {
		out.Reason = ErrNoLoginURL.Error()
		return out, ErrNoLoginURL
	}

	logger := a.logger.With(zap.Int("row", rec.Row()), zap.String("user", rec.Username()))
	for i := 1; i <= a.opts.Attempts; i++ {
		out.Attempts = i
		ok, reason := a.attempt(ctx, rec)
		out.Reason = reason
		out.URL = a.page.CurrentURL(ctx)
		if ok {
			out.Success = true
			logger.Info("Login succeeded.", zap.Int("attempt", i), zap.String("signal", reason))
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		logger.Warn("Login attempt failed.", zap.Int("attempt", i), zap.Int("of", a.opts.Attempts), zap.String("reason", reason))
	}
	return out, fmt.Errorf("%w after %d attempt(s): %s", ErrLoginFailed, out.Attempts, out.Reason)
}

func (a *Authenticator) attempt(ctx context.Context, rec records.Record) (bool, string) {
	// 1. Fresh login page.
	if err := a.page.Navigate(ctx, a.opts.URL); err != nil {
		return false, err.Error()
	}

	// 2. Credentials and the other login fields.
	rep := a.filler.FillFields(ctx, a.login.Form, rec)
	for _, f := range records.LoginFields {
		if !slices.Contains(rep.Filled, f) {
			return false, "credentials not entered: " + strings.Join(rep.Errors, "; ")
		}
	}

	// 3. Manual captcha pause.
	from := a.page.CurrentURL(ctx)
	captcha, present := a.filler.Resolve(ctx, a.login.Captcha)
	if present || browser.IsTruthy(rec.Get(records.FieldValidateCaptcha)) {
		if a.awaitCaptcha(ctx, captcha, from) {
			// The operator already submitted the form.
			return a.evaluate(ctx)
		}
	}

	// 4. Submit and wait for the page to react.
	sel, ok := a.filler.Resolve(ctx, a.login.Submit)
	if !ok {
		return false, "login button not found"
	}
	if res := a.page.Click(ctx, sel); !res.OK {
		return false, "login click failed: " + res.Reason
	}
	a.page.AwaitOutcome(ctx, from, a.login.Success.Present, a.opts.NavigationWait)
	return a.evaluate(ctx)
}

// awaitCaptcha blocks until the captcha is answered, disappears or the page
// navigates, bounded by CaptchaWait. It reports whether the page navigated.
func (a *Authenticator) awaitCaptcha(ctx context.Context, sel, from string) bool {
	a.logger.Info("Captcha present, waiting for manual entry.", zap.Duration("max_wait", a.opts.CaptchaWait))
	navigated := false
	solved := browser.Poll(ctx, a.opts.CaptchaWait, func() bool {
		if u := a.page.CurrentURL(ctx); u != "" && u != from {
			navigated = true
			return true
		}
		if sel == "" {
			return false
		}
		v, exists := a.page.Value(ctx, sel)
		return !exists || strings.TrimSpace(v) != ""
	})
	if !solved {
		a.logger.Warn("Captcha wait elapsed, submitting anyway.")
	}
	return navigated
}

func (a *Authenticator) evaluate(ctx context.Context) (bool, string) {
	html, err := a.page.HTML(ctx)
	if err != nil {
		a.logger.Debug("Could not read page for login check.", zap.Error(err))
	}
	return Evaluate(html, a.opts.URL, a.page.CurrentURL(ctx), a.login.Success)
}
