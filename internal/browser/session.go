// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const peekTimeout = 2 * time.Second

// Session is one browser tab.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	mu            sync.Mutex
	pendingDialog bool
	lastDialog    string
	isClosed      bool
}

// State is the JSON document written by SaveState.
type State struct {
	URL            string            `json:"url"`
	SavedAt        time.Time         `json:"savedAt"`
	Cookies        []*network.Cookie `json:"cookies"`
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
}

func newSession(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	return &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.Named("session").With(zap.String("session_id", id)),
		cfg:    cfg,
	}
}

// listen accepts every JavaScript dialog so that alert() and confirm() raised
// by a save never block the tab.
func (s *Session) listen() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		s.mu.Lock()
		s.pendingDialog = true
		s.lastDialog = e.Message
		s.mu.Unlock()
		s.logger.Info("Accepting page dialog.", zap.String("type", string(e.Type)), zap.String("message", e.Message))

		// Listeners must not block the event loop.
		go func() {
			if err := chromedp.Run(s.ctx, page.HandleJavaScriptDialog(true)); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("Failed to accept dialog.", zap.Error(err))
			}
		}()
	})
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// LastDialog returns the message of the most recent JavaScript dialog.
func (s *Session) LastDialog() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDialog
}

// takeDialog reports and clears a dialog seen since the last navigation or wait.
func (s *Session) takeDialog() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.pendingDialog
	s.pendingDialog = false
	return seen, s.lastDialog
}

// runActions executes actions bounded by both the tab lifetime and ctx.
func (s *Session) runActions(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := boundedContext(s.ctx, ctx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	s.takeDialog()
	navTimeout := s.cfg.NavigationTimeout

	if err := s.runActions(ctx, navTimeout, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if err := s.runActions(ctx, s.cfg.ActionTimeout, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("Body not ready after navigation.", zap.String("url", url), zap.Error(err))
	}
	return nil
}

// CurrentURL returns the tab's location, or "" when it cannot be read.
func (s *Session) CurrentURL(ctx context.Context) string {
	var loc string
	if err := s.runActions(ctx, peekTimeout, chromedp.Location(&loc)); err != nil {
		return ""
	}
	return loc
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.runActions(ctx, s.cfg.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page html: %w", err)
	}
	return html, nil
}

// Screenshot writes a PNG of the viewport to path.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.runActions(ctx, s.cfg.ActionTimeout, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot: %w", err)
	}
	return nil
}

// SaveState writes cookies, web storage and the current URL to path as JSON.
func (s *Session) SaveState(ctx context.Context, path string) error {
	state := State{SavedAt: time.Now().UTC()}
	err := s.runActions(ctx, s.cfg.ActionTimeout,
		chromedp.Location(&state.URL),
		chromedp.ActionFunc(func(c context.Context) error {
			return s.captureStorage(c, &state)
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to capture session state: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	return nil
}

const storageScript = `(function(kind) {
	const items = {};
	try {
		const s = window[kind];
		if (s) {
			for (let i = 0; i < s.length; i++) {
				const k = s.key(i);
				if (k) { items[k] = s.getItem(k); }
			}
		}
	} catch (e) {}
	return items;
})(%s)`

// captureStorage retrieves cookies and local/session storage.
func (s *Session) captureStorage(ctx context.Context, state *State) error {
	cookies, err := network.GetCookies().Do(ctx)
	if err != nil {
		s.logger.Warn("Failed to read cookies.", zap.Error(err))
	}
	state.Cookies = cookies

	if err := chromedp.Run(ctx,
		chromedp.Evaluate(fmt.Sprintf(storageScript, jsString("localStorage")), &state.LocalStorage),
		chromedp.Evaluate(fmt.Sprintf(storageScript, jsString("sessionStorage")), &state.SessionStorage),
	); err != nil {
		s.logger.Warn("Could not capture web storage.", zap.Error(err))
	}
	return nil
}

// ClearState drops cookies and web storage so the next user starts clean.
func (s *Session) ClearState(ctx context.Context) error {
	err := s.runActions(ctx, s.cfg.ActionTimeout,
		network.ClearBrowserCookies(),
		chromedp.Evaluate(`(function() {
			try { window.localStorage.clear(); } catch (e) {}
			try { window.sessionStorage.clear(); } catch (e) {}
			return true;
		})()`, nil),
	)
	if err != nil {
		return fmt.Errorf("failed to clear session state: %w", err)
	}
	return nil
}

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing session.")
	s.cancel()
	return nil
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}
