// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/browser/stealth"
	"github.com/xkilldash9x/erpfill/internal/config"
)

// Manager owns the Chrome process. A run uses a single Session from it.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	sessions []*Session
	closed   bool
}

// DefaultAllocatorOptions builds the exec allocator options for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-popup-blocking", true),
		chromedp.NoSandbox,
	)
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.Persona.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.Persona.UserAgent))
	}
	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// splitArg turns "--flag=value" or "--flag" into an allocator flag.
func splitArg(arg string) (string, interface{}) {
	key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	if !found {
		return key, true
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return key, b
	}
	return key, value
}

// NewManager launches Chrome. The process lives until Shutdown or until ctx is canceled.
// Timeouts come from cfg as is; config.SetDefaults is where they are defaulted.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid browser configuration: %w", err)
	}
	m := &Manager{cfg: cfg, logger: logger.Named("browser_manager")}

	m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg)...)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	// The first Run starts the process and must not carry a deadline.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.browserCancel()
		m.allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	m.logger.Info("Browser launched.", zap.Bool("headless", cfg.Headless))
	return m, nil
}

// NewSession opens a tab and prepares it for form filling.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is shut down")
	}
	m.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(m.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	s := newSession(tabCtx, cancel, m.cfg, m.logger)
	s.listen()

	persona := stealth.FromConfig(m.cfg.Persona)
	initCtx, initCancel := boundedContext(tabCtx, ctx, m.cfg.NavigationTimeout)
	defer initCancel()
	if err := chromedp.Run(initCtx, stealth.Apply(persona, s.logger)); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to apply browser persona: %w", err)
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()

	s.logger.Debug("Session opened.")
	return s, nil
}

// Shutdown closes every session and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := m.sessions
	m.sessions = nil
	m.mu.Unlock()

	m.logger.Info("Shutting down browser.")
	for _, s := range sessions {
		_ = s.Close()
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(m.browserCtx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("timed out closing browser: %w", ctx.Err())
	}
	m.browserCancel()
	m.allocCancel()
	return err
}
