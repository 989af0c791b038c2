// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/erpfill/internal/config"
	"github.com/xkilldash9x/erpfill/internal/driver"
	"github.com/xkilldash9x/erpfill/internal/mocks"
	"github.com/xkilldash9x/erpfill/internal/observability"
	"github.com/xkilldash9x/erpfill/internal/store"
)

const (
	testLoginURL = "https://erp.example.test/Login.aspx"
	testHomeURL  = "https://erp.example.test/Home.aspx"
)

// mockSessionFactory hands out a cooperative mock page instead of launching Chrome.
type mockSessionFactory struct {
	page   *mocks.MockPage
	err    error
	opened int
}

func (f *mockSessionFactory) Open(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (driver.Page, func(), error) {
	f.opened++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.page, func() {}, nil
}

// noCaptcha hides every captcha candidate so logins never pause.
func noCaptcha(m *mocks.MockPage) {
	m.On("Exists", mock.Anything, mock.MatchedBy(func(sel string) bool {
		return strings.Contains(strings.ToLower(sel), "captcha")
	})).Return(false)
}

func newMockSessions() *mockSessionFactory {
	return &mockSessionFactory{page: mocks.NewCooperativePage(testHomeURL, noCaptcha)}
}

// funcStoreProvider adapts a function to storeProvider.
type funcStoreProvider func(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error)

func (f funcStoreProvider) Create(ctx context.Context, url string, logger *zap.Logger) (*store.Store, func(), error) {
	return f(ctx, url, logger)
}

var unusedStores = funcStoreProvider(func(context.Context, string, *zap.Logger) (*store.Store, func(), error) {
	return nil, nil, errors.New("no database in this test")
})

// executeCommand runs a fresh command tree and returns what it wrote to stdout and stderr.
func executeCommand(t *testing.T, sessions sessionFactory, stores storeProvider, args ...string) (string, string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := newRootCmd(sessions, stores)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--env-file", "", "--config", writeFile(t, "config.yaml", "logger:\n  log_file: \"\"\n  level: error\n")))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
