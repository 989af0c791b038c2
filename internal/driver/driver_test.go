// File: internal/driver/driver_test.go
package driver_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/erpfill/internal/auth"
	"github.com/xkilldash9x/erpfill/internal/config"
	"github.com/xkilldash9x/erpfill/internal/driver"
	"github.com/xkilldash9x/erpfill/internal/mocks"
	"github.com/xkilldash9x/erpfill/internal/records"
	"github.com/xkilldash9x/erpfill/internal/results"
	"github.com/xkilldash9x/erpfill/internal/selectors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	loginURL = "https://erp.example.test/Login.aspx"
	homeURL  = "https://erp.example.test/Home.aspx"
)

// collector is a results.Sink that keeps everything in memory.
type collector struct {
	mu   sync.Mutex
	rows []results.RowResult
	err  error
}

func (c *collector) Record(_ context.Context, r results.RowResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, r)
	return c.err
}

func registry(t *testing.T) *selectors.Registry {
	t.Helper()
	reg, err := selectors.Default()
	require.NoError(t, err)
	reg.Login.Captcha = nil
	return reg
}

func options(t *testing.T) driver.Options {
	dir := t.TempDir()
	return driver.Options{
		Form:          "transaction_payment",
		Screenshots:   config.ScreenshotFailure,
		ScreenshotDir: filepath.Join(dir, "shots"),
		StateDir:      filepath.Join(dir, "state"),
		SubmitTimeout: time.Second,
		Login:         auth.Options{URL: loginURL, Attempts: 2, NavigationWait: time.Second},
	}
}

func row(n int, user, password string) records.Record {
	return records.NewRecord(n, map[string]string{
		records.FieldUserName:        user,
		records.FieldPassword:        password,
		records.FieldTransactionType: "Payment",
		records.FieldPaymentAmount:   "250",
	})
}

func TestRun_ThreeRowsOneMalformed(t *testing.T) {
	page := mocks.NewCooperativePage(homeURL)
	sink := &collector{}
	d, err := driver.New(page, registry(t), sink, options(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	recs := []records.Record{row(2, "alice", "pw1"), row(3, "bob", ""), row(4, "carol", "pw3")}
	sum, err := d.Run(context.Background(), recs)
	require.NoError(t, err)

	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Failed)

	require.Len(t, sink.rows, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{sink.rows[0].Row, sink.rows[1].Row, sink.rows[2].Row})

	bad := sink.rows[1]
	assert.False(t, bad.Success)
	assert.Contains(t, bad.Exception, "Password")
	assert.Zero(t, bad.Attempts)
	assert.Empty(t, bad.Screenshot, "no screenshot for a row that never touched the browser")

	for _, r := range []results.RowResult{sink.rows[0], sink.rows[2]} {
		assert.True(t, r.Success, r.Message())
		assert.Equal(t, 1, r.Attempts)
		assert.Equal(t, sum.RunID, r.RunID)
		assert.Equal(t, homeURL, r.TargetURL)
		assert.Contains(t, r.Filled, records.FieldPaymentAmount)
		assert.Equal(t, r.Username+".json", filepath.Base(r.StateFile))
	}

	page.AssertNumberOfCalls(t, "Navigate", 2)
	page.AssertNumberOfCalls(t, "ClearState", 2)
	page.AssertCalled(t, "SetText", mock.Anything, mock.Anything, "alice")
	page.AssertCalled(t, "SetText", mock.Anything, mock.Anything, "carol")
	page.AssertNotCalled(t, "SetText", mock.Anything, mock.Anything, "bob")
}

func TestRun_DryRunNeverSubmits(t *testing.T) {
	page := mocks.NewCooperativePage(homeURL)
	sink := &collector{}
	opts := options(t)
	opts.DryRun = true
	d, err := driver.New(page, registry(t), sink, opts, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), []records.Record{row(2, "alice", "pw")})
	require.NoError(t, err)

	require.Len(t, sink.rows, 1)
	assert.True(t, sink.rows[0].Success)
	assert.Contains(t, sink.rows[0].Skipped, "submit")
	page.AssertNotCalled(t, "Click", mock.Anything, "#btnSave")
	// The login button is still clicked.
	page.AssertCalled(t, "Click", mock.Anything, "#btnLogin")
}

func TestRun_LoginAttemptsAreBounded(t *testing.T) {
	page := mocks.NewCooperativePage(loginURL, func(m *mocks.MockPage) {
		m.On("HTML", mock.Anything).Return(`<input id="txtPassword">`, nil)
	})
	sink := &collector{}
	reg := registry(t)
	reg.Login.Success.URLContains = nil
	opts := options(t)
	opts.Login.Attempts = 3
	d, err := driver.New(page, reg, sink, opts, zaptest.NewLogger(t))
	require.NoError(t, err)

	sum, err := d.Run(context.Background(), []records.Record{row(2, "alice", "pw")})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)

	require.Len(t, sink.rows, 1)
	r := sink.rows[0]
	assert.Equal(t, 3, r.Attempts)
	assert.Contains(t, r.Exception, "login failed after 3 attempt(s)")
	assert.NotEmpty(t, r.Screenshot)
	assert.True(t, strings.HasSuffix(r.Screenshot, "-row2-alice-failed.png"), r.Screenshot)
	page.AssertNumberOfCalls(t, "Navigate", 3)
	page.AssertNotCalled(t, "SaveState", mock.Anything, mock.Anything)
}

func TestRun_PanicBecomesRowException(t *testing.T) {
	page := mocks.NewCooperativePage(homeURL, func(m *mocks.MockPage) {
		m.On("SaveState", mock.Anything, mock.MatchedBy(func(p string) bool {
			return strings.HasSuffix(p, "alice.json")
		})).Panic("tab crashed")
	})
	sink := &collector{}
	d, err := driver.New(page, registry(t), sink, options(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	sum, err := d.Run(context.Background(), []records.Record{row(2, "alice", "pw"), row(3, "bob", "pw")})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.Failed)

	require.Len(t, sink.rows, 2)
	assert.Contains(t, sink.rows[0].Exception, "panic while processing row: tab crashed")
	assert.True(t, sink.rows[1].Success)
}

func TestRun_MaxRowsAndPolicies(t *testing.T) {
	t.Run("stops after the row cap", func(t *testing.T) {
		page := mocks.NewCooperativePage(homeURL)
		sink := &collector{}
		opts := options(t)
		opts.MaxRows = 1
		d, err := driver.New(page, registry(t), sink, opts, zaptest.NewLogger(t))
		require.NoError(t, err)

		sum, err := d.Run(context.Background(), []records.Record{row(2, "a", "p"), row(3, "b", "p")})
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Total)
		assert.Len(t, sink.rows, 1)
	})

	t.Run("always policy captures successful rows", func(t *testing.T) {
		page := mocks.NewCooperativePage(homeURL)
		sink := &collector{}
		opts := options(t)
		opts.Screenshots = config.ScreenshotAlways
		d, err := driver.New(page, registry(t), sink, opts, zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = d.Run(context.Background(), []records.Record{row(2, "a", "p")})
		require.NoError(t, err)
		require.Len(t, sink.rows, 1)
		assert.True(t, strings.HasSuffix(sink.rows[0].Screenshot, "-row2-a-ok.png"))
	})

	t.Run("off policy never captures", func(t *testing.T) {
		page := mocks.NewCooperativePage(homeURL, func(m *mocks.MockPage) {
			m.On("Exists", mock.Anything, "#btnSave").Return(false)
			m.On("Exists", mock.Anything, mock.MatchedBy(func(s string) bool {
				return strings.Contains(s, "Save")
			})).Return(false)
		})
		sink := &collector{}
		opts := options(t)
		opts.Screenshots = config.ScreenshotOff
		d, err := driver.New(page, registry(t), sink, opts, zaptest.NewLogger(t))
		require.NoError(t, err)

		_, err = d.Run(context.Background(), []records.Record{row(2, "a", "p")})
		require.NoError(t, err)
		require.Len(t, sink.rows, 1)
		assert.Contains(t, sink.rows[0].Exception, "submit button not found")
		assert.Empty(t, sink.rows[0].Screenshot)
		page.AssertNotCalled(t, "Screenshot", mock.Anything, mock.Anything)
	})
}

func TestRun_SinkErrorsDoNotStopTheRun(t *testing.T) {
	page := mocks.NewCooperativePage(homeURL)
	sink := &collector{err: errors.New("disk full")}
	d, err := driver.New(page, registry(t), sink, options(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	sum, err := d.Run(context.Background(), []records.Record{row(2, "a", "p"), row(3, "b", "p")})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Total)
	assert.Len(t, sink.rows, 2)
}

func TestRun_CanceledContext(t *testing.T) {
	page := mocks.NewCooperativePage(homeURL)
	sink := &collector{}
	d, err := driver.New(page, registry(t), sink, options(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := d.Run(ctx, []records.Record{row(2, "a", "p")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sum.Total)
	assert.Empty(t, sink.rows)
}

// ctxCollector remembers whether the context it was handed was still live.
type ctxCollector struct {
	collector
	liveCtx []bool
}

func (c *ctxCollector) Record(ctx context.Context, r results.RowResult) error {
	c.mu.Lock()
	c.liveCtx = append(c.liveCtx, ctx.Err() == nil)
	c.mu.Unlock()
	return c.collector.Record(ctx, r)
}

func TestRun_InterruptFinishesRowInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page := mocks.NewCooperativePage(homeURL, func(m *mocks.MockPage) {
		// The interrupt lands while the first row is logging in.
		m.On("Navigate", mock.Anything, loginURL).Run(func(mock.Arguments) { cancel() }).Return(nil).Once()
	})
	sink := &ctxCollector{}
	d, err := driver.New(page, registry(t), sink, options(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	sum, err := d.Run(ctx, []records.Record{row(2, "alice", "pw"), row(3, "bob", "pw")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 1, sum.Succeeded)

	require.Len(t, sink.rows, 1)
	assert.Equal(t, 2, sink.rows[0].Row)
	assert.True(t, sink.rows[0].Success, sink.rows[0].Message())
	assert.Contains(t, sink.rows[0].Filled, records.FieldPaymentAmount)
	assert.Equal(t, []bool{true}, sink.liveCtx, "the result of the finished row is stored with a live context")
	page.AssertNotCalled(t, "SetText", mock.Anything, mock.Anything, "bob")
}

func TestNew(t *testing.T) {
	page := mocks.NewCooperativePage(homeURL)

	_, err := driver.New(page, nil, nil, driver.Options{}, nil)
	assert.Error(t, err)

	opts := options(t)
	opts.Form = "payroll"
	_, err = driver.New(page, registry(t), nil, opts, nil)
	assert.ErrorContains(t, err, `unknown form "payroll"`)

	opts.Form = ""
	opts.RowsPerMinute = 600
	d, err := driver.New(page, registry(t), nil, opts, nil)
	require.NoError(t, err)
	sum, err := d.Run(context.Background(), []records.Record{row(2, "a", "p"), row(3, "b", "p")})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)
	page.AssertNotCalled(t, "Click", mock.Anything, "#btnSave")
}
