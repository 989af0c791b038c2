// internal/browser/session_test.go
package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/erpfill/internal/browser"
	"github.com/xkilldash9x/erpfill/internal/config"
)

const formPage = `<!doctype html>
<html><body>
<form id="f" onsubmit="return false;">
  <input id="name" type="text">
  <textarea id="notes"></textarea>
  <select id="mode">
    <option value="">--</option>
    <option value="CHQ">Cheque</option>
    <option value="NEFT">Electronic Transfer (NEFT)</option>
  </select>
  <input id="agree" type="checkbox">
  <input id="optCash" name="payMode" type="radio" value="C"><label for="optCash">Cash</label>
  <input id="optBank" name="payMode" type="radio" value="B"><label for="optBank">Bank Transfer</label>
  <input id="hidden-btn" type="submit" style="display:none">
  <button id="save" type="button" onclick="alert('Saved successfully'); document.body.insertAdjacentHTML('beforeend', '<div class=ok>ok</div>')">Save</button>
  <a id="next" href="/next">next</a>
</form>
<script>localStorage.setItem('token', 'abc');</script>
</body></html>`

func chromePath(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome or Chromium installed")
	return ""
}

type fixture struct {
	session *browser.Session
	server  *httptest.Server
	ctx     context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()
	exe := chromePath(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Path == "/next" {
			fmt.Fprint(w, `<html><body><h1 id="landed">next</h1></body></html>`)
			return
		}
		fmt.Fprint(w, formPage)
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	t.Cleanup(cancel)

	cfg := config.BrowserConfig{
		Headless:          true,
		ExecPath:          exe,
		WindowWidth:       1024,
		WindowHeight:      768,
		NavigationTimeout: 20 * time.Second,
		ActionTimeout:     3 * time.Second,
		Persona:           config.PersonaConfig{Locale: "en-US", Languages: []string{"en-US", "en"}},
	}
	mgr, err := browser.NewManager(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = mgr.Shutdown(sctx)
	})

	s, err := mgr.NewSession(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Navigate(ctx, server.URL))
	return &fixture{session: s, server: server, ctx: ctx}
}

func TestSession_Actions(t *testing.T) {
	f := setup(t)
	s, ctx := f.session, f.ctx

	t.Run("inspect classifies controls", func(t *testing.T) {
		assert.Equal(t, browser.KindInput, s.Inspect(ctx, "#name"))
		assert.Equal(t, browser.KindTextarea, s.Inspect(ctx, "#notes"))
		assert.Equal(t, browser.KindSelect, s.Inspect(ctx, "#mode"))
		assert.Equal(t, browser.KindCheckbox, s.Inspect(ctx, "#agree"))
		assert.Equal(t, browser.KindMissing, s.Inspect(ctx, "#nope"))
		assert.Equal(t, browser.KindMissing, s.Inspect(ctx, "::not a selector"))
	})

	t.Run("set text", func(t *testing.T) {
		assert.True(t, s.SetText(ctx, "#name", "Alice").OK)
		assert.True(t, s.SetText(ctx, "#notes", "first line").OK)
		v, ok := s.Value(ctx, "#name")
		assert.True(t, ok)
		assert.Equal(t, "Alice", v)
		_, ok = s.Value(ctx, "#missing")
		assert.False(t, ok)
		res := s.SetText(ctx, "#missing", "x")
		assert.False(t, res.OK)
		assert.NotEmpty(t, res.Reason)
	})

	t.Run("select by value, text and substring", func(t *testing.T) {
		assert.Equal(t, "value", s.SelectOption(ctx, "#mode", "CHQ").Mode)
		assert.Equal(t, "text", s.SelectOption(ctx, "#mode", "Cheque").Mode)
		assert.Equal(t, "partial", s.SelectOption(ctx, "#mode", "neft").Mode)
		res := s.SelectOption(ctx, "#mode", "Cash")
		assert.False(t, res.OK)
		assert.Contains(t, res.Reason, "no option matches")
		assert.False(t, s.SelectOption(ctx, "#name", "x").OK)
	})

	t.Run("checkbox only clicks when needed", func(t *testing.T) {
		assert.Equal(t, "click", s.SetCheckbox(ctx, "#agree", true).Mode)
		assert.Equal(t, "unchanged", s.SetCheckbox(ctx, "#agree", true).Mode)
		assert.True(t, s.SetCheckbox(ctx, "#agree", false).OK)
	})

	t.Run("radio picks the group member by value or label", func(t *testing.T) {
		assert.Equal(t, "text", s.SelectRadio(ctx, "#optCash", "Bank Transfer").Mode)
		assert.Equal(t, "unchanged", s.SetCheckbox(ctx, "#optBank", true).Mode, "the chosen radio is now checked")

		assert.Equal(t, "value", s.SelectRadio(ctx, "#optBank", "C").Mode)
		assert.Equal(t, "partial", s.SelectRadio(ctx, "#optCash", "bank").Mode)

		res := s.SelectRadio(ctx, "#optCash", "Cheque")
		assert.False(t, res.OK)
		assert.Contains(t, res.Reason, "no radio matches")
		assert.False(t, s.SelectRadio(ctx, "#agree", "Cash").OK)
	})

	t.Run("click on a missing element fails without error", func(t *testing.T) {
		res := s.Click(ctx, "#does-not-exist")
		assert.False(t, res.OK)
		assert.Equal(t, "element not found", res.Reason)
	})

	t.Run("dialog is accepted and reported", func(t *testing.T) {
		from := s.CurrentURL(ctx)
		require.True(t, s.Click(ctx, "#save").OK)
		out := s.AwaitOutcome(ctx, from, nil, 5*time.Second)
		assert.Equal(t, browser.OutcomeDialog, out.Kind)
		assert.Equal(t, "Saved successfully", out.Detail)
		assert.True(t, s.Exists(ctx, "div.ok"))
	})

	t.Run("marker and navigation outcomes", func(t *testing.T) {
		from := s.CurrentURL(ctx)
		out := s.AwaitOutcome(ctx, from, []string{"div.ok"}, time.Second)
		assert.Equal(t, browser.OutcomeMarker, out.Kind)

		require.True(t, s.Click(ctx, "#next").OK)
		out = s.AwaitOutcome(ctx, from, nil, 5*time.Second)
		assert.Equal(t, browser.OutcomeNavigated, out.Kind)
		assert.Equal(t, f.server.URL+"/next", out.Detail)

		out = s.AwaitOutcome(ctx, s.CurrentURL(ctx), []string{"#never"}, 300*time.Millisecond)
		assert.Equal(t, browser.OutcomeTimeout, out.Kind)
	})
}

func TestSession_Artifacts(t *testing.T) {
	f := setup(t)
	s, ctx := f.session, f.ctx
	dir := t.TempDir()

	shot := filepath.Join(dir, "shots", "row-2.png")
	require.NoError(t, s.Screenshot(ctx, shot))
	data, err := os.ReadFile(shot)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x89PNG"), data[:4])

	state := filepath.Join(dir, "state", "alice.json")
	require.NoError(t, s.SaveState(ctx, state))
	raw, err := os.ReadFile(state)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"token": "abc"`)
	assert.Contains(t, string(raw), f.server.URL)

	require.NoError(t, s.ClearState(ctx))
	html, err := s.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, `id="save"`)
}

func TestSession_NavigateFailure(t *testing.T) {
	f := setup(t)
	err := f.session.Navigate(f.ctx, "http://127.0.0.1:1/unreachable")
	assert.Error(t, err)
}
