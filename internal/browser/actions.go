// internal/browser/actions.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ActionResult is the outcome of a safe DOM action. Failures carry a reason
// instead of an error so callers can record them and keep going.
type ActionResult struct {
	OK     bool
	Reason string
	// Mode names the strategy that succeeded, e.g. "value" or "partial" for selects.
	Mode string
}

// Succeeded builds a successful result.
func Succeeded(mode string) ActionResult { return ActionResult{OK: true, Mode: mode} }

// Failed builds a failed result with a formatted reason.
func Failed(format string, args ...interface{}) ActionResult {
	return ActionResult{Reason: fmt.Sprintf(format, args...)}
}

// Err converts a failed result into an error, nil on success.
func (r ActionResult) Err() error {
	if r.OK {
		return nil
	}
	if r.Reason == "" {
		return errors.New("action failed")
	}
	return errors.New(r.Reason)
}

// ElementKind classifies a form control.
type ElementKind int

const (
	KindMissing ElementKind = iota
	KindInput
	KindTextarea
	KindSelect
	KindCheckbox
	KindRadio
	KindUnknown
)

func (k ElementKind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindInput:
		return "input"
	case KindTextarea:
		return "textarea"
	case KindSelect:
		return "select"
	case KindCheckbox:
		return "checkbox"
	case KindRadio:
		return "radio"
	default:
		return "unknown"
	}
}

// classify maps the descriptor produced by inspectScript onto a kind.
func classify(desc string) ElementKind {
	switch {
	case desc == "":
		return KindMissing
	case desc == "select":
		return KindSelect
	case desc == "textarea":
		return KindTextarea
	case strings.HasPrefix(desc, "input:"):
		switch strings.TrimPrefix(desc, "input:") {
		case "checkbox":
			return KindCheckbox
		case "radio":
			return KindRadio
		case "button", "submit", "reset", "image", "file":
			return KindUnknown
		default:
			return KindInput
		}
	default:
		return KindUnknown
	}
}

const inspectScript = `(function(sel) {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return ""; }
	if (!el) { return ""; }
	const tag = el.tagName.toLowerCase();
	if (tag === "input") { return "input:" + (el.getAttribute("type") || "text").toLowerCase(); }
	return tag;
})(%s)`

const existsScript = `(function(sel) {
	try { return document.querySelector(sel) !== null; } catch (e) { return false; }
})(%s)`

const clickScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) { return false; }
	el.click();
	return true;
})(%s)`

const setTextScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) { return null; }
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	el.dispatchEvent(new Event("blur"));
	return el.value;
})(%s)`

const selectScript = `(function(sel, want) {
	const el = document.querySelector(sel);
	if (!el) { return { ok: false, reason: "element not found" }; }
	if (el.tagName.toLowerCase() !== "select") { return { ok: false, reason: "element is not a select" }; }
	const norm = (s) => (s || "").replace(/\s+/g, " ").trim();
	const opts = Array.from(el.options);
	let mode = "value";
	let idx = opts.findIndex((o) => o.value === want);
	if (idx < 0) {
		mode = "text";
		idx = opts.findIndex((o) => norm(o.text) === norm(want));
	}
	if (idx < 0 && norm(want) !== "") {
		mode = "partial";
		const w = norm(want).toLowerCase();
		idx = opts.findIndex((o) => norm(o.text).toLowerCase().includes(w));
	}
	if (idx < 0) { return { ok: false, reason: "no option matches " + JSON.stringify(want) }; }
	el.selectedIndex = idx;
	el.dispatchEvent(new Event("input", { bubbles: true }));
	el.dispatchEvent(new Event("change", { bubbles: true }));
	return { ok: true, mode: mode };
})(%s, %s)`

const checkedScript = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) { return null; }
	return !!el.checked;
})(%s)`

// safely runs fn and converts a panic into a failed result.
func (s *Session) safely(action, sel string, fn func() ActionResult) (res ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic inside DOM action.",
				zap.String("action", action),
				zap.String("selector", sel),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
			res = Failed("%s panicked: %v", action, r)
		}
	}()
	res = fn()
	if !res.OK {
		s.logger.Debug("DOM action failed.",
			zap.String("action", action),
			zap.String("selector", sel),
			zap.String("reason", res.Reason))
	}
	return res
}

// reason turns a chromedp error into a short description.
func reason(ctx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timed out"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}

// Inspect reports what kind of control sel resolves to.
func (s *Session) Inspect(ctx context.Context, sel string) ElementKind {
	var desc string
	if err := s.runActions(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(fmt.Sprintf(inspectScript, jsString(sel)), &desc)); err != nil {
		return KindMissing
	}
	return classify(desc)
}

// Exists reports whether sel matches an element right now.
func (s *Session) Exists(ctx context.Context, sel string) bool {
	var ok bool
	if err := s.runActions(ctx, peekTimeout, chromedp.Evaluate(fmt.Sprintf(existsScript, jsString(sel)), &ok)); err != nil {
		return false
	}
	return ok
}

// Click waits for sel to become visible and clicks it, falling back to a DOM click.
func (s *Session) Click(ctx context.Context, sel string) ActionResult {
	return s.safely("click", sel, func() ActionResult {
		if !s.Exists(ctx, sel) {
			return Failed("element not found")
		}
		err := s.runActions(ctx, s.cfg.ActionTimeout,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
		if err == nil {
			return Succeeded("pointer")
		}
		if ctx.Err() != nil {
			return Failed("click canceled: %v", ctx.Err())
		}

		var clicked bool
		if ferr := s.runActions(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(fmt.Sprintf(clickScript, jsString(sel)), &clicked)); ferr != nil {
			return Failed("click failed: %s", reason(ctx, ferr))
		}
		if !clicked {
			return Failed("element disappeared before click")
		}
		return Succeeded("script")
	})
}

// SetText replaces the value of an input or textarea and fires input/change.
func (s *Session) SetText(ctx context.Context, sel, value string) ActionResult {
	return s.safely("set_text", sel, func() ActionResult {
		var got *string
		err := s.runActions(ctx, s.cfg.ActionTimeout,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.SetValue(sel, value, chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf(setTextScript, jsString(sel)), &got),
		)
		if err != nil {
			return Failed("set text failed: %s", reason(ctx, err))
		}
		if got == nil {
			return Failed("element disappeared while typing")
		}
		if strings.TrimSpace(*got) != strings.TrimSpace(value) {
			return Failed("value not retained (got %q)", *got)
		}
		return Succeeded("value")
	})
}

type selectResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
	Mode   string `json:"mode"`
}

// SelectOption picks an option by value, then exact visible text, then a
// case-insensitive substring of the text.
func (s *Session) SelectOption(ctx context.Context, sel, value string) ActionResult {
	return s.safely("select_option", sel, func() ActionResult {
		var res selectResult
		err := s.runActions(ctx, s.cfg.ActionTimeout,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf(selectScript, jsString(sel), jsString(value)), &res),
		)
		if err != nil {
			return Failed("select failed: %s", reason(ctx, err))
		}
		if !res.OK {
			return Failed("%s", res.Reason)
		}
		return Succeeded(res.Mode)
	})
}

// SetCheckbox brings a checkbox or radio to the wanted state, clicking only when needed.
func (s *Session) SetCheckbox(ctx context.Context, sel string, checked bool) ActionResult {
	return s.safely("set_checkbox", sel, func() ActionResult {
		state, err := s.checked(ctx, sel)
		if err != nil {
			return Failed("%v", err)
		}
		if state == checked {
			return Succeeded("unchanged")
		}
		if !checked && s.Inspect(ctx, sel) == KindRadio {
			return Failed("a selected radio button cannot be cleared")
		}
		if res := s.Click(ctx, sel); !res.OK {
			return res
		}
		state, err = s.checked(ctx, sel)
		if err != nil {
			return Failed("%v", err)
		}
		if state != checked {
			return Failed("checkbox state did not change")
		}
		return Succeeded("click")
	})
}

const radioScript = `(function(sel, want) {
	const el = document.querySelector(sel);
	if (!el) { return { ok: false, reason: "element not found" }; }
	if ((el.getAttribute("type") || "").toLowerCase() !== "radio") { return { ok: false, reason: "element is not a radio button" }; }
	const norm = (s) => (s || "").replace(/\s+/g, " ").trim();
	const scope = el.form || document;
	const group = el.name
		? Array.from(scope.querySelectorAll("input[type=radio]")).filter((r) => r.name === el.name)
		: [el];
	const label = (r) => {
		if (r.labels && r.labels.length) { return norm(r.labels[0].textContent); }
		const next = r.nextSibling;
		return next ? norm(next.textContent) : "";
	};
	let mode = "value";
	let hit = group.find((r) => r.value === want);
	if (!hit) {
		mode = "text";
		hit = group.find((r) => label(r) === norm(want));
	}
	if (!hit && norm(want) !== "") {
		mode = "partial";
		const w = norm(want).toLowerCase();
		hit = group.find((r) => label(r).toLowerCase().includes(w));
	}
	if (!hit) { return { ok: false, reason: "no radio matches " + JSON.stringify(want) }; }
	if (!hit.checked) {
		hit.click();
		if (!hit.checked) {
			hit.checked = true;
			hit.dispatchEvent(new Event("change", { bubbles: true }));
		}
	}
	return { ok: hit.checked, mode: mode, reason: hit.checked ? "" : "radio did not take the selection" };
})(%s, %s)`

// SelectRadio picks the radio in sel's group whose value, label text or
// label substring matches value. A truthy token with no match checks sel itself.
func (s *Session) SelectRadio(ctx context.Context, sel, value string) ActionResult {
	return s.safely("select_radio", sel, func() ActionResult {
		var res selectResult
		err := s.runActions(ctx, s.cfg.ActionTimeout,
			chromedp.WaitReady(sel, chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf(radioScript, jsString(sel), jsString(value)), &res),
		)
		if err != nil {
			return Failed("select radio failed: %s", reason(ctx, err))
		}
		if res.OK {
			return Succeeded(res.Mode)
		}
		if IsTruthy(value) {
			return s.SetCheckbox(ctx, sel, true)
		}
		return Failed("%s", res.Reason)
	})
}

func (s *Session) checked(ctx context.Context, sel string) (bool, error) {
	var state *bool
	if err := s.runActions(ctx, s.cfg.ActionTimeout, chromedp.Evaluate(fmt.Sprintf(checkedScript, jsString(sel)), &state)); err != nil {
		return false, fmt.Errorf("reading checkbox state failed: %s", reason(ctx, err))
	}
	if state == nil {
		return false, errors.New("element not found")
	}
	return *state, nil
}

const valueScript = `(function(sel) {
	let el;
	try { el = document.querySelector(sel); } catch (e) { return null; }
	if (!el) { return null; }
	return el.value === undefined ? "" : String(el.value);
})(%s)`

// Value returns the current value of sel and whether the element exists.
func (s *Session) Value(ctx context.Context, sel string) (string, bool) {
	var v *string
	if err := s.runActions(ctx, peekTimeout, chromedp.Evaluate(fmt.Sprintf(valueScript, jsString(sel)), &v)); err != nil || v == nil {
		return "", false
	}
	return *v, true
}
