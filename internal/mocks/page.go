// File: internal/mocks/page.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/erpfill/internal/browser"
)

// MockPage mocks the browser tab used by the form, auth and driver packages.
type MockPage struct {
	mock.Mock
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) CurrentURL(ctx context.Context) string {
	args := m.Called(ctx)
	return args.String(0)
}

func (m *MockPage) Inspect(ctx context.Context, sel string) browser.ElementKind {
	args := m.Called(ctx, sel)
	return args.Get(0).(browser.ElementKind)
}

func (m *MockPage) Exists(ctx context.Context, sel string) bool {
	args := m.Called(ctx, sel)
	return args.Bool(0)
}

func (m *MockPage) Click(ctx context.Context, sel string) browser.ActionResult {
	args := m.Called(ctx, sel)
	return args.Get(0).(browser.ActionResult)
}

func (m *MockPage) SetText(ctx context.Context, sel, value string) browser.ActionResult {
	args := m.Called(ctx, sel, value)
	return args.Get(0).(browser.ActionResult)
}

func (m *MockPage) SelectOption(ctx context.Context, sel, value string) browser.ActionResult {
	args := m.Called(ctx, sel, value)
	return args.Get(0).(browser.ActionResult)
}

func (m *MockPage) SetCheckbox(ctx context.Context, sel string, checked bool) browser.ActionResult {
	args := m.Called(ctx, sel, checked)
	return args.Get(0).(browser.ActionResult)
}

func (m *MockPage) SelectRadio(ctx context.Context, sel, value string) browser.ActionResult {
	args := m.Called(ctx, sel, value)
	return args.Get(0).(browser.ActionResult)
}

func (m *MockPage) AwaitOutcome(ctx context.Context, fromURL string, markers []string, timeout time.Duration) browser.Outcome {
	args := m.Called(ctx, fromURL, markers, timeout)
	return args.Get(0).(browser.Outcome)
}

func (m *MockPage) Value(ctx context.Context, sel string) (string, bool) {
	args := m.Called(ctx, sel)
	return args.String(0), args.Bool(1)
}

func (m *MockPage) HTML(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Screenshot(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockPage) SaveState(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockPage) ClearState(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// NewCooperativePage returns a MockPage on which every element exists as a
// text input, every action succeeds and every submit navigates to landing.
// Overrides run before the defaults are registered, so their expectations win.
func NewCooperativePage(landing string, overrides ...func(m *MockPage)) *MockPage {
	m := &MockPage{}
	for _, o := range overrides {
		o(m)
	}
	m.On("Navigate", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("CurrentURL", mock.Anything).Return(landing).Maybe()
	m.On("Exists", mock.Anything, mock.Anything).Return(true).Maybe()
	m.On("Inspect", mock.Anything, mock.Anything).Return(browser.KindInput).Maybe()
	m.On("Click", mock.Anything, mock.Anything).Return(browser.Succeeded("pointer")).Maybe()
	m.On("SetText", mock.Anything, mock.Anything, mock.Anything).Return(browser.Succeeded("value")).Maybe()
	m.On("SelectOption", mock.Anything, mock.Anything, mock.Anything).Return(browser.Succeeded("value")).Maybe()
	m.On("SetCheckbox", mock.Anything, mock.Anything, mock.Anything).Return(browser.Succeeded("click")).Maybe()
	m.On("SelectRadio", mock.Anything, mock.Anything, mock.Anything).Return(browser.Succeeded("value")).Maybe()
	m.On("AwaitOutcome", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(browser.Outcome{Kind: browser.OutcomeNavigated, Detail: landing}).Maybe()
	m.On("Value", mock.Anything, mock.Anything).Return("", true).Maybe()
	m.On("HTML", mock.Anything).Return(`<html><body><a id="lnkLogout">Logout</a></body></html>`, nil).Maybe()
	m.On("Screenshot", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SaveState", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("ClearState", mock.Anything).Return(nil).Maybe()
	return m
}
