// File: internal/results/result.go
package results

import (
	"fmt"
	"strings"
	"time"
)

// RowResult is the final, immutable account of one input row.
type RowResult struct {
	RunID       string
	Row         int
	Username    string
	Filled      []string
	FieldErrors []string
	Skipped     []string
	Success     bool
	Exception   string
	Screenshot  string
	StateFile   string
	TargetURL   string
	Attempts    int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Duration is how long the row took.
func (r RowResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Message is the human readable summary written to the results CSV.
func (r RowResult) Message() string {
	var parts []string
	if r.Exception != "" {
		parts = append(parts, r.Exception)
	}
	parts = append(parts, fmt.Sprintf("filled %d field(s)", len(r.Filled)))
	if len(r.FieldErrors) > 0 {
		parts = append(parts, fmt.Sprintf("%d field error(s): %s", len(r.FieldErrors), strings.Join(r.FieldErrors, "; ")))
	}
	if len(r.Skipped) > 0 {
		parts = append(parts, "skipped: "+strings.Join(r.Skipped, ", "))
	}
	return strings.Join(parts, " | ")
}

// Tracker accumulates a RowResult while the row is processed. It is not safe
// for concurrent use; rows are processed one at a time.
type Tracker struct {
	res      RowResult
	finished bool
	now      func() time.Time
}

// Begin starts tracking a row.
func Begin(runID string, row int, username string) *Tracker {
	return beginAt(runID, row, username, time.Now)
}

func beginAt(runID string, row int, username string, now func() time.Time) *Tracker {
	return &Tracker{
		res: RowResult{RunID: runID, Row: row, Username: username, StartedAt: now().UTC()},
		now: now,
	}
}

// Filled records a successfully filled field.
func (t *Tracker) Filled(fields ...string) { t.res.Filled = append(t.res.Filled, fields...) }

// FieldError records a field level problem. It never affects Success.
func (t *Tracker) FieldError(msgs ...string) { t.res.FieldErrors = append(t.res.FieldErrors, msgs...) }

// Skipped records actions suppressed by dry-run.
func (t *Tracker) Skipped(actions ...string) { t.res.Skipped = append(t.res.Skipped, actions...) }

// Attempts records how many login attempts were made.
func (t *Tracker) Attempts(n int) { t.res.Attempts = n }

// Screenshot records the screenshot path.
func (t *Tracker) Screenshot(path string) { t.res.Screenshot = path }

// StateFile records the saved session state path.
func (t *Tracker) StateFile(path string) { t.res.StateFile = path }

// TargetURL records where the row ended up.
func (t *Tracker) TargetURL(u string) { t.res.TargetURL = u }

// Fail captures the exception that ended the row. The first one wins.
func (t *Tracker) Fail(err error) {
	if err == nil || t.res.Exception != "" {
		return
	}
	t.res.Exception = err.Error()
}

// Failed reports whether an exception has been captured.
func (t *Tracker) Failed() bool { return t.res.Exception != "" }

// Finish seals the result. Calling it again returns the same value.
func (t *Tracker) Finish() RowResult {
	if !t.finished {
		t.finished = true
		t.res.FinishedAt = t.now().UTC()
		t.res.Success = t.res.Exception == ""
	}
	out := t.res
	out.Filled = append([]string(nil), t.res.Filled...)
	out.FieldErrors = append([]string(nil), t.res.FieldErrors...)
	out.Skipped = append([]string(nil), t.res.Skipped...)
	return out
}
