// internal/browser/wait.go
package browser

import (
	"context"
	"time"
)

// PollInterval is how often conditions are re-checked while waiting.
var PollInterval = 250 * time.Millisecond

// OutcomeKind says what ended a wait after a submit.
type OutcomeKind int

const (
	OutcomeTimeout OutcomeKind = iota
	OutcomeNavigated
	OutcomeMarker
	OutcomeDialog
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNavigated:
		return "navigated"
	case OutcomeMarker:
		return "marker"
	case OutcomeDialog:
		return "dialog"
	default:
		return "timeout"
	}
}

// Outcome is the observed result of AwaitOutcome.
type Outcome struct {
	Kind   OutcomeKind
	Detail string
}

// Poll evaluates cond until it returns true, the timeout passes or ctx is done.
// It reports whether cond was satisfied.
func Poll(ctx context.Context, timeout time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}
	if timeout <= 0 {
		return false
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return cond()
		case <-tick.C:
			if cond() {
				return true
			}
		}
	}
}

// WaitUntil polls cond against this session.
func (s *Session) WaitUntil(ctx context.Context, timeout time.Duration, cond func(context.Context) bool) bool {
	return Poll(ctx, timeout, func() bool { return cond(ctx) })
}

// AwaitOutcome waits until the page navigates away from fromURL, one of
// markers appears, or a JavaScript dialog opens. A dialog raised by the
// click that preceded the call also counts. Timeout is the last resort.
func (s *Session) AwaitOutcome(ctx context.Context, fromURL string, markers []string, timeout time.Duration) Outcome {
	var out Outcome

	Poll(ctx, timeout, func() bool {
		if seen, msg := s.takeDialog(); seen {
			out = Outcome{Kind: OutcomeDialog, Detail: msg}
			return true
		}
		if u := s.CurrentURL(ctx); u != "" && fromURL != "" && u != fromURL {
			out = Outcome{Kind: OutcomeNavigated, Detail: u}
			return true
		}
		for _, m := range markers {
			if s.Exists(ctx, m) {
				out = Outcome{Kind: OutcomeMarker, Detail: m}
				return true
			}
		}
		return false
	})
	return out
}
