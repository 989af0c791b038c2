// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from ctx1 that is also canceled when ctx2
// is done. Values (the CDP target) come from ctx1; ctx2 usually only carries
// the caller's deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// boundedContext combines ctx1 and ctx2 and applies timeout when positive.
func boundedContext(ctx1, ctx2 context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	combined, cancel := CombineContext(ctx1, ctx2)
	if timeout <= 0 {
		return combined, cancel
	}
	bounded, tcancel := context.WithTimeout(combined, timeout)
	return bounded, func() {
		tcancel()
		cancel()
	}
}
