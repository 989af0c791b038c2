// File: internal/results/sink.go
package results

import (
	"context"
	"errors"
)

// Sink receives every finished row.
type Sink interface {
	Record(ctx context.Context, r RowResult) error
}

// MultiSink forwards to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Record(ctx context.Context, r RowResult) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r RowResult) error

func (f SinkFunc) Record(ctx context.Context, r RowResult) error { return f(ctx, r) }
