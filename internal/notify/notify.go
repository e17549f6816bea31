// Package notify delivers committed ledger notifications to subscribers and
// external message transports.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"custodyledger/pkg/domain"
)

// Sink is one notification destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []domain.Event) error
}

// Observer is told the outcome of every batch handed to a sink.
type Observer interface {
	ObservePublish(sink string, ok bool)
}

// Fanout publishes each batch to all sinks concurrently. Every sink receives
// the batch in emission order; a failing sink does not stop the others.
type Fanout struct {
	sinks    []Sink
	timeout  time.Duration
	logger   *slog.Logger
	observer Observer
}

// FanoutOption configures a Fanout.
type FanoutOption func(*Fanout)

// WithTimeout bounds each sink's publish call.
func WithTimeout(d time.Duration) FanoutOption {
	return func(f *Fanout) { f.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) FanoutOption {
	return func(f *Fanout) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithObserver reports per-sink outcomes.
func WithObserver(o Observer) FanoutOption {
	return func(f *Fanout) { f.observer = o }
}

// NewFanout builds a fanout over sinks.
func NewFanout(sinks []Sink, opts ...FanoutOption) *Fanout {
	f := &Fanout{sinks: sinks, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Publish delivers events to every sink and joins their errors.
func (f *Fanout) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, sink := range f.sinks {
		g.Go(func() error {
			sctx := ctx
			if f.timeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(ctx, f.timeout)
				defer cancel()
			}
			err := sink.Publish(sctx, events)
			if f.observer != nil {
				f.observer.ObservePublish(sink.Name(), err == nil)
			}
			if err != nil {
				f.logger.WarnContext(ctx, "notification sink failed", "sink", sink.Name(), "events", len(events), "error", err)
				errs[i] = fmt.Errorf("%s: %w", sink.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close releases every sink that holds resources.
func (f *Fanout) Close() error {
	var errs []error
	for _, sink := range f.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
