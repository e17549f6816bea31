package notify

import (
	"context"
	"log/slog"

	"custodyledger/pkg/domain"
)

// AuditLog consumes a Broker subscription and writes one structured log
// record per committed ledger event.
type AuditLog struct {
	broker *Broker
	logger *slog.Logger
	cancel func()
	done   chan struct{}
}

// StartAuditLog subscribes to b and logs events until Stop is called or the
// broker is closed.
func StartAuditLog(ctx context.Context, b *Broker, logger *slog.Logger) *AuditLog {
	if logger == nil {
		logger = slog.Default()
	}
	events, cancel := b.Subscribe()
	a := &AuditLog{broker: b, logger: logger, cancel: cancel, done: make(chan struct{})}
	go a.run(ctx, events)
	return a
}

func (a *AuditLog) run(ctx context.Context, events <-chan domain.Event) {
	defer close(a.done)
	for e := range events {
		attrs := []any{
			"event_id", e.ID,
			"kind", e.Kind,
			"actor", e.Actor,
			"occurred_at", e.OccurredAt,
		}
		if e.ProductID != 0 {
			attrs = append(attrs, "product_id", e.ProductID)
		}
		if e.From != nil {
			attrs = append(attrs, "from", e.From.String())
		}
		if e.To != nil {
			attrs = append(attrs, "to", e.To.String())
		}
		if e.Label != "" {
			attrs = append(attrs, "label", e.Label)
		}
		a.logger.InfoContext(ctx, "ledger event", attrs...)
	}
}

// Stop ends the subscription and returns once every buffered event has been
// logged.
func (a *AuditLog) Stop() {
	a.cancel()
	<-a.done
	if n := a.broker.Dropped(); n > 0 {
		a.logger.Warn("audit log missed events", "dropped", n)
	}
}
