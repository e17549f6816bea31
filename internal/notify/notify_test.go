package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodyledger/pkg/domain"
)

type recordingSink struct {
	name string
	err  error

	mu      sync.Mutex
	batches [][]domain.Event
	closed  bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, events)
	return s.err
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

type outcomeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]bool
}

func (o *outcomeRecorder) ObservePublish(sink string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[sink] = ok
}

func sampleEvents() []domain.Event {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	from := domain.StatusCreated
	return []domain.Event{
		domain.NewEvent(domain.EventStatusChanged, "0xm", at).ForProduct(3).WithStatus(&from, domain.StatusSentByManufacturer),
		domain.NewEvent(domain.EventProductSent, "0xm", at).ForProduct(3),
		domain.NewEvent(domain.EventStageUpdated, "0xm", at).ForProduct(3),
		domain.NewEvent(domain.EventTransactionPerformed, "0xm", at).ForProduct(3).WithLabel(domain.LabelSentByManufacturer),
	}
}

func TestFanoutDeliversToEverySinkAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{name: "ok"}
	bad := &recordingSink{name: "bad", err: errors.New("unreachable")}
	obs := &outcomeRecorder{outcomes: map[string]bool{}}
	f := NewFanout([]Sink{ok, bad}, WithObserver(obs), WithTimeout(time.Second))

	events := sampleEvents()
	err := f.Publish(context.Background(), events)
	require.Error(t, err)
	assert.ErrorContains(t, err, "bad: unreachable")

	require.Len(t, ok.batches, 1)
	assert.Equal(t, events, ok.batches[0])
	require.Len(t, bad.batches, 1)
	assert.Equal(t, map[string]bool{"ok": true, "bad": false}, obs.outcomes)

	require.NoError(t, f.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}

func TestFanoutSkipsEmptyBatches(t *testing.T) {
	sink := &recordingSink{name: "s"}
	require.NoError(t, NewFanout([]Sink{sink}).Publish(context.Background(), nil))
	assert.Empty(t, sink.batches)
}

func TestBrokerDeliversInOrderAndDropsWhenFull(t *testing.T) {
	b := NewBroker(4)
	fast, cancelFast := b.Subscribe()
	defer cancelFast()
	events := sampleEvents()

	require.NoError(t, b.Publish(context.Background(), events))
	for i := range events {
		assert.Equal(t, events[i].Kind, (<-fast).Kind)
	}

	// A second batch fills the buffer; the third is dropped for this subscriber.
	require.NoError(t, b.Publish(context.Background(), events))
	require.NoError(t, b.Publish(context.Background(), events))
	assert.Equal(t, uint64(len(events)), b.Dropped())
	assert.Len(t, fast, 4)
}

func TestBrokerCancelAndClose(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe()
	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	other, _ := b.Subscribe()
	require.NoError(t, b.Close())
	_, open = <-other
	assert.False(t, open)

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open, "subscriptions after close are already closed")
	require.NoError(t, b.Publish(context.Background(), sampleEvents()))
}
