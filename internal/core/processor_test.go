package core

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

type depthRecorder struct {
	mu     sync.Mutex
	depths []int
}

func (r *depthRecorder) ObserveQueueDepth(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.depths = append(r.depths, depth)
}

func startProcessor(t *testing.T, svc *Service, opts ...ProcessorOption) *Processor {
	t.Helper()
	p := NewProcessor(svc, 8, opts...)
	p.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func TestProcessorSerialisesConcurrentCreates(t *testing.T) {
	svc := newTestService(t)
	rec := &depthRecorder{}
	p := startProcessor(t, svc, WithQueueObserver(rec))
	ctx := context.Background()

	const n = 32
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prod, err := Do[domain.Product](ctx, p, CreateProductCommand{Caller: manufacturer, Details: widget("Widget")})
			if assert.NoError(t, err) {
				ids <- prod.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	for id := uint64(1); id <= n; id++ {
		assert.True(t, seen[id], "missing id %d", id)
	}
	rec.mu.Lock()
	assert.NotEmpty(t, rec.depths)
	rec.mu.Unlock()
}

func TestProcessorCommands(t *testing.T) {
	svc := newTestService(t)
	p := startProcessor(t, svc)
	ctx := context.Background()

	prod, err := Do[domain.Product](ctx, p, CreateProductCommand{Caller: manufacturer, Details: widget("Widget")})
	require.NoError(t, err)

	moved, err := Do[domain.Product](ctx, p, TransitionCommand{Caller: manufacturer, Action: ActionSendByManufacturer, ProductID: prod.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSentByManufacturer, moved.Status)

	_, err = Do[domain.Product](ctx, p, TransitionCommand{Caller: manufacturer, Action: ActionSendByManufacturer, ProductID: prod.ID})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	renamed, err := Do[domain.Product](ctx, p, UpdateDetailsCommand{Caller: owner, ProductID: prod.ID, Details: widget("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", renamed.Name)

	roles, err := Do[domain.Roles](ctx, p, SetAddressesCommand{Caller: owner, Manufacturer: stranger, Distributor: distributor, Retailer: retailer})
	require.NoError(t, err)
	assert.Equal(t, stranger, roles.Manufacturer)

	roles, err = Do[domain.Roles](ctx, p, TransferOwnershipCommand{Caller: owner, NewOwner: stranger})
	require.NoError(t, err)
	assert.Equal(t, stranger, roles.Owner)

	_, err = Do[domain.Roles](ctx, p, CreateProductCommand{Caller: stranger, Details: widget("Widget")})
	assert.ErrorContains(t, err, "returned domain.Product")
}

type panicCommand struct{}

func (panicCommand) Name() string { return "panic" }

func (panicCommand) Execute(context.Context, *Service) (any, error) { panic("boom") }

func TestProcessorRecoversFromPanics(t *testing.T) {
	svc := newTestService(t)
	p := startProcessor(t, svc)
	ctx := context.Background()

	_, err := p.Submit(ctx, panicCommand{})
	assert.ErrorContains(t, err, "panicked")

	_, err = Do[domain.Product](ctx, p, CreateProductCommand{Caller: manufacturer, Details: widget("Widget")})
	assert.NoError(t, err, "processor must keep serving after a panic")
}

type blockingCommand struct {
	entered chan struct{}
	release chan struct{}
}

func (blockingCommand) Name() string { return "block" }

func (c blockingCommand) Execute(context.Context, *Service) (any, error) {
	close(c.entered)
	<-c.release
	return "done", nil
}

func TestProcessorStopDrainsAcceptedCommands(t *testing.T) {
	svc := newTestService(t)
	p := NewProcessor(svc, 4)
	p.Start(context.Background())
	ctx := context.Background()

	blocker := blockingCommand{entered: make(chan struct{}), release: make(chan struct{})}
	first := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, blocker)
		first <- err
	}()
	<-blocker.entered

	queued := make(chan error, 1)
	go func() {
		_, err := Do[domain.Product](ctx, p, CreateProductCommand{Caller: manufacturer, Details: widget("Widget")})
		queued <- err
	}()
	require.Eventually(t, func() bool { return p.QueueDepth() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(ctx) }()
	require.Eventually(t, func() bool {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return p.closed
	}, time.Second, 5*time.Millisecond)
	_, err := p.Submit(ctx, CreateProductCommand{Caller: manufacturer, Details: widget("Late")})
	assert.True(t, errors.Is(err, ErrProcessorStopped))

	close(blocker.release)
	require.NoError(t, <-first)
	require.NoError(t, <-queued)
	require.NoError(t, <-stopped)

	n, err := svc.GetProductCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestProcessorStopBeforeStart(t *testing.T) {
	p := NewProcessor(newTestService(t), 0)
	require.NoError(t, p.Stop(context.Background()))
	_, err := p.Submit(context.Background(), CreateProductCommand{})
	assert.ErrorIs(t, err, ErrProcessorStopped)
}

func TestSubmitHonoursCallerContext(t *testing.T) {
	svc := newTestService(t)
	p := NewProcessor(svc, 1)
	// Not started: the queue fills and the next submit must give up on ctx.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	go func() { _, _ = p.Submit(context.Background(), CreateProductCommand{Caller: manufacturer, Details: widget("A")}) }()
	require.Eventually(t, func() bool { return p.QueueDepth() == 1 }, time.Second, time.Millisecond)

	_, err := p.Submit(ctx, CreateProductCommand{Caller: manufacturer, Details: widget("B")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Start(context.Background())
	require.NoError(t, p.Stop(context.Background()))
}

func TestStopReleasesSubmitBlockedOnFullQueue(t *testing.T) {
	p := NewProcessor(newTestService(t), 1)
	accepted := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), CreateProductCommand{Caller: manufacturer, Details: widget("A")})
		accepted <- err
	}()
	require.Eventually(t, func() bool { return p.QueueDepth() == 1 }, time.Second, time.Millisecond)

	blocked := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), CreateProductCommand{Caller: manufacturer, Details: widget("B")})
		blocked <- err
	}()
	require.Eventually(t, func() bool { return p.seq.Load() == 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Stop(ctx))
	assert.ErrorIs(t, <-blocked, ErrProcessorStopped)
	assert.ErrorIs(t, <-accepted, ErrProcessorStopped)

	p.Start(context.Background())
	assert.Equal(t, 1, p.QueueDepth(), "a stopped processor stays stopped")
}
