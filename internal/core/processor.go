package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"custodyledger/pkg/domain"
)

// ErrProcessorStopped is returned for commands submitted after shutdown began.
var ErrProcessorStopped = errors.New("command processor stopped")

// Command is a mutating ledger operation executed by the Processor.
type Command interface {
	Name() string
	Execute(ctx context.Context, svc *Service) (any, error)
}

// CreateProductCommand creates a product.
type CreateProductCommand struct {
	Caller  domain.Identity
	Details domain.Details
}

func (CreateProductCommand) Name() string { return "create_product" }

func (c CreateProductCommand) Execute(ctx context.Context, svc *Service) (any, error) {
	return svc.CreateProduct(ctx, c.Caller, c.Details)
}

// TransitionCommand applies one custody transition.
type TransitionCommand struct {
	Caller    domain.Identity
	Action    Action
	ProductID uint64
}

func (c TransitionCommand) Name() string { return string(c.Action) }

func (c TransitionCommand) Execute(ctx context.Context, svc *Service) (any, error) {
	return svc.Transition(ctx, c.Caller, c.Action, c.ProductID)
}

// UpdateDetailsCommand rewrites the descriptive fields of a product.
type UpdateDetailsCommand struct {
	Caller    domain.Identity
	ProductID uint64
	Details   domain.Details
}

func (UpdateDetailsCommand) Name() string { return "update_product_details" }

func (c UpdateDetailsCommand) Execute(ctx context.Context, svc *Service) (any, error) {
	return svc.UpdateProductDetails(ctx, c.Caller, c.ProductID, c.Details)
}

// SetAddressesCommand assigns the three workflow roles.
type SetAddressesCommand struct {
	Caller       domain.Identity
	Manufacturer domain.Identity
	Distributor  domain.Identity
	Retailer     domain.Identity
}

func (SetAddressesCommand) Name() string { return "set_addresses" }

func (c SetAddressesCommand) Execute(ctx context.Context, svc *Service) (any, error) {
	return svc.SetAddresses(ctx, c.Caller, c.Manufacturer, c.Distributor, c.Retailer)
}

// TransferOwnershipCommand hands over the owner role.
type TransferOwnershipCommand struct {
	Caller   domain.Identity
	NewOwner domain.Identity
}

func (TransferOwnershipCommand) Name() string { return "transfer_ownership" }

func (c TransferOwnershipCommand) Execute(ctx context.Context, svc *Service) (any, error) {
	return svc.TransferOwnership(ctx, c.Caller, c.NewOwner)
}

// QueueObserver receives the processor backlog after every change.
type QueueObserver interface {
	ObserveQueueDepth(depth int)
}

type envelope struct {
	ctx   context.Context
	cmd   Command
	seq   uint64
	reply chan outcome
}

type outcome struct {
	value any
	err   error
}

// Processor is the single writer in front of the Service: commands are queued
// and executed one at a time, each to completion, in arrival order.
type Processor struct {
	svc      *Service
	logger   *slog.Logger
	observer QueueObserver
	queue    chan *envelope
	seq      atomic.Uint64

	mu       sync.RWMutex
	closed   bool
	started  bool
	stopping chan struct{}
	done     chan struct{}
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithProcessorLogger sets the logger.
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithQueueObserver reports backlog changes.
func WithQueueObserver(o QueueObserver) ProcessorOption {
	return func(p *Processor) { p.observer = o }
}

// NewProcessor builds a processor with a queue of size pending commands.
func NewProcessor(svc *Service, size int, opts ...ProcessorOption) *Processor {
	if size <= 0 {
		size = 64
	}
	p := &Processor{
		svc:    svc,
		logger: slog.Default(),
		queue:    make(chan *envelope, size),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the worker. Cancelling ctx stops it without draining. A
// stopped processor cannot be restarted.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	go p.loop(ctx)
}

// Stop closes intake and waits until every accepted command has executed or
// ctx expires.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stopping)
		if !p.started {
			close(p.done)
		}
	}
	p.mu.Unlock()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth returns the number of accepted commands not yet executed.
func (p *Processor) QueueDepth() int { return len(p.queue) }

// Submit enqueues cmd and waits for its result. A command that was accepted
// runs to completion even if ctx is cancelled while it waits in the queue
// and the caller stops waiting; the store rejects it up front if its context
// is already done when its turn comes.
func (p *Processor) Submit(ctx context.Context, cmd Command) (any, error) {
	env := &envelope{ctx: ctx, cmd: cmd, reply: make(chan outcome, 1)}

	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrProcessorStopped
	}
	env.seq = p.seq.Add(1)
	select {
	case p.queue <- env:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopping:
		return nil, ErrProcessorStopped
	}
	p.observe()

	select {
	case out := <-env.reply:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		select {
		case out := <-env.reply:
			return out.value, out.err
		default:
			return nil, ErrProcessorStopped
		}
	}
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.queue:
			p.execute(env)
			p.observe()
		case <-p.stopping:
			p.drain()
			return
		}
	}
}

// drain runs whatever was accepted before intake closed.
func (p *Processor) drain() {
	for {
		select {
		case env := <-p.queue:
			p.execute(env)
			p.observe()
		default:
			return
		}
	}
}

func (p *Processor) execute(env *envelope) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(env.ctx, "command panicked", "command", env.cmd.Name(), "seq", env.seq, "panic", r)
			env.reply <- outcome{err: fmt.Errorf("command %s panicked: %v", env.cmd.Name(), r)}
		}
	}()
	value, err := env.cmd.Execute(env.ctx, p.svc)
	p.logger.DebugContext(env.ctx, "command executed", "command", env.cmd.Name(), "seq", env.seq, "ok", err == nil)
	env.reply <- outcome{value: value, err: err}
}

func (p *Processor) observe() {
	if p.observer != nil {
		p.observer.ObserveQueueDepth(len(p.queue))
	}
}

// Do submits cmd and asserts its result type.
func Do[T any](ctx context.Context, p *Processor, cmd Command) (T, error) {
	var zero T
	v, err := p.Submit(ctx, cmd)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("command %s returned %T", cmd.Name(), v)
	}
	return out, nil
}
