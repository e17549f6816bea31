// Package memory provides the in-memory ledger state aggregate and its
// transactional store. Durable backends wrap it with a commit hook.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"custodyledger/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// CommitHook persists a commit. An error aborts the transaction before the
// in-memory state changes.
type CommitHook func(ctx context.Context, c Commit) error

// Store serialises writers behind one lock and serves readers the last
// committed state.
type Store struct {
	mu     sync.RWMutex
	state  *state
	engine *domain.RulesEngine
	nowFn  func() time.Time
	hook   CommitHook
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the transaction clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithCommitHook installs a durable write step executed inside every commit.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState copies the committed state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromState(s.state)
}

// ImportState replaces the committed state after validating the snapshot.
func (s *Store) ImportState(snapshot Snapshot) error {
	next, err := stateFromSnapshot(snapshot)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
	return nil
}

// RulesEngine exposes the configured engine.
func (s *Store) RulesEngine() *domain.RulesEngine {
	return s.engine
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	return s.nowFn
}

// RunInTransaction executes fn against a staged overlay of the committed
// state. The overlay is applied only if fn succeeds, no blocking rule fires
// and the commit hook (if any) persists the change set. Events emitted by fn
// are returned in the result once committed.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Tx) error) (domain.Result, error) {
	if err := ctx.Err(); err != nil {
		return domain.Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTransaction(s.state, s.nowFn())
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	result, err := s.engine.Evaluate(ctx, tx, tx.changes)
	if err != nil {
		return domain.Result{}, err
	}
	if result.HasBlocking() {
		return result, domain.RuleViolationError{Result: result}
	}

	if s.hook != nil {
		if c := tx.commit(); !c.Empty() {
			if err := s.hook(ctx, c); err != nil {
				return domain.Result{}, fmt.Errorf("persist commit: %w", err)
			}
		}
	}

	tx.apply(s.state)
	result.Events = tx.events
	return result, nil
}

// View executes fn against the committed state under a read lock.
func (s *Store) View(ctx context.Context, fn func(domain.View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
