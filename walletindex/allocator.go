// Package walletindex hands out unique, monotonically increasing HD derivation
// indices backed by a persistent counter.
package walletindex

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"tronnode/observability"
)

// State reports whether an allocation is in flight.
type State int32

const (
	Idle State = iota
	Allocating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Allocating:
		return "allocating"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Allocator serialises in-process access to a Store. Cross-process exclusion is
// the Store's responsibility.
type Allocator struct {
	mu     sync.Mutex
	store  Store
	state  atomic.Int32
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger used for allocation events.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Allocator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New returns an allocator over store.
func New(store Store, opts ...Option) (*Allocator, error) {
	if store == nil {
		return nil, fmt.Errorf("walletindex: store required")
	}
	a := &Allocator{store: store, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// State returns the allocator's current state.
func (a *Allocator) State() State {
	if a == nil {
		return Idle
	}
	return State(a.state.Load())
}

// Next reserves and returns the next index. The incremented counter is durable
// before Next returns, so an index is never handed out twice even if the
// caller later fails to use it. Errors are not retried.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	if a == nil || a.store == nil {
		return 0, fmt.Errorf("walletindex: allocator not configured")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Store(int32(Allocating))
	defer a.state.Store(int32(Idle))

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var index int64
	err := a.store.Update(ctx, func(current int64, ok bool) (int64, error) {
		if !ok {
			current = FirstIndex
		}
		index = current
		return current + 1, nil
	})
	if err != nil {
		err = unavailable("allocate", err)
		observability.Walletd().RecordAllocation(0, err)
		a.logger.Error("wallet index allocation failed", slog.Any("error", err))
		return 0, err
	}
	observability.Walletd().RecordAllocation(index+1, nil)
	a.logger.Debug("wallet index allocated", slog.Int64("index", index))
	return index, nil
}

// Peek returns the index the next call to Next would hand out without
// reserving it.
func (a *Allocator) Peek(ctx context.Context) (int64, error) {
	if a == nil || a.store == nil {
		return 0, fmt.Errorf("walletindex: allocator not configured")
	}
	current, ok, err := a.store.Load(ctx)
	if err != nil {
		return 0, unavailable("peek", err)
	}
	if !ok {
		return FirstIndex, nil
	}
	return current, nil
}
