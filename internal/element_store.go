package internal

import (
	"context"
	"sync"
	"time"

	"github.com/lychee-technology/extid"
	"go.uber.org/zap"
)

// MemoryElementStore is an in-process ElementStore, used when the metadata repository is
// reached through some other channel and by tests.
type MemoryElementStore struct {
	mu       sync.RWMutex
	elements map[string]extid.ElementHeader
}

func NewMemoryElementStore(headers ...extid.ElementHeader) *MemoryElementStore {
	s := &MemoryElementStore{elements: make(map[string]extid.ElementHeader, len(headers))}
	for _, h := range headers {
		s.elements[h.GUID] = h
	}
	return s
}

func (s *MemoryElementStore) Put(header extid.ElementHeader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elements[header.GUID] = header
}

func (s *MemoryElementStore) Delete(guid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.elements, guid)
}

func (s *MemoryElementStore) ElementExists(ctx context.Context, guid string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.elements[guid]
	return ok, nil
}

func (s *MemoryElementStore) GetElementHeader(ctx context.Context, guid string) (*extid.ElementHeader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.elements[guid]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

// GuardedElementStore wraps an ElementStore with a per-call timeout and a circuit breaker.
// While the breaker is open calls fail fast with an unavailable error.
type GuardedElementStore struct {
	store   extid.ElementStore
	breaker *CircuitBreaker
	timeout time.Duration
}

func NewGuardedElementStore(store extid.ElementStore, cfg extid.ElementsConfig) *GuardedElementStore {
	return &GuardedElementStore{
		store:   store,
		breaker: NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerWindow, cfg.BreakerOpenDuration),
		timeout: cfg.Timeout,
	}
}

// call runs fn under the guard's timeout. A caller that cancels or runs out of time gets
// its own context error back, and that failure is not charged to the breaker.
func (g *GuardedElementStore) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if g.breaker.IsOpen() {
		return extid.NewUnavailableError("element store circuit breaker is open", nil)
	}
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := fn(callCtx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if g.breaker.RecordFailure() {
			zap.S().Warnw("element store circuit breaker opened", "error", err)
		}
		return extid.NewUnavailableError("element store call failed", err)
	}
	g.breaker.RecordSuccess()
	return nil
}

func (g *GuardedElementStore) ElementExists(ctx context.Context, guid string) (bool, error) {
	var exists bool
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		exists, err = g.store.ElementExists(ctx, guid)
		return err
	})
	return exists, err
}

func (g *GuardedElementStore) GetElementHeader(ctx context.Context, guid string) (*extid.ElementHeader, error) {
	var header *extid.ElementHeader
	err := g.call(ctx, func(ctx context.Context) error {
		var err error
		header, err = g.store.GetElementHeader(ctx, guid)
		return err
	})
	return header, err
}
