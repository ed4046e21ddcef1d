// Package workerpool bounds concurrent in-flight chat-completion requests
// and backs client-disconnect cancellation: an idempotent Start(ctx)/Stop()
// lifecycle, a bounded semaphore gating admission, and a per-request
// cancel-func registry so an HTTP-level client-gone signal can cancel the
// request's tasks.
package workerpool

import (
	"context"
	"log/slog"
	"sync"
)

// Pool bounds concurrent in-flight requests to Capacity slots and tracks a
// cancel function per active request id so a client disconnect or admin
// action can tear down that request's goroutines without affecting others.
type Pool struct {
	capacity int
	sem      chan struct{}

	mu             sync.RWMutex
	activeSessions map[string]context.CancelFunc
	started        bool
	stopOnce       sync.Once
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

// New builds a Pool with the given capacity. A non-positive capacity means
// unbounded concurrency (no semaphore acquired).
func New(capacity int) *Pool {
	var sem chan struct{}
	if capacity > 0 {
		sem = make(chan struct{}, capacity)
	}
	return &Pool{
		capacity:       capacity,
		sem:            sem,
		activeSessions: make(map[string]context.CancelFunc),
		stopCh:         make(chan struct{}),
	}
}

// Start marks the pool as running. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true
	slog.Info("worker pool started", "capacity", p.capacity)
	return nil
}

// Stop cancels every still-active request and waits for in-flight Acquire
// holders to release, then returns. Safe to call once; later calls are
// no-ops.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		active := make([]context.CancelFunc, 0, len(p.activeSessions))
		for _, cancel := range p.activeSessions {
			active = append(active, cancel)
		}
		p.mu.Unlock()

		if len(active) > 0 {
			slog.Info("worker pool stopping, cancelling active requests", "count", len(active))
		}
		for _, cancel := range active {
			cancel()
		}
		close(p.stopCh)
	})
	p.wg.Wait()
	slog.Info("worker pool stopped")
}

// Acquire blocks until a concurrency slot is free or ctx is done. The
// returned release func must be called exactly once to free the slot.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if p.sem == nil {
		p.wg.Add(1)
		return func() { p.wg.Done() }, nil
	}
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		return func() {
			<-p.sem
			p.wg.Done()
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterSession stores a cancel function for a request id so CancelSession
// can later tear it down.
func (p *Pool) RegisterSession(requestID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSessions[requestID] = cancel
}

// UnregisterSession removes the cancel function once the request finishes.
func (p *Pool) UnregisterSession(requestID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeSessions, requestID)
}

// CancelSession cancels the named request's context, if still active.
// Returns true if a registration was found.
func (p *Pool) CancelSession(requestID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeSessions[requestID]; ok {
		cancel()
		return true
	}
	return false
}

// Health reports the pool's current load, for the /health endpoint.
type Health struct {
	Capacity int
	Active   int
}

func (p *Pool) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Health{Capacity: p.capacity, Active: len(p.activeSessions)}
}
