package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Lifecycle manages the startup and shutdown of service components.
type Lifecycle struct {
	mu sync.Mutex

	startCallbacks []func(context.Context) error
	stopCallbacks  []func(context.Context) error

	started bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// OnStart registers a callback to run on startup.
func (l *Lifecycle) OnStart(callback func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.startCallbacks = append(l.startCallbacks, callback)
}

// OnStop registers a callback to run on shutdown. Stop callbacks run in
// reverse registration order.
func (l *Lifecycle) OnStop(callback func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopCallbacks = append(l.stopCallbacks, callback)
}

// RegisterCloser registers a closer to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(c interface{ Close() error }) {
	l.OnStop(func(context.Context) error {
		return c.Close()
	})
}

// Start runs all start callbacks in registration order. When one fails,
// the stop callbacks registered so far run in reverse order.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("lifecycle already started")
	}

	for i, cb := range l.startCallbacks {
		if err := cb(ctx); err != nil {
			l.rollback(ctx)
			return fmt.Errorf("start callback %d failed: %w", i, err)
		}
	}

	l.started = true
	return nil
}

// rollback stops already-started components, best effort.
func (l *Lifecycle) rollback(ctx context.Context) {
	for i := len(l.stopCallbacks) - 1; i >= 0; i-- {
		if err := l.stopCallbacks[i](ctx); err != nil {
			slog.Warn("lifecycle rollback: stop callback failed", "callback", i, "error", err)
		}
	}
}

// Stop runs all stop callbacks in reverse order.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}

	var errs []error
	for i := len(l.stopCallbacks) - 1; i >= 0; i-- {
		if err := l.stopCallbacks[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop callback %d: %w", i, err))
		}
	}

	l.started = false

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// IsStarted returns whether the lifecycle has been started.
func (l *Lifecycle) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}
