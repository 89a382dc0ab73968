// Package task supervises the long running goroutines of an engine.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwac/camannex/logger"
)

// Func performs one iteration of a task.
// It should return true to keep running, or false to stop the goroutine.
type Func func(ctx context.Context) bool

// ErrStopped is returned when a task is started on a stopped Manager.
var ErrStopped = errors.New("task: manager stopped")

// Manager manages the lifecycle of a group of goroutines.
//
// All goroutines share one context; Stop cancels it and Wait joins them.
// After Wait returns the manager can be reused for a new group of tasks.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("respond", func(ctx context.Context) bool {
//	    // ... block on ctx or a channel ...
//	    return true
//	})
//	_ = mgr.StartInterval("poll", pollOnce, 20*time.Second, time.Second)
//
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager using ctx as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)
	return mgr
}

// Context returns the context shared by the running tasks.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn repeatedly in a new goroutine until it returns false or the manager stops.
func (mgr *Manager) Start(name string, fn Func) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.spawn(name, func(ctx context.Context) {
		for ctx.Err() == nil {
			if !mgr.callWithRecover(ctx, name, fn) {
				return
			}
		}
	})
}

// StartInterval runs fn after delay and then every interval until it returns false
// or the manager stops.
func (mgr *Manager) StartInterval(name string, fn Func, interval, delay time.Duration) error {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "delay", delay)

	if interval <= 0 {
		return fmt.Errorf("task: invalid interval %v for %s", interval, name)
	}
	if delay < 0 {
		delay = 0
	}

	return mgr.spawn(name, func(ctx context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if !mgr.callWithRecover(ctx, name, fn) {
					return
				}
				timer.Reset(interval)
			}
		}
	})
}

// Stop signals all running goroutines.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then rearms the manager.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func(ctx context.Context)) error {
	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	ctx := mgr.Context()
	if ctx.Err() != nil {
		return fmt.Errorf("%w: cannot start %s", ErrStopped, name)
	}

	mgr.wg.Add(1)
	mgr.count.Add(1)
	go func() {
		defer func() {
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		body(ctx)
	}()

	return nil
}

// callWithRecover stops the task when fn panics.
func (mgr *Manager) callWithRecover(ctx context.Context, name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			cont = false
		}
	}()

	return fn(ctx)
}
