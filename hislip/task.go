package hislip

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-hislip/logger"
)

// TaskFunc represents a function that performs a task within a goroutine managed by the TaskManager.
// It should return true to continue running the task, or false to stop the goroutine.
type TaskFunc func() bool

// TaskCancelFunc represents a function that will be called when a goroutine managed by the TaskManager exits.
// It can be used to perform cleanup actions or to report the termination of the task.
type TaskCancelFunc func()

// TaskManager manages the lifecycle of the goroutines of a HiSLIP session, such as the synchronous
// channel reader and the asynchronous event listener.
//
// When the context of the TaskManager is canceled, all running goroutines are signaled to stop. The
// TaskManager uses a sync.WaitGroup to wait for all goroutines to terminate in Wait().
//
// Tasks that block in I/O only observe the cancellation when their I/O returns, so the owner is
// expected to close the underlying connections after calling Stop.
type TaskManager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
}

// NewTaskManager creates a new TaskManager with the given context as the parent context and logger.
func NewTaskManager(ctx context.Context, l logger.Logger) *TaskManager {
	if l == nil {
		l = logger.NewNop()
	}

	mgr := &TaskManager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context which is canceled when the TaskManager stops.
func (mgr *TaskManager) Context() context.Context {
	return mgr.ctx
}

// Start starts a new goroutine with the given name and task function.
//
// The taskFunc is called in a loop until it returns false or the TaskManager is stopped.
// The optional cancelFunc is called once when the goroutine exits, including after a panic in taskFunc.
func (mgr *TaskManager) Start(name string, taskFunc TaskFunc, cancelFunc TaskCancelFunc) error {
	mgr.logger.Debug("start task", "name", name)

	select {
	case <-mgr.ctx.Done():
		return fmt.Errorf("task manager already stopped, cannot start %s", name)
	default:
	}

	started := make(chan struct{})

	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		close(started)

		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		if cancelFunc != nil {
			defer cancelFunc()
		}

		mgr.runTaskLoop(name, taskFunc)
	}()

	select {
	case <-started:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for %s to start", name)
	}
}

// Stop signals all running goroutines to stop.
func (mgr *TaskManager) Stop() {
	mgr.cancel()
}

// Wait waits for all goroutines to terminate.
func (mgr *TaskManager) Wait() {
	mgr.wg.Wait()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *TaskManager) TaskCount() int {
	return int(mgr.count.Load())
}

// runTaskLoop runs a task function in a loop with context cancellation and panic protection.
func (mgr *TaskManager) runTaskLoop(name string, taskFunc TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-mgr.ctx.Done():
			return
		default:
			if !taskFunc() {
				return
			}
		}
	}
}
