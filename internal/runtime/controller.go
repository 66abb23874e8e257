package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chat-client/internal/logging"
)

// RunFunc is a long-running job owned by a Controller.
type RunFunc func(ctx context.Context) error

// Controller runs one job at a time under a root context and lets another
// goroutine stop it or wait for it.
type Controller struct {
	rootCtx context.Context

	mu      sync.Mutex
	current *job
	lastErr error
}

type job struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

type StartHooks struct {
	OnExit func(error)
}

func NewController(rootCtx context.Context) *Controller {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	return &Controller{rootCtx: rootCtx}
}

func (c *Controller) Start(name string, fn RunFunc, logger *logging.Logger, hooks StartHooks) error {
	if logger == nil {
		panic("runtime.Controller.Start: logger must not be nil")
	}
	if fn == nil {
		panic("runtime.Controller.Start: run func must not be nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return fmt.Errorf("%s is already running", c.current.name)
	}

	ctx, cancel := context.WithCancel(c.rootCtx)
	j := &job{name: name, cancel: cancel, done: make(chan struct{})}
	c.current = j
	logger.Debug("runtime job starting", logging.Field("job", name))

	go func() {
		defer close(j.done)
		defer cancel()
		runErr := fn(ctx)
		switch {
		case errors.Is(runErr, context.Canceled), errors.Is(runErr, context.DeadlineExceeded):
			logger.Debug("runtime job canceled", logging.Field("job", name), logging.Field("error", runErr))
		case runErr != nil:
			logger.Warn("runtime job failed", logging.Field("job", name), logging.Field("error", runErr))
		default:
			logger.Debug("runtime job finished", logging.Field("job", name))
		}

		c.mu.Lock()
		c.current = nil
		c.lastErr = runErr
		c.mu.Unlock()

		if hooks.OnExit != nil {
			hooks.OnExit(runErr)
		}
	}()
	return nil
}

func (c *Controller) Stop() {
	c.mu.Lock()
	j := c.current
	c.mu.Unlock()
	if j != nil {
		j.cancel()
	}
}

// Wait blocks until the running job exits. A non-positive timeout waits
// forever. It reports false only on timeout.
func (c *Controller) Wait(timeout time.Duration) bool {
	c.mu.Lock()
	j := c.current
	c.mu.Unlock()
	if j == nil {
		return true
	}
	if timeout <= 0 {
		<-j.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-j.done:
		return true
	case <-timer.C:
		return false
	}
}

func (c *Controller) StopAndWait(timeout time.Duration) bool {
	c.Stop()
	return c.Wait(timeout)
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Err returns what the last finished job returned.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
