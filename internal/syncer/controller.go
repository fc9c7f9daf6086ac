// Package syncer implements the debounced persistence pipeline: bursts of
// changes collapse into one save, at most one save is in flight, and the
// outcome is exposed as a save status.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/piko/internal/metrics"
)

// Status is the user-facing save state of one channel.
type Status string

const (
	StatusIdle   Status = "idle"
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "error"
)

const (
	DefaultQuiet = 600 * time.Millisecond
	DefaultHold  = 900 * time.Millisecond
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("syncer: controller closed")

// PersistFunc writes the current state. It must read the state when called,
// not when the change was made, and should honour ctx cancellation.
type PersistFunc func(ctx context.Context) error

// Options configure a Controller.
type Options struct {
	// Channel names the controller in logs and metrics, e.g. "graph" or "title".
	Channel string
	// Quiet is the quiescence window after the last trigger.
	Quiet time.Duration
	// Hold is how long "saved" is shown before returning to "idle".
	Hold time.Duration
	// Persist writes the current state. Required.
	Persist PersistFunc
	// ShouldPersist, when set, is consulted as the window elapses. Returning
	// false means the state already matches what was last sent: the attempt
	// is dropped without touching the status, and a save in flight is left to
	// finish since it carries that state.
	ShouldPersist func() bool
	// Enabled, when set, gates Trigger. A disabled controller ignores triggers.
	Enabled func() bool
	// OnStatus is called from the controller goroutine on every status
	// change. It must not block.
	OnStatus func(Status, error)
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

type result struct {
	seq     uint64
	err     error
	aborted bool // the attempt's own context was cancelled
}

// Controller is a single-owner event loop: one goroutine owns the timers,
// the in-flight cancel func and the attempt sequence. Public methods talk to
// it through channels.
type Controller struct {
	opts Options

	triggerCh chan struct{}
	resultCh  chan result
	flushCh   chan chan error

	mu       sync.Mutex
	status   Status
	lastErr  error
	dirty    bool
	triggers uint64

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// New starts a controller. opts.Persist is required.
func New(opts Options) *Controller {
	if opts.Persist == nil {
		panic("syncer: Persist is required")
	}
	if opts.Quiet <= 0 {
		opts.Quiet = DefaultQuiet
	}
	if opts.Hold <= 0 {
		opts.Hold = DefaultHold
	}
	if opts.Channel == "" {
		opts.Channel = "default"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		opts:      opts,
		triggerCh: make(chan struct{}, 1),
		resultCh:  make(chan result),
		flushCh:   make(chan chan error),
		status:    StatusIdle,
		stopCh:    make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go c.run()
	return c
}

// Trigger marks the state dirty and restarts the quiescence window.
func (c *Controller) Trigger() {
	if c.closed.Load() {
		return
	}
	if c.opts.Enabled != nil && !c.opts.Enabled() {
		return
	}
	c.mu.Lock()
	c.dirty = true
	c.triggers++
	c.mu.Unlock()

	select {
	case c.triggerCh <- struct{}{}:
	default:
		// A wakeup is already queued; the loop resets the window once for both.
	}
}

// Flush persists immediately if a save is pending, in flight or previously
// failed, and waits for the outcome. It returns nil when there is nothing to save.
func (c *Controller) Flush(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	reply := make(chan error, 1)
	select {
	case c.flushCh <- reply:
	case <-c.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current save status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the error of the most recent failed attempt, cleared by
// the next successful one.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Dirty reports whether there are changes no successful save has covered yet.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Close stops the timers and aborts any in-flight save. Pending changes are
// not written.
func (c *Controller) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.stopCh)
	}
	<-c.stopped
}

func (c *Controller) run() {
	defer close(c.stopped)

	base, cancelAll := context.WithCancel(context.Background())
	defer cancelAll()

	var (
		quiet   *time.Timer
		quietCh <-chan time.Time
		hold    *time.Timer
		holdCh  <-chan time.Time

		seq         uint64
		inflight    bool
		cancel      context.CancelFunc
		attemptMark uint64
		waiters     []chan error
	)

	stopHold := func() {
		if hold != nil {
			hold.Stop()
		}
		holdCh = nil
	}

	answer := func(err error) {
		for _, w := range waiters {
			w <- err
		}
		waiters = nil
	}

	fire := func() {
		if c.opts.ShouldPersist != nil && !c.opts.ShouldPersist() {
			c.opts.Metrics.SyncAttempt(c.opts.Channel, "skipped")
			c.mu.Lock()
			if inflight {
				attemptMark = c.triggers
				c.mu.Unlock()
				return
			}
			c.dirty = false
			c.mu.Unlock()
			answer(nil)
			return
		}
		if cancel != nil {
			cancel()
		}
		seq++
		var ctx context.Context
		ctx, cancel = context.WithCancel(base)
		inflight = true

		c.mu.Lock()
		attemptMark = c.triggers
		c.mu.Unlock()

		stopHold()
		c.setStatus(StatusSaving, nil, false)

		go func(seq uint64, ctx context.Context) {
			err := c.opts.Persist(ctx)
			select {
			case c.resultCh <- result{seq: seq, err: err, aborted: err != nil && ctx.Err() != nil}:
			case <-c.stopped:
			}
		}(seq, ctx)
	}

	for {
		select {
		case <-c.stopCh:
			if quiet != nil {
				quiet.Stop()
			}
			stopHold()
			if cancel != nil {
				cancel()
			}
			answer(ErrClosed)
			return

		case <-c.triggerCh:
			if quiet == nil {
				quiet = time.NewTimer(c.opts.Quiet)
			} else {
				quiet.Stop()
				quiet.Reset(c.opts.Quiet)
			}
			quietCh = quiet.C

		case <-quietCh:
			quietCh = nil
			fire()

		case reply := <-c.flushCh:
			waiters = append(waiters, reply)
			switch {
			case quietCh != nil:
				quiet.Stop()
				quietCh = nil
				fire()
			case inflight:
			case c.Dirty():
				fire()
			default:
				answer(nil)
			}

		case r := <-c.resultCh:
			if r.seq != seq {
				c.opts.Metrics.SyncAttempt(c.opts.Channel, "superseded")
				continue
			}
			inflight = false
			cancel()
			cancel = nil

			switch {
			case r.err == nil:
				c.opts.Metrics.SyncAttempt(c.opts.Channel, "saved")
				c.mu.Lock()
				if c.triggers == attemptMark {
					c.dirty = false
				}
				c.mu.Unlock()
				c.setStatus(StatusSaved, nil, true)
				if hold == nil {
					hold = time.NewTimer(c.opts.Hold)
				} else {
					hold.Stop()
					hold.Reset(c.opts.Hold)
				}
				holdCh = hold.C
			case r.aborted:
				c.opts.Metrics.SyncAttempt(c.opts.Channel, "aborted")
				c.setStatus(StatusIdle, nil, false)
			default:
				c.opts.Metrics.SyncAttempt(c.opts.Channel, "error")
				c.opts.Logger.Warn("syncer: persist failed",
					slog.String("channel", c.opts.Channel),
					slog.String("error", r.err.Error()))
				c.setStatus(StatusError, r.err, false)
			}
			answer(r.err)

		case <-holdCh:
			holdCh = nil
			if c.Status() == StatusSaved {
				c.setStatus(StatusIdle, nil, false)
			}
		}
	}
}

// setStatus records s and notifies OnStatus. clearErr drops the last error.
func (c *Controller) setStatus(s Status, err error, clearErr bool) {
	c.mu.Lock()
	c.status = s
	if err != nil {
		c.lastErr = err
	} else if clearErr {
		c.lastErr = nil
	}
	c.mu.Unlock()

	c.opts.Logger.Debug("syncer: status",
		slog.String("channel", c.opts.Channel),
		slog.String("status", string(s)))
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(s, err)
	}
}
