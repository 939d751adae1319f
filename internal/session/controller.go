package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/logger"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

// Controller runs at most one polling loop against a telemetry source and
// publishes every good reading into a Store.
type Controller struct {
	source   telemetry.Source
	store    *telemetry.Store
	recorder Recorder
	observer Observer
	log      logger.Logger

	interval     time.Duration
	fetchTimeout time.Duration
	cellInterval int
	waitForData  bool

	// mu serialises lifecycle transitions. state is also readable without it.
	mu     sync.Mutex
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle Controller
func New(source telemetry.Source, store *telemetry.Store, opts ...Option) *Controller {
	c := &Controller{
		source:       source,
		store:        store,
		observer:     noopObserver{},
		log:          logger.Default().With("session"),
		interval:     DefaultInterval,
		fetchTimeout: DefaultFetchTimeout,
		cellInterval: DefaultCellInterval,
		waitForData:  true,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns the current lifecycle state without blocking.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Running reports whether a polling loop is active.
func (c *Controller) Running() bool {
	return c.State() == Running
}

// Start connects to the source and launches the polling loop. It is a no-op
// unless the session is Idle. Only a failed connect is reported as an error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st := c.State(); st != Idle {
		c.log.Debug().Stringer("state", st).Msg("Start ignored, session not idle")
		return nil
	}

	conn, err := c.source.Connect(ctx)
	if err != nil {
		return errors.New().Wrap(ErrConnectFailed, err)
	}

	// The loop outlives the caller's context; only Stop ends it.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	c.cancel = cancel
	c.done = done
	c.setState(Running)

	c.log.Info().
		Dur("interval", c.interval).
		Int("cell_interval", c.cellInterval).
		Msg("Monitoring session started")

	go c.run(loopCtx, conn, done)

	return nil
}

// Stop cancels the polling loop and waits until it has released the source
// connection. Stopping an idle session is a no-op. If ctx ends first the
// session stays Stopping until the loop exits.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.State() {
	case Idle:
		c.mu.Unlock()
		return nil
	case Running:
		c.setState(Stopping)
		c.cancel()
		c.log.Debug().Msg("Cancellation requested")
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New().Wrap(ErrStopTimeout, ctx.Err())
	}
}

func (c *Controller) setState(st State) {
	c.state.Store(int32(st))
	c.observer.SessionStateChanged(st)
}

// finish moves the session back to Idle before done is closed, so Stop
// never returns while the state still reports Stopping.
func (c *Controller) finish(done chan struct{}) {
	c.mu.Lock()
	if c.done == done {
		c.cancel()
		c.cancel = nil
		c.done = nil
		c.setState(Idle)
	}
	c.mu.Unlock()

	close(done)
	c.log.Info().Msg("Monitoring session stopped")
}

func (c *Controller) run(ctx context.Context, conn telemetry.Conn, done chan struct{}) {
	defer c.finish(done)
	defer func() {
		if err := conn.Close(); err != nil {
			c.log.Warn().Err(err).Msg("Failed to close source connection")
		}
	}()

	for poll := 0; ; poll++ {
		c.poll(ctx, conn, poll)
		if ctx.Err() != nil {
			return
		}

		timer := time.NewTimer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Controller) poll(ctx context.Context, conn telemetry.Conn, n int) {
	started := time.Now()

	snapshot, err := c.fetch(ctx, conn, n)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.pollFailed(err, n)
		return
	}

	c.store.Publish(snapshot)

	// A published snapshot is recorded even if Stop arrives meanwhile.
	if c.recorder != nil {
		if err := c.recorder.Record(context.WithoutCancel(ctx), &snapshot); err != nil {
			c.log.Warn().Err(err).Msg("Failed to record snapshot")
		}
	}

	elapsed := time.Since(started)
	c.observer.PollSucceeded(elapsed)

	c.log.Debug().
		Int("poll", n).
		Dur("elapsed", elapsed).
		Stringer("snapshot", snapshot).
		Msg("Snapshot published")
}

func (c *Controller) pollFailed(err error, n int) {
	code, ok := errors.CodeOf(err)
	if !ok {
		code = ErrPollFailed
	}
	c.observer.PollFailed(code)

	c.log.Warn().
		Int("poll", n).
		Str("error_code", string(code)).
		Err(err).
		Dur("retry_in", c.interval).
		Msg("Fetch failed, retrying")
}

func (c *Controller) fetch(ctx context.Context, conn telemetry.Conn, n int) (telemetry.Snapshot, error) {
	snapshot, err := call(ctx, c.fetchTimeout, func(fctx context.Context) (telemetry.Snapshot, error) {
		return conn.FetchPrimary(fctx, c.waitForData)
	})
	if err != nil {
		return telemetry.Snapshot{}, err
	}

	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now()
	}
	if err := snapshot.Validate(); err != nil {
		return telemetry.Snapshot{}, err
	}

	if c.cellInterval > 0 && n%c.cellInterval == 0 {
		cells, err := call(ctx, c.fetchTimeout, conn.FetchSecondary)
		switch {
		case err == nil:
			snapshot.CellVoltages = cells
		case ctx.Err() != nil:
			return telemetry.Snapshot{}, ctx.Err()
		default:
			c.log.Warn().Err(err).Msg("Cell voltage fetch failed, publishing without cells")
		}
	}

	return snapshot, nil
}

type result[T any] struct {
	val T
	err error
}

// call runs fn with a per-fetch deadline and returns as soon as ctx is
// cancelled, even if fn does not honour its context.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(fctx)
		ch <- result[T]{v, err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-fctx.Done():
		// Give a source that honours its context the chance to report its
		// own error first.
		select {
		case r := <-ch:
			if r.err != nil {
				return zero, classify(ctx, fctx, r.err)
			}
			return r.val, nil
		default:
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, errors.New().Wrap(telemetry.ErrTimeout, fctx.Err())
	case r := <-ch:
		if r.err != nil {
			return zero, classify(ctx, fctx, r.err)
		}
		return r.val, nil
	}
}

func classify(ctx, fctx context.Context, err error) error {
	if _, ok := errors.CodeOf(err); ok {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(fctx.Err(), context.DeadlineExceeded) {
		return errors.New().Wrap(telemetry.ErrTimeout, err)
	}

	return err
}
