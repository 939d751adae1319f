package session_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/session"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

type fetchResult struct {
	snapshot telemetry.Snapshot
	err      error
}

// fakeSource serves scripted results and counts live connections. Once the
// script runs out the last result repeats.
type fakeSource struct {
	mu         sync.Mutex
	script     []fetchResult
	cells      []float64
	cellsErr   error
	connectErr error

	// step, when set, gates every primary fetch on a receive.
	step chan struct{}
	// ignoreCtx makes primary fetches block on step without honouring ctx.
	ignoreCtx bool
	// closeGate, when set, blocks Close until it is closed.
	closeGate chan struct{}

	active    atomic.Int32
	maxActive atomic.Int32
	connects  atomic.Int32
	fetches   atomic.Int32
	secondary atomic.Int32
	afterStop atomic.Int32
}

func (f *fakeSource) Connect(ctx context.Context) (telemetry.Conn, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.connects.Add(1)

	n := f.active.Add(1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}

	return &fakeConn{src: f}, nil
}

func (f *fakeSource) next() fetchResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.script) == 0 {
		return fetchResult{err: fmt.Errorf("no script")}
	}
	r := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return r
}

type fakeConn struct {
	src    *fakeSource
	closed atomic.Bool
}

func (c *fakeConn) FetchPrimary(ctx context.Context, _ bool) (telemetry.Snapshot, error) {
	if c.closed.Load() {
		c.src.afterStop.Add(1)
		return telemetry.Snapshot{}, fmt.Errorf("fetch on closed connection")
	}
	c.src.fetches.Add(1)

	if c.src.step != nil {
		if c.src.ignoreCtx {
			<-c.src.step
		} else {
			select {
			case <-c.src.step:
			case <-ctx.Done():
				return telemetry.Snapshot{}, ctx.Err()
			}
		}
	}

	r := c.src.next()
	return r.snapshot, r.err
}

func (c *fakeConn) FetchSecondary(ctx context.Context) ([]float64, error) {
	c.src.secondary.Add(1)
	if c.src.cellsErr != nil {
		return nil, c.src.cellsErr
	}
	return c.src.cells, nil
}

func (c *fakeConn) Close() error {
	if c.src.closeGate != nil {
		<-c.src.closeGate
	}
	if c.closed.CompareAndSwap(false, true) {
		c.src.active.Add(-1)
	}
	return nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []telemetry.Snapshot
}

func (r *fakeRecorder) Record(_ context.Context, s *telemetry.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *s)
	return nil
}

func (r *fakeRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

type fakeObserver struct {
	mu        sync.Mutex
	succeeded int
	failed    []errors.ErrorCode
	states    []session.State
}

func (o *fakeObserver) PollSucceeded(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.succeeded++
}

func (o *fakeObserver) PollFailed(code errors.ErrorCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, code)
}

func (o *fakeObserver) SessionStateChanged(s session.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *fakeObserver) failures() []errors.ErrorCode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]errors.ErrorCode(nil), o.failed...)
}

func (o *fakeObserver) transitions() []session.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]session.State(nil), o.states...)
}

func snap(soc, current, voltage float64) fetchResult {
	return fetchResult{snapshot: telemetry.Snapshot{
		SOC:     telemetry.Float(soc),
		Current: current,
		Voltage: voltage,
	}}
}
