package refresh

import (
	"context"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/bmsmon/internal/logger"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

const DefaultCadence = time.Second

// Gate checks the store on a fixed cadence and notifies its subscriber only
// for fields whose value changed since the last notification.
type Gate struct {
	store   *telemetry.Store
	sub     Subscriber
	fields  []Field
	cadence time.Duration
	log     logger.Logger

	mu        sync.Mutex
	displayed map[string]any
}

// Option configures a Gate
type Option func(*Gate)

// WithCadence sets the tick interval
func WithCadence(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.cadence = d
		}
	}
}

// WithFields restricts the gate to the named default fields. Names that are
// not default fields are logged and ignored.
func WithFields(names ...string) Option {
	return func(g *Gate) {
		defaults := DefaultFields()
		for _, name := range names {
			if !slices.ContainsFunc(defaults, func(f Field) bool { return f.Name == name }) {
				g.log.Warn().Str("field", name).Msg("Ignoring unknown refresh field")
			}
		}

		g.fields = slices.DeleteFunc(defaults, func(f Field) bool {
			return !slices.Contains(names, f.Name)
		})
	}
}

// WithField adds a custom field
func WithField(f Field) Option {
	return func(g *Gate) {
		g.fields = append(g.fields, f)
	}
}

func NewGate(store *telemetry.Store, sub Subscriber, opts ...Option) *Gate {
	g := &Gate{
		store:     store,
		sub:       sub,
		fields:    DefaultFields(),
		cadence:   DefaultCadence,
		log:       logger.Default().With("refresh"),
		displayed: make(map[string]any),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Tick compares the latest snapshot against the displayed values and calls
// the subscriber once per changed field. It returns the number of
// notifications sent.
func (g *Gate) Tick() int {
	snapshot, ok := g.store.Current()
	if !ok {
		return 0
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	notified := 0
	for _, f := range g.fields {
		value, ok := f.Value(snapshot)
		if !ok {
			continue
		}
		if prev, seen := g.displayed[f.Name]; seen && equal(prev, value) {
			continue
		}

		if seq, ok := value.([]float64); ok {
			g.displayed[f.Name] = slices.Clone(seq)
		} else {
			g.displayed[f.Name] = value
		}
		g.sub.OnChange(f.Name, value)
		notified++
	}

	return notified
}

// Reset forgets the displayed values so the next tick reports every field.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	clear(g.displayed)
}

// Run ticks until ctx is done.
func (g *Gate) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Tick()
		}
	}
}
