// Package simulator provides a telemetry.Source that synthesises a plausible
// battery pack: a slowly drifting state of charge, a noisy current and a set
// of cells whose voltages follow the pack. It stands in for a real device on
// machines without one and can inject the failures a flaky link produces.
package simulator

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/logger"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

const (
	DefaultCells = 16

	ErrInvalidConfig = errors.ErrorCode("simulator_invalid_config")
)

func init() {
	errors.RegisterMessage(ErrInvalidConfig, "Invalid simulator configuration")
}

// Config tunes the simulated pack
type Config struct {
	// FailureRate is the probability in [0,1] that a primary fetch fails.
	FailureRate float64
	Cells       int
	// Seed makes runs reproducible. Zero picks a random seed.
	Seed uint64
	// Latency delays every fetch that waits for fresh data.
	Latency time.Duration
	// Name and Address identify the simulated device in logs.
	Name    string
	Address string
}

// Validate checks ranges
func (c Config) Validate() error {
	errFactory := errors.New()

	if c.FailureRate < 0 || c.FailureRate > 1 || math.IsNaN(c.FailureRate) {
		return errFactory.WithMessage(ErrInvalidConfig, "failure rate must be between 0 and 1")
	}
	if c.Cells < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "cell count must not be negative")
	}
	if c.Latency < 0 {
		return errFactory.WithMessage(ErrInvalidConfig, "latency must not be negative")
	}

	return nil
}

// Source is a simulated battery pack. All connections share one pack state.
type Source struct {
	cfg Config
	log logger.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	soc     float64
	current float64
	temp    float64
	cells   []float64

	connects atomic.Int32
	open     atomic.Int32
}

// New creates a simulated pack at 80% charge.
func New(cfg Config, log logger.Logger) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	s := &Source{
		cfg:   cfg,
		log:   log.With("simulator"),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		soc:   80,
		temp:  21,
		cells: make([]float64, cfg.Cells),
	}
	for i := range s.cells {
		s.cells[i] = 3.30 + s.rng.Float64()*0.02
	}

	return s, nil
}

// Connects reports how many connections have been opened
func (s *Source) Connects() int {
	return int(s.connects.Load())
}

// Open reports how many connections are currently open
func (s *Source) Open() int {
	return int(s.open.Load())
}

func (s *Source) Connect(ctx context.Context) (telemetry.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New().Wrap(telemetry.ErrConnectFailed, err)
	}

	s.connects.Add(1)
	s.open.Add(1)
	s.log.Info().
		Str("device", s.cfg.Name).
		Str("address", s.cfg.Address).
		Int("cells", s.cfg.Cells).
		Msg("Simulated link opened")

	return &conn{src: s}, nil
}

// step advances the pack by one sample. Must hold mu.
func (s *Source) step() {
	s.current += (s.rng.Float64() - 0.5) * 0.8
	s.current = clamp(s.current, -30, 30)

	// Positive current charges the pack.
	s.soc = clamp(s.soc+s.current*0.01, 0, 100)
	s.temp = clamp(s.temp+(s.rng.Float64()-0.5)*0.2+math.Abs(s.current)*0.005, -20, 60)

	base := 3.0 + s.soc/100*0.4
	for i := range s.cells {
		s.cells[i] = base + (s.rng.Float64()-0.5)*0.02
	}
}

func (s *Source) snapshot() telemetry.Snapshot {
	voltage := 0.0
	for _, v := range s.cells {
		voltage += v
	}
	if len(s.cells) == 0 {
		voltage = DefaultCells * (3.0 + s.soc/100*0.4)
	}

	snap := telemetry.Snapshot{
		SOC:          telemetry.Float(round(s.soc, 1)),
		Current:      round(s.current, 3),
		Voltage:      round(voltage, 3),
		Temperatures: []float64{round(s.temp, 1), round(s.temp-0.5, 1)},
		Timestamp:    time.Now(),
	}

	// The pack balances near full charge.
	if s.soc > 95 {
		snap.BalanceCurrent = telemetry.Float(round(0.05+s.rng.Float64()*0.1, 3))
	}

	return snap
}

// fail rolls the configured failure rate and returns the error to inject.
// Must hold mu.
func (s *Source) fail() error {
	if s.cfg.FailureRate == 0 || s.rng.Float64() >= s.cfg.FailureRate {
		return nil
	}

	errFactory := errors.New()
	if s.rng.IntN(2) == 0 {
		return errFactory.WithMessage(telemetry.ErrTimeout, "simulated device did not answer")
	}

	return errFactory.WithMessage(telemetry.ErrSourceUnavailable, "simulated link dropped")
}

type conn struct {
	src    *Source
	closed atomic.Bool
}

func (c *conn) FetchPrimary(ctx context.Context, wait bool) (telemetry.Snapshot, error) {
	if c.closed.Load() {
		return telemetry.Snapshot{}, errors.New().WithMessage(telemetry.ErrSourceUnavailable, "connection closed")
	}
	if wait {
		if err := c.src.delay(ctx); err != nil {
			return telemetry.Snapshot{}, err
		}
	}

	c.src.mu.Lock()
	defer c.src.mu.Unlock()

	if err := c.src.fail(); err != nil {
		return telemetry.Snapshot{}, err
	}
	if wait {
		c.src.step()
	}

	return c.src.snapshot(), nil
}

func (c *conn) FetchSecondary(ctx context.Context) ([]float64, error) {
	if c.closed.Load() {
		return nil, errors.New().WithMessage(telemetry.ErrSourceUnavailable, "connection closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.New().Wrap(telemetry.ErrTimeout, err)
	}

	c.src.mu.Lock()
	defer c.src.mu.Unlock()

	cells := make([]float64, len(c.src.cells))
	for i, v := range c.src.cells {
		cells[i] = round(v, 3)
	}

	return cells, nil
}

func (c *conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.src.open.Add(-1)
		c.src.log.Debug().Msg("Simulated link closed")
	}

	return nil
}

func (s *Source) delay(ctx context.Context) error {
	if s.cfg.Latency == 0 {
		return nil
	}

	timer := time.NewTimer(s.cfg.Latency)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errors.New().Wrap(telemetry.ErrTimeout, ctx.Err())
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
