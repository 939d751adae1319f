package telemetry

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"codeberg.org/mutker/bmsmon/internal/errors"
)

// Snapshot is one atomic reading of the battery pack. Values are exactly as
// reported by the source; formatting is left to subscribers.
type Snapshot struct {
	// SOC is the state of charge in percent, nil while the source cannot
	// report it.
	SOC *float64 `json:"soc"`
	// Current in amperes. The sign convention is the source's.
	Current float64 `json:"current"`
	// Voltage of the pack in volts.
	Voltage        float64   `json:"voltage"`
	Temperatures   []float64 `json:"temperatures"`
	BalanceCurrent *float64  `json:"balance_current,omitempty"`
	CellVoltages   []float64 `json:"cell_voltages,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Float returns a pointer to v, for optional snapshot fields.
func Float(v float64) *float64 {
	return &v
}

// Validate rejects readings that cannot be physically meaningful.
func (s Snapshot) Validate() error {
	errFactory := errors.New()

	if s.SOC != nil && (math.IsNaN(*s.SOC) || *s.SOC < 0 || *s.SOC > 100) {
		return errFactory.WithData(ErrInvalidSnapshot, fmt.Sprintf("soc out of range: %v", *s.SOC))
	}
	if !finite(s.Voltage) || s.Voltage < 0 {
		return errFactory.WithData(ErrInvalidSnapshot, fmt.Sprintf("invalid voltage: %v", s.Voltage))
	}
	if math.IsNaN(s.Current) || math.IsInf(s.Current, 0) {
		return errFactory.WithData(ErrInvalidSnapshot, fmt.Sprintf("current not finite: %v", s.Current))
	}
	if s.BalanceCurrent != nil && !finite(*s.BalanceCurrent) {
		return errFactory.WithData(ErrInvalidSnapshot, fmt.Sprintf("balance current not finite: %v", *s.BalanceCurrent))
	}
	if i := slices.IndexFunc(s.Temperatures, notFinite); i >= 0 {
		return errFactory.WithData(ErrInvalidSnapshot, fmt.Sprintf("temperature %d not finite: %v", i+1, s.Temperatures[i]))
	}
	if i := slices.IndexFunc(s.CellVoltages, notFinite); i >= 0 {
		return errFactory.WithData(ErrInvalidSnapshot, fmt.Sprintf("cell %d voltage not finite: %v", i+1, s.CellVoltages[i]))
	}

	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func notFinite(v float64) bool {
	return !finite(v)
}

// Clone returns a deep copy so the caller may not alias stored slices.
func (s Snapshot) Clone() Snapshot {
	c := s
	if s.SOC != nil {
		c.SOC = Float(*s.SOC)
	}
	if s.BalanceCurrent != nil {
		c.BalanceCurrent = Float(*s.BalanceCurrent)
	}
	c.Temperatures = slices.Clone(s.Temperatures)
	c.CellVoltages = slices.Clone(s.CellVoltages)

	return c
}

// String fulfils the Stringer interface
func (s Snapshot) String() string {
	var b strings.Builder

	if s.SOC != nil {
		fmt.Fprintf(&b, "SOC: %v", *s.SOC)
	} else {
		b.WriteString("SOC: unknown")
	}
	fmt.Fprintf(&b, " Current: %.3f Voltage: %.3f Temp: %v", s.Current, s.Voltage, s.Temperatures)
	if s.BalanceCurrent != nil {
		fmt.Fprintf(&b, " I_bal: %v", *s.BalanceCurrent)
	}
	if len(s.CellVoltages) > 0 {
		fmt.Fprintf(&b, " Voltages: %v", s.CellVoltages)
	}

	return b.String()
}
