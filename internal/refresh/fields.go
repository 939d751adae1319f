package refresh

import (
	"math"
	"slices"

	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

// Field names reported to subscribers
const (
	FieldSOC            = "soc"
	FieldCurrent        = "current"
	FieldVoltage        = "voltage"
	FieldTemperatures   = "temperatures"
	FieldBalanceCurrent = "balance_current"
	FieldCellVoltages   = "cell_voltages"
)

// Field extracts one observed value from a snapshot. Value returns false when
// the snapshot carries no value for the field.
type Field struct {
	Name  string
	Value func(telemetry.Snapshot) (any, bool)
}

// DefaultFields returns every field a snapshot carries.
func DefaultFields() []Field {
	return []Field{
		{FieldSOC, func(s telemetry.Snapshot) (any, bool) {
			if s.SOC == nil {
				return nil, false
			}
			return *s.SOC, true
		}},
		{FieldCurrent, func(s telemetry.Snapshot) (any, bool) {
			return s.Current, true
		}},
		{FieldVoltage, func(s telemetry.Snapshot) (any, bool) {
			return s.Voltage, true
		}},
		{FieldTemperatures, func(s telemetry.Snapshot) (any, bool) {
			return s.Temperatures, len(s.Temperatures) > 0
		}},
		{FieldBalanceCurrent, func(s telemetry.Snapshot) (any, bool) {
			if s.BalanceCurrent == nil {
				return nil, false
			}
			return *s.BalanceCurrent, true
		}},
		{FieldCellVoltages, func(s telemetry.Snapshot) (any, bool) {
			return s.CellVoltages, len(s.CellVoltages) > 0
		}},
	}
}

// equal compares observed values by value, never by identity. NaN equals
// NaN so an unchanged missing reading does not notify on every tick.
func equal(a, b any) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		return ok && sameFloat(av, bv)
	case []float64:
		bv, ok := b.([]float64)
		return ok && slices.EqualFunc(av, bv, sameFloat)
	default:
		return a == b
	}
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}
