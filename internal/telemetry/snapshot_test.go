package telemetry_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		snap    telemetry.Snapshot
		wantErr bool
	}{
		{"valid", telemetry.Snapshot{SOC: telemetry.Float(77), Current: -2.5, Voltage: 52.1}, false},
		{"unknown soc", telemetry.Snapshot{Voltage: 52.1}, false},
		{"soc above range", telemetry.Snapshot{SOC: telemetry.Float(100.5)}, true},
		{"soc below range", telemetry.Snapshot{SOC: telemetry.Float(-1)}, true},
		{"negative voltage", telemetry.Snapshot{Voltage: -0.1}, true},
		{"nan current", telemetry.Snapshot{Current: math.NaN()}, true},
		{"infinite voltage", telemetry.Snapshot{Voltage: math.Inf(1)}, true},
		{"nan temperature", telemetry.Snapshot{Voltage: 52, Temperatures: []float64{21, math.NaN()}}, true},
		{"nan balance current", telemetry.Snapshot{Voltage: 52, BalanceCurrent: telemetry.Float(math.NaN())}, true},
		{"infinite cell voltage", telemetry.Snapshot{Voltage: 52, CellVoltages: []float64{3.3, math.Inf(-1)}}, true},
		{"finite sequences", telemetry.Snapshot{Voltage: 52, Temperatures: []float64{21}, CellVoltages: []float64{3.3}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.snap.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, telemetry.ErrInvalidSnapshot))
		})
	}
}

func TestSnapshotString(t *testing.T) {
	s := telemetry.Snapshot{
		SOC:            telemetry.Float(77),
		Current:        -2.5,
		Voltage:        52.1,
		Temperatures:   []float64{21.5},
		BalanceCurrent: telemetry.Float(0.2),
		CellVoltages:   []float64{3.3, 3.31},
	}

	assert.Equal(t,
		"SOC: 77 Current: -2.500 Voltage: 52.100 Temp: [21.5] I_bal: 0.2 Voltages: [3.3 3.31]",
		s.String())
	assert.Equal(t, "SOC: unknown Current: 0.000 Voltage: 0.000 Temp: []", telemetry.Snapshot{}.String())
}
