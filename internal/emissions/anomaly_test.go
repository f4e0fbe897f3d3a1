package emissions

import (
	"strings"
	"testing"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

func pair(co2a, gasA, co2b, gasB float64) []types.Reading {
	return []types.Reading{
		{CO2Emissions: types.Float(co2a), GasPPM: types.Float(gasA)},
		{CO2Emissions: types.Float(co2b), GasPPM: types.Float(gasB)},
	}
}

func TestDetect(t *testing.T) {
	th := types.DefaultThresholds()

	tests := []struct {
		name        string
		readings    []types.Reading
		kind        types.WarningKind
		mentions    []string
	}{
		{
			name:     "no readings",
			readings: nil,
			kind:     types.WarningNone,
		},
		{
			name:     "single reading over threshold",
			readings: []types.Reading{{GasPPM: types.Float(5000)}},
			kind:     types.WarningNone,
		},
		{
			name:     "gas threshold exceeded",
			readings: pair(10, 50, 10, 1200),
			kind:     types.WarningGasThresholdExceeded,
			mentions: []string{"1200", "1000"},
		},
		{
			name:     "gas exactly at threshold is fine",
			readings: pair(10, 50, 10, 1000),
			kind:     types.WarningNone,
		},
		{
			name:     "co2 spike",
			readings: pair(10, 50, 13, 50),
			kind:     types.WarningCO2SpikeDetected,
			mentions: []string{"10.000", "13.000"},
		},
		{
			name:     "increase below spike threshold",
			readings: pair(10, 50, 11, 50),
			kind:     types.WarningNone,
		},
		{
			name:     "gas wins over spike",
			readings: pair(10, 50, 20, 1500),
			kind:     types.WarningGasThresholdExceeded,
		},
		{
			name:     "previous co2 zero never spikes",
			readings: pair(0, 50, 20, 50),
			kind:     types.WarningNone,
		},
		{
			name: "missing co2 never spikes",
			readings: []types.Reading{
				{GasPPM: types.Float(50)},
				{CO2Emissions: types.Float(100)},
			},
			kind: types.WarningNone,
		},
		{
			name: "only the newest pair counts",
			readings: []types.Reading{
				{CO2Emissions: types.Float(1), GasPPM: types.Float(9000)},
				{CO2Emissions: types.Float(10), GasPPM: types.Float(50)},
				{CO2Emissions: types.Float(10.5), GasPPM: types.Float(50)},
			},
			kind: types.WarningNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Detect(tt.readings, th)
			if w.Kind != tt.kind {
				t.Fatalf("kind = %q, want %q (message %q)", w.Kind, tt.kind, w.Message)
			}
			if w.Active != (tt.kind != types.WarningNone) {
				t.Errorf("active = %v for kind %q", w.Active, w.Kind)
			}
			for _, m := range tt.mentions {
				if !strings.Contains(w.Message, m) {
					t.Errorf("message %q does not mention %q", w.Message, m)
				}
			}
		})
	}
}

func TestDetectCustomThresholds(t *testing.T) {
	th := types.Thresholds{GasPPM: 500, CO2SpikePercent: 5}
	if w := Detect(pair(10, 50, 10, 600), th); w.Kind != types.WarningGasThresholdExceeded {
		t.Errorf("gas 600 over 500: got %q", w.Kind)
	}
	if w := Detect(pair(10, 50, 11, 50), th); w.Kind != types.WarningCO2SpikeDetected {
		t.Errorf("10%% over 5%%: got %q", w.Kind)
	}
}

func TestWarningChanged(t *testing.T) {
	gas := types.Warning{Active: true, Kind: types.WarningGasThresholdExceeded, Message: "a"}
	spike := types.Warning{Active: true, Kind: types.WarningCO2SpikeDetected, Message: "b"}

	tests := []struct {
		name     string
		old, cur types.Warning
		expected bool
	}{
		{"stays inactive", types.NoWarning, types.NoWarning, false},
		{"raised", types.NoWarning, gas, true},
		{"cleared", gas, types.NoWarning, true},
		{"same warning", gas, gas, false},
		{"kind changed", gas, spike, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WarningChanged(tt.old, tt.cur); got != tt.expected {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}
