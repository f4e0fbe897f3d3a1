package emissions

import (
	"fmt"
	"strconv"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

// Detect inspects the two newest readings and returns at most one active
// warning. The gas rule is checked before the CO2 spike rule.
func Detect(readings []types.Reading, th types.Thresholds) types.Warning {
	if len(readings) < 2 {
		return types.NoWarning
	}
	prev := readings[len(readings)-2]
	last := readings[len(readings)-1]

	if last.GasPPM != nil && *last.GasPPM > th.GasPPM {
		return types.Warning{
			Active: true,
			Kind:   types.WarningGasThresholdExceeded,
			Message: fmt.Sprintf("Gas level %s ppm exceeds the threshold of %s ppm",
				formatNumber(*last.GasPPM), formatNumber(th.GasPPM)),
		}
	}

	if pct, ok := spikePercent(prev.CO2Emissions, last.CO2Emissions); ok && pct > th.CO2SpikePercent {
		return types.Warning{
			Active: true,
			Kind:   types.WarningCO2SpikeDetected,
			Message: fmt.Sprintf("CO₂ spike detected: %.3f kg → %.3f kg (+%.1f%%)",
				*prev.CO2Emissions, *last.CO2Emissions, pct),
		}
	}

	return types.NoWarning
}

// spikePercent is the percentage increase from prev to cur. ok is false when
// either value is absent or prev is not positive.
func spikePercent(prev, cur *float64) (float64, bool) {
	if prev == nil || cur == nil || *prev <= 0 {
		return 0, false
	}
	return (*cur - *prev) / *prev * 100, true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// WarningChanged reports whether moving from old to cur is worth announcing:
// a warning became active, cleared, or switched kind or message.
func WarningChanged(old, cur types.Warning) bool {
	if old.Active != cur.Active {
		return true
	}
	if !cur.Active {
		return false
	}
	return old.Kind != cur.Kind || old.Message != cur.Message
}
