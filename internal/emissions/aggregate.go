package emissions

import (
	"math"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

// Aggregate sums every metric over the reading set. Absent metrics count as zero.
func Aggregate(readings []types.Reading) types.Totals {
	var t types.Totals
	for _, r := range readings {
		t.TotalCO2 += types.Value(r.CO2Emissions)
		t.TotalEnergy += types.Value(r.Energy)
		t.TotalCurrent += types.Value(r.Current)
		t.TotalPower += types.Value(r.Power)
		t.TotalGasPPM += types.Value(r.GasPPM)
	}
	return t
}

// NetZeroProgress is the share of emitted CO2 counterbalanced by offsets, as a
// percentage in [0, 100]. A progress figure computed by the upstream takes
// precedence over the local ratio.
func NetZeroProgress(totals types.Totals, offsetTotal float64, external *float64) float64 {
	if external != nil {
		return clampPercent(*external)
	}
	if totals.TotalCO2 <= 0 {
		return 0
	}
	return clampPercent(math.Min(100, offsetTotal/totals.TotalCO2*100))
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// BuildKPIs assembles the headline cards. The upstream summary, when present,
// overrides the locally computed CO2 and energy totals field by field. The
// summary describes the whole window, so callers showing a filtered view
// pass nil to keep every card on the same base as totals.
func BuildKPIs(totals types.Totals, summary *types.ReportSummary, offsetTotal float64) types.KPIs {
	k := types.KPIs{
		TotalCO2:    totals.TotalCO2,
		TotalEnergy: totals.TotalEnergy,
		OffsetTotal: offsetTotal,
	}

	var external *float64
	if summary != nil {
		if summary.TotalCO2 != nil {
			k.TotalCO2 = *summary.TotalCO2
			k.FromSummary = true
		}
		if summary.TotalEnergy != nil {
			k.TotalEnergy = *summary.TotalEnergy
			k.FromSummary = true
		}
		external = summary.Progress
	}

	k.NetZeroProgress = round(NetZeroProgress(totals, offsetTotal, external), 1)
	return k
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
