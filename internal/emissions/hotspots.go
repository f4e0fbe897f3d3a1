package emissions

import (
	"math"
	"sort"

	"github.com/carbonwatch/carbonwatch/internal/types"
	"gonum.org/v1/gonum/floats"
)

// RankHotspots annotates the upstream ranking with each department's share of
// the largest total. The upstream order is kept as-is.
func RankHotspots(hotspots []types.Hotspot) []types.RankedHotspot {
	out := make([]types.RankedHotspot, len(hotspots))
	if len(hotspots) == 0 {
		return out
	}

	values := make([]float64, len(hotspots))
	for i, h := range hotspots {
		values[i] = h.TotalCO2
	}
	largest := math.Max(0, floats.Max(values))

	for i, h := range hotspots {
		pct := 0
		if largest > 0 {
			pct = int(math.Round(h.TotalCO2 / largest * 100))
		}
		out[i] = types.RankedHotspot{Department: h.Department, TotalCO2: h.TotalCO2, Percent: pct}
	}
	return out
}

// Departments lists the distinct, non-empty department names in readings.
func Departments(readings []types.Reading) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, r := range readings {
		if r.Department == "" {
			continue
		}
		if _, ok := seen[r.Department]; ok {
			continue
		}
		seen[r.Department] = struct{}{}
		out = append(out, r.Department)
	}
	sort.Strings(out)
	return out
}
