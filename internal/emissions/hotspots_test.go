package emissions

import (
	"testing"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

func TestRankHotspots(t *testing.T) {
	hotspots := []types.Hotspot{
		{Department: "Paint Shop", TotalCO2: 50},
		{Department: "Assembly", TotalCO2: 200},
		{Department: "Office", TotalCO2: 1},
	}
	got := RankHotspots(hotspots)
	want := []int{25, 100, 1}
	for i := range want {
		if got[i].Percent != want[i] {
			t.Errorf("%s: percent = %d, want %d", got[i].Department, got[i].Percent, want[i])
		}
	}
	if got[0].Department != "Paint Shop" {
		t.Error("upstream order must be kept")
	}
}

func TestRankHotspotsAllZero(t *testing.T) {
	got := RankHotspots([]types.Hotspot{{Department: "A"}, {Department: "B", TotalCO2: -4}})
	for _, h := range got {
		if h.Percent != 0 {
			t.Errorf("%s: percent = %d, want 0", h.Department, h.Percent)
		}
	}
	if len(RankHotspots(nil)) != 0 {
		t.Error("expected empty ranking")
	}
}

func TestDepartments(t *testing.T) {
	now := time.Now()
	readings := []types.Reading{
		{Timestamp: now, Department: "Paint Shop"},
		{Timestamp: now, Department: ""},
		{Timestamp: now, Department: "Assembly"},
		{Timestamp: now, Department: "Paint Shop"},
	}
	got := Departments(readings)
	if len(got) != 2 || got[0] != "Assembly" || got[1] != "Paint Shop" {
		t.Errorf("Departments = %v", got)
	}
}
