package csvexport

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

func TestToCSV(t *testing.T) {
	columns := []Column{{Key: "a", Label: "A"}, {Key: "b", Label: "B"}}

	tests := []struct {
		name     string
		rows     []Row
		expected string
	}{
		{
			name:     "quotes commas",
			rows:     []Row{{"a": "x,y", "b": 1.0}},
			expected: "A,B\n\"x,y\",1",
		},
		{
			name:     "header only",
			rows:     nil,
			expected: "A,B",
		},
		{
			name:     "doubles quotes",
			rows:     []Row{{"a": `say "hi"`, "b": "ok"}},
			expected: "A,B\n\"say \"\"hi\"\"\",ok",
		},
		{
			name:     "quotes newlines",
			rows:     []Row{{"a": "two\nlines", "b": 2.5}},
			expected: "A,B\n\"two\nlines\",2.5",
		},
		{
			name:     "nil and missing are empty",
			rows:     []Row{{"a": nil}, {"a": (*float64)(nil), "b": types.Float(3)}},
			expected: "A,B\n,\n,3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ToCSV(tt.rows, columns); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestToCSVRoundTrip(t *testing.T) {
	columns := []Column{{Key: "d", Label: "Description"}, {Key: "n", Label: "Amount"}}
	rows := []Row{
		{"d": "plain", "n": 1.0},
		{"d": "comma, inside", "n": 2.5},
		{"d": `"quoted"`, "n": 0.125},
		{"d": "multi\nline", "n": nil},
	}

	records, err := csv.NewReader(strings.NewReader(ToCSV(rows, columns))).ReadAll()
	if err != nil {
		t.Fatalf("encoding/csv could not parse output: %v", err)
	}
	if len(records) != len(rows)+1 {
		t.Fatalf("got %d records, want %d", len(records), len(rows)+1)
	}
	if records[0][0] != "Description" || records[0][1] != "Amount" {
		t.Errorf("header = %v", records[0])
	}

	want := [][]string{
		{"plain", "1"},
		{"comma, inside", "2.5"},
		{`"quoted"`, "0.125"},
		{"multi\nline", ""},
	}
	for i, w := range want {
		got := records[i+1]
		if got[0] != w[0] || got[1] != w[1] {
			t.Errorf("record %d = %q, want %q", i+1, got, w)
		}
	}
}

func TestEmissionRows(t *testing.T) {
	scope := types.Scope2
	readings := []types.Reading{{
		Timestamp:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Department:   "Assembly, North",
		Scope:        &scope,
		Current:      types.Float(4.2),
		CO2Emissions: types.Float(0.5),
	}}

	got := ToCSV(EmissionRows(readings), EmissionColumns)
	want := "Timestamp,Department,Scope,Current (A),Voltage (V),Power (W),Energy (kWh),CO₂ (kg)\n" +
		"2025-03-01T12:00:00Z,\"Assembly, North\",2,4.2,,,,0.5"
	if got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
}

func TestDepartmentRowsUseLocation(t *testing.T) {
	loc := time.FixedZone("UTC+1", 60*60)
	readings := []types.Reading{{Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), Department: "Office"}}

	rows := DepartmentRows(readings, loc, "")
	if rows[0]["timestamp"] != "2025-03-01 13:00:00" {
		t.Errorf("timestamp = %v", rows[0]["timestamp"])
	}
	if _, ok := rows[0]["scope"]; ok {
		t.Error("absent scope should be left out")
	}
}

func TestOffsetRows(t *testing.T) {
	offsets := []types.Offset{
		{Description: "Trees", Amount: types.Float(5), Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)},
		{Description: "Unknown"},
	}
	got := ToCSV(OffsetRows(offsets), OffsetColumns)
	want := "Timestamp,Description,Amount (kg)\n2025-01-02T03:04:05Z,Trees,5\n,Unknown,"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
