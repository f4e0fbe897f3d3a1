package csvexport

import (
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

// EmissionColumns is the column set of the emissions export.
var EmissionColumns = []Column{
	{Key: "timestamp", Label: "Timestamp"},
	{Key: "department", Label: "Department"},
	{Key: "scope", Label: "Scope"},
	{Key: "current", Label: "Current (A)"},
	{Key: "voltage", Label: "Voltage (V)"},
	{Key: "power", Label: "Power (W)"},
	{Key: "energy", Label: "Energy (kWh)"},
	{Key: "co2", Label: "CO₂ (kg)"},
}

// DepartmentColumns is the column set of the department table export.
var DepartmentColumns = []Column{
	{Key: "timestamp", Label: "Timestamp"},
	{Key: "department", Label: "Department"},
	{Key: "scope", Label: "Scope"},
	{Key: "current", Label: "Current"},
	{Key: "voltage", Label: "Voltage"},
	{Key: "power", Label: "Power"},
	{Key: "energy", Label: "Energy"},
	{Key: "co2", Label: "CO2"},
}

// OffsetColumns is the column set of the offset ledger export.
var OffsetColumns = []Column{
	{Key: "timestamp", Label: "Timestamp"},
	{Key: "description", Label: "Description"},
	{Key: "amount", Label: "Amount (kg)"},
}

// EmissionRows converts readings for the emissions export. Timestamps are
// written in RFC 3339 as received.
func EmissionRows(readings []types.Reading) []Row {
	rows := make([]Row, len(readings))
	for i, r := range readings {
		rows[i] = readingRow(r, r.Timestamp.Format(time.RFC3339Nano))
	}
	return rows
}

// DepartmentRows converts readings for the department table export, with
// timestamps rendered in loc using layout.
func DepartmentRows(readings []types.Reading, loc *time.Location, layout string) []Row {
	if loc == nil {
		loc = time.Local
	}
	if layout == "" {
		layout = time.DateTime
	}
	rows := make([]Row, len(readings))
	for i, r := range readings {
		rows[i] = readingRow(r, r.Timestamp.In(loc).Format(layout))
	}
	return rows
}

// OffsetRows converts ledger entries for the offsets export.
func OffsetRows(offsets []types.Offset) []Row {
	rows := make([]Row, len(offsets))
	for i, o := range offsets {
		rows[i] = Row{
			"timestamp":   o.Timestamp,
			"description": o.Description,
			"amount":      o.Amount,
		}
	}
	return rows
}

func readingRow(r types.Reading, timestamp string) Row {
	row := Row{
		"timestamp":  timestamp,
		"department": r.Department,
		"current":    r.Current,
		"voltage":    r.Voltage,
		"power":      r.Power,
		"energy":     r.Energy,
		"co2":        r.CO2Emissions,
	}
	if r.Scope != nil {
		row["scope"] = r.Scope.String()
	}
	return row
}
