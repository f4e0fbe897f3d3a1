package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reading is one telemetry sample as delivered by the upstream emissions API.
// Numeric fields are pointers because the API omits metrics a sensor did not
// report; use Value to read them as zero-defaulted numbers.
type Reading struct {
	Timestamp    time.Time `json:"timestamp"`
	Department   string    `json:"department,omitempty"`
	Scope        *Scope    `json:"scope,omitempty"`
	Current      *float64  `json:"current,omitempty"`
	Voltage      *float64  `json:"voltage,omitempty"`
	Power        *float64  `json:"power,omitempty"`
	Energy       *float64  `json:"energy,omitempty"`
	CO2Emissions *float64  `json:"co2_emissions,omitempty"`
	GasPPM       *float64  `json:"gas_ppm,omitempty"`
}

// ErrMissingTimestamp is returned when a reading arrives without a usable timestamp.
var ErrMissingTimestamp = errors.New("reading has no timestamp")

// UnmarshalJSON rejects readings whose timestamp is absent or unparseable.
func (r *Reading) UnmarshalJSON(data []byte) error {
	type alias Reading
	var raw struct {
		alias
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}

	*r = Reading(raw.alias)
	r.Timestamp = ts
	return nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, ErrMissingTimestamp
	}

	// Some producers send epoch milliseconds instead of ISO strings.
	if raw[0] != '"' {
		ms, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid reading timestamp %s: %w", raw, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingTimestamp
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid reading timestamp %q: %w", s, err)
	}
	return ts, nil
}

// Value returns the metric behind p, or zero when the metric is absent.
func Value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Float returns a pointer to v. Handy for building readings in code.
func Float(v float64) *float64 {
	return &v
}

// Scope is the greenhouse-gas accounting scope of a reading (1, 2 or 3).
type Scope int

const (
	Scope1 Scope = 1
	Scope2 Scope = 2
	Scope3 Scope = 3
)

// ParseScope parses the canonical string form of a scope.
func ParseScope(s string) (Scope, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid scope %q", s)
	}
	sc := Scope(n)
	if !sc.Valid() {
		return 0, fmt.Errorf("invalid scope %q: must be 1, 2 or 3", s)
	}
	return sc, nil
}

// Valid reports whether s is one of the three accounting scopes.
func (s Scope) Valid() bool {
	return s >= Scope1 && s <= Scope3
}

func (s Scope) String() string {
	return strconv.Itoa(int(s))
}

// UnmarshalJSON accepts the scope as either a number or a numeric string.
func (s *Scope) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		sc, err := ParseScope(str)
		if err != nil {
			return err
		}
		*s = sc
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid scope %s", data)
	}
	sc := Scope(n)
	if !sc.Valid() {
		return fmt.Errorf("invalid scope %d: must be 1, 2 or 3", n)
	}
	*s = sc
	return nil
}

// Totals is the rollup of a reading set.
type Totals struct {
	TotalCO2     float64 `json:"totalCO2"`
	TotalEnergy  float64 `json:"totalEnergy"`
	TotalCurrent float64 `json:"totalCurrent"`
	TotalPower   float64 `json:"totalPower"`
	TotalGasPPM  float64 `json:"totalGasPPM"`
}

// ReportSummary is the upstream's authoritative rollup. Any field may be missing.
type ReportSummary struct {
	TotalCO2    *float64 `json:"totalCO2,omitempty"`
	TotalEnergy *float64 `json:"totalEnergy,omitempty"`
	Progress    *float64 `json:"progress,omitempty"`
}

// KPIs are the headline numbers shown on the dashboard cards.
type KPIs struct {
	TotalCO2        float64 `json:"totalCO2"`
	TotalEnergy     float64 `json:"totalEnergy"`
	OffsetTotal     float64 `json:"offsetTotal"`
	NetZeroProgress float64 `json:"netZeroProgress"`
	FromSummary     bool    `json:"fromSummary"`
}

// Hotspot is one entry of the upstream department ranking.
type Hotspot struct {
	Department string  `json:"department"`
	TotalCO2   float64 `json:"totalCO2"`
}

// UnmarshalJSON falls back to the aggregation key "_id" when the upstream
// did not project the department name.
func (h *Hotspot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Department *string  `json:"department"`
		ID         *string  `json:"_id"`
		TotalCO2   *float64 `json:"totalCO2"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.Department != nil:
		h.Department = *raw.Department
	case raw.ID != nil:
		h.Department = *raw.ID
	default:
		h.Department = ""
	}
	h.TotalCO2 = Value(raw.TotalCO2)
	return nil
}

// RankedHotspot is a hotspot with its share of the largest department total.
type RankedHotspot struct {
	Department string  `json:"department"`
	TotalCO2   float64 `json:"totalCO2"`
	Percent    int     `json:"percent"`
}

// ForecastPoint is a single predicted CO2 value.
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Predicted float64   `json:"predicted"`
}
