package types

import (
	"encoding/json"
	"time"
)

// Offset is one recorded carbon-offset action from the upstream ledger.
type Offset struct {
	ID          string    `json:"id,omitempty"`
	Description string    `json:"description"`
	Amount      *float64  `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// UnmarshalJSON accepts both "id" and the document-store style "_id".
func (o *Offset) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string     `json:"id"`
		MongoID     string     `json:"_id"`
		Description string     `json:"description"`
		Amount      *float64   `json:"amount"`
		Timestamp   *time.Time `json:"timestamp"`
		CreatedAt   *time.Time `json:"createdAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.ID = raw.ID
	if o.ID == "" {
		o.ID = raw.MongoID
	}
	o.Description = raw.Description
	o.Amount = raw.Amount
	switch {
	case raw.Timestamp != nil:
		o.Timestamp = *raw.Timestamp
	case raw.CreatedAt != nil:
		o.Timestamp = *raw.CreatedAt
	default:
		o.Timestamp = time.Time{}
	}
	return nil
}

// NewOffset is the body sent to the ledger when recording an offset.
type NewOffset struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
}

// DepartmentMatch selects how FilterCriteria.Department is compared.
type DepartmentMatch string

const (
	// MatchExact compares department names with case-sensitive equality.
	MatchExact DepartmentMatch = "exact"
	// MatchSubstring does a case-insensitive substring search.
	MatchSubstring DepartmentMatch = "substring"
)

// Valid reports whether m names a known match mode.
func (m DepartmentMatch) Valid() bool {
	return m == MatchExact || m == MatchSubstring
}

// FilterCriteria narrows a reading set. Zero values mean "no constraint".
type FilterCriteria struct {
	From            *time.Time
	To              *time.Time
	Department      string
	Scope           *Scope
	DepartmentMatch DepartmentMatch
}

// Active reports whether any constraint is set. The match mode alone does
// not narrow anything.
func (c FilterCriteria) Active() bool {
	return c.From != nil || c.To != nil || c.Department != "" || c.Scope != nil
}

// WarningKind identifies which rule raised a warning.
type WarningKind string

const (
	WarningNone                 WarningKind = "none"
	WarningGasThresholdExceeded WarningKind = "gas_threshold_exceeded"
	WarningCO2SpikeDetected     WarningKind = "co2_spike_detected"
)

// Warning is the single live warning derived from the newest readings.
type Warning struct {
	Active  bool        `json:"active"`
	Message string      `json:"message,omitempty"`
	Kind    WarningKind `json:"kind"`
}

// NoWarning is the inactive warning.
var NoWarning = Warning{Active: false, Kind: WarningNone}

// Thresholds configures both the live warning and the chart point colouring.
type Thresholds struct {
	GasPPM          float64 `json:"gasThreshold"`
	CO2SpikePercent float64 `json:"co2SpikePercent"`
}

// Default thresholds used when the configuration leaves them unset.
const (
	DefaultGasThreshold    = 1000.0
	DefaultCO2SpikePercent = 20.0
)

// DefaultThresholds returns the stock gas and spike thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{GasPPM: DefaultGasThreshold, CO2SpikePercent: DefaultCO2SpikePercent}
}

// PointClass is the colour class of a single CO2 chart point.
type PointClass string

const (
	PointNormal   PointClass = "normal"
	PointHighGas  PointClass = "high_gas"
	PointSpike    PointClass = "spike"
	PointForecast PointClass = "forecast"
)

// ChartSeries is a chart-ready projection of a reading set. All slices are
// aligned on the label axis.
type ChartSeries struct {
	Labels        []string     `json:"labels"`
	Timestamps    []time.Time  `json:"timestamps"`
	CO2           []*float64   `json:"co2"`
	Current       []*float64   `json:"current"`
	Forecast      []*float64   `json:"forecast,omitempty"`
	PointClasses  []PointClass `json:"pointClasses"`
	ForecastStart int          `json:"forecastStart"`
}
