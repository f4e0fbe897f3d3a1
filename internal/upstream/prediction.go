package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

// Prediction is a CO2 forecast. The remote API answers either with a single
// value or with a series of timestamped points; exactly one of Value and
// Points is set.
type Prediction struct {
	MinutesAhead int                   `json:"minutesAhead"`
	Value        *float64              `json:"prediction,omitempty"`
	Points       []types.ForecastPoint `json:"points,omitempty"`
}

// ForecastPoints returns the prediction as chart points. A single value is
// placed MinutesAhead after from.
func (p Prediction) ForecastPoints(from time.Time) []types.ForecastPoint {
	if len(p.Points) > 0 {
		return append([]types.ForecastPoint{}, p.Points...)
	}
	if p.Value == nil {
		return nil
	}
	return []types.ForecastPoint{{
		Timestamp: from.Add(time.Duration(p.MinutesAhead) * time.Minute),
		Predicted: *p.Value,
	}}
}

func decodePrediction(raw json.RawMessage) (Prediction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Prediction{}, nil
	}

	switch raw[0] {
	case '[':
		var points []types.ForecastPoint
		if err := json.Unmarshal(raw, &points); err != nil {
			return Prediction{}, err
		}
		return Prediction{Points: points}, nil
	case '{':
		var single struct {
			Prediction *float64 `json:"prediction"`
		}
		if err := json.Unmarshal(raw, &single); err != nil {
			return Prediction{}, err
		}
		return Prediction{Value: single.Prediction}, nil
	default:
		return Prediction{}, errors.New("unexpected JSON shape")
	}
}
