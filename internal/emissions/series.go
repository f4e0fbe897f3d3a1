package emissions

import (
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

// DefaultTimeFormat mirrors a browser's toLocaleTimeString output.
const DefaultTimeFormat = "15:04:05"

// SeriesOptions controls label rendering and point classification.
type SeriesOptions struct {
	Location   *time.Location
	TimeFormat string
	Thresholds types.Thresholds
}

func (o SeriesOptions) label(t time.Time) string {
	loc := o.Location
	if loc == nil {
		loc = time.Local
	}
	format := o.TimeFormat
	if format == "" {
		format = DefaultTimeFormat
	}
	return t.In(loc).Format(format)
}

// BuildSeries projects readings onto a shared label axis with parallel CO2 and
// current sequences. A non-empty forecast is appended after the history as a
// separate, aligned Forecast sequence that starts at the last historical point
// so the rendered line is continuous.
func BuildSeries(readings []types.Reading, forecast []types.ForecastPoint, opts SeriesOptions) types.ChartSeries {
	n := len(readings) + len(forecast)
	s := types.ChartSeries{
		Labels:        make([]string, 0, n),
		Timestamps:    make([]time.Time, 0, n),
		CO2:           make([]*float64, 0, n),
		Current:       make([]*float64, 0, n),
		PointClasses:  make([]types.PointClass, 0, n),
		ForecastStart: -1,
	}

	for _, r := range readings {
		s.Labels = append(s.Labels, opts.label(r.Timestamp))
		s.Timestamps = append(s.Timestamps, r.Timestamp)
		s.CO2 = append(s.CO2, r.CO2Emissions)
		s.Current = append(s.Current, r.Current)
	}
	s.PointClasses = append(s.PointClasses, ClassifyPoints(readings, opts.Thresholds)...)

	if len(forecast) == 0 {
		return s
	}

	s.ForecastStart = len(readings)
	s.Forecast = make([]*float64, len(readings), n)
	if len(readings) > 0 {
		s.Forecast[len(readings)-1] = readings[len(readings)-1].CO2Emissions
	}

	for _, p := range forecast {
		v := p.Predicted
		s.Labels = append(s.Labels, opts.label(p.Timestamp))
		s.Timestamps = append(s.Timestamps, p.Timestamp)
		s.CO2 = append(s.CO2, nil)
		s.Current = append(s.Current, nil)
		s.Forecast = append(s.Forecast, &v)
		s.PointClasses = append(s.PointClasses, types.PointForecast)
	}

	return s
}

// ClassifyPoints colours every CO2 point independently: high_gas when the
// point's own gas level exceeds the threshold, spike when its CO2 rose more
// than the spike percentage over the previous point, normal otherwise.
//
// This is a whole-history annotation for charts and is deliberately separate
// from Detect, which only looks at the newest pair.
func ClassifyPoints(readings []types.Reading, th types.Thresholds) []types.PointClass {
	classes := make([]types.PointClass, len(readings))
	for i, r := range readings {
		switch {
		case r.GasPPM != nil && *r.GasPPM > th.GasPPM:
			classes[i] = types.PointHighGas
		case i > 0 && isSpike(readings[i-1].CO2Emissions, r.CO2Emissions, th.CO2SpikePercent):
			classes[i] = types.PointSpike
		default:
			classes[i] = types.PointNormal
		}
	}
	return classes
}

func isSpike(prev, cur *float64, limit float64) bool {
	pct, ok := spikePercent(prev, cur)
	return ok && pct > limit
}
