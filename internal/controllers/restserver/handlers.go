package restserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/csvexport"
	"github.com/carbonwatch/carbonwatch/internal/emissions"
	"github.com/carbonwatch/carbonwatch/internal/poller"
	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
	"github.com/carbonwatch/carbonwatch/internal/upstream"
	"github.com/carbonwatch/carbonwatch/pkg/responseformat"
	"go.uber.org/zap"
)

// Query defaults and limits for the prediction and strategy endpoints.
const (
	DefaultMinutesAhead = 60
	DefaultHours        = 6
	DefaultTopN         = 5

	maxMinutesAhead = 7 * 24 * 60
	maxHours        = 24 * 30
	maxTopN         = 50

	maxBodyBytes = 1 << 16
)

// Error messages scoped to the endpoint that failed.
const (
	msgForecastFailed   = "failed to load forecast"
	msgPredictFailed    = "failed to load prediction"
	msgStrategiesFailed = "failed to load AI strategies"
	msgOffsetFailed     = "failed to record offset"
)

type settings struct {
	location     *time.Location
	timeFormat   string
	deptFormat   string
	defaultMatch types.DepartmentMatch
}

// Handlers contains all HTTP handlers for the REST server
type Handlers struct {
	deps      Deps
	settings  settings
	formatter *responseformat.Formatter
	logger    *zap.SugaredLogger
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps, s settings, logger *zap.SugaredLogger) *Handlers {
	if s.location == nil {
		s.location = time.Local
	}
	if !s.defaultMatch.Valid() {
		s.defaultMatch = types.MatchExact
	}
	return &Handlers{
		deps:      deps,
		settings:  s,
		formatter: responseformat.NewFormatter(),
		logger:    logger,
	}
}

type readingsResponse struct {
	Readings []types.Reading `json:"readings"`
	Count    int             `json:"count"`
}

type totalsResponse struct {
	Totals types.Totals `json:"totals"`
	KPIs   types.KPIs   `json:"kpis"`
}

type seriesResponse struct {
	Series        types.ChartSeries `json:"series"`
	ForecastError string            `json:"forecastError,omitempty"`
}

type hotspotsResponse struct {
	Hotspots []types.RankedHotspot `json:"hotspots"`
}

type departmentsResponse struct {
	Departments []string `json:"departments"`
}

type offsetsResponse struct {
	Offsets []types.Offset `json:"offsets"`
	Total   float64        `json:"total"`
}

type liveResponse struct {
	State string `json:"state"`
	Live  bool   `json:"live"`
}

type refreshResponse struct {
	Seq       uint64    `json:"seq"`
	UpdatedAt time.Time `json:"updatedAt"`
	Readings  int       `json:"readings"`
	LastError string    `json:"lastError,omitempty"`
	Status    string    `json:"status"`
}

type dashboardResponse struct {
	Seq           uint64                `json:"seq"`
	UpdatedAt     time.Time             `json:"updatedAt"`
	State         string                `json:"state"`
	LastError     string                `json:"lastError,omitempty"`
	Readings      []types.Reading       `json:"readings"`
	Totals        types.Totals          `json:"totals"`
	KPIs          types.KPIs            `json:"kpis"`
	Series        types.ChartSeries     `json:"series"`
	ForecastError string                `json:"forecastError,omitempty"`
	Warning       types.Warning         `json:"warning"`
	Hotspots      []types.RankedHotspot `json:"hotspots"`
	Departments   []string              `json:"departments"`
	Offsets       []types.Offset        `json:"offsets"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	State     string    `json:"state"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type seriesQuery struct {
	ForecastMinutes int `schema:"forecastMinutes"`
}

type predictQuery struct {
	MinutesAhead *int `schema:"minutesAhead"`
}

type strategiesQuery struct {
	Hours *int `schema:"hours"`
	TopN  *int `schema:"topN"`
}

type offsetRequest struct {
	Description string   `json:"description"`
	Amount      *float64 `json:"amount"`
}

type liveRequest struct {
	Live *bool `json:"live"`
}

// GetReadings returns the filtered reading window.
func (h *Handlers) GetReadings(w http.ResponseWriter, req *http.Request) {
	_, readings, ok := h.filtered(w, req, h.settings.defaultMatch)
	if !ok {
		return
	}
	h.write(w, req, readingsResponse{Readings: readings, Count: len(readings)})
}

// GetTotals returns totals over the filtered window and the KPI cards.
func (h *Handlers) GetTotals(w http.ResponseWriter, req *http.Request) {
	snap, readings, ok := h.filtered(w, req, h.settings.defaultMatch)
	if !ok {
		return
	}
	totals := emissions.Aggregate(readings)
	h.write(w, req, totalsResponse{
		Totals: totals,
		KPIs:   emissions.BuildKPIs(totals, snap.Summary, emissions.SumOffsets(snap.Offsets)),
	})
}

// GetSeries returns the chart projection of the filtered window, optionally
// extended with a forecast.
func (h *Handlers) GetSeries(w http.ResponseWriter, req *http.Request) {
	_, readings, ok := h.filtered(w, req, h.settings.defaultMatch)
	if !ok {
		return
	}
	minutes, ok := h.forecastMinutes(w, req)
	if !ok {
		return
	}
	series, forecastErr := h.buildSeries(req.Context(), readings, minutes)
	h.write(w, req, seriesResponse{Series: series, ForecastError: forecastErr})
}

// GetWarning returns the live warning. It is computed from the unfiltered
// window and ignores filter parameters.
func (h *Handlers) GetWarning(w http.ResponseWriter, req *http.Request) {
	h.write(w, req, h.deps.Store.Warning())
}

// GetHotspots returns the upstream department ranking with relative shares.
func (h *Handlers) GetHotspots(w http.ResponseWriter, req *http.Request) {
	snap := h.deps.Store.Snapshot()
	h.write(w, req, hotspotsResponse{Hotspots: emissions.RankHotspots(snap.Hotspots)})
}

// GetDepartments lists department names for filter pickers.
func (h *Handlers) GetDepartments(w http.ResponseWriter, req *http.Request) {
	h.write(w, req, departmentsResponse{Departments: emissions.Departments(h.deps.Store.Readings())})
}

// GetDashboard returns everything the dashboard page renders in one payload.
func (h *Handlers) GetDashboard(w http.ResponseWriter, req *http.Request) {
	snap, readings, ok := h.filtered(w, req, h.settings.defaultMatch)
	if !ok {
		return
	}
	minutes, ok := h.forecastMinutes(w, req)
	if !ok {
		return
	}

	totals := emissions.Aggregate(readings)
	series, forecastErr := h.buildSeries(req.Context(), readings, minutes)

	h.write(w, req, dashboardResponse{
		Seq:           snap.Seq,
		UpdatedAt:     snap.UpdatedAt,
		State:         h.deps.Poller.State().String(),
		LastError:     snap.LastError,
		Readings:      readings,
		Totals:        totals,
		KPIs:          emissions.BuildKPIs(totals, snap.Summary, emissions.SumOffsets(snap.Offsets)),
		Series:        series,
		ForecastError: forecastErr,
		Warning:       snap.Warning,
		Hotspots:      emissions.RankHotspots(snap.Hotspots),
		Departments:   emissions.Departments(snap.Readings),
		Offsets:       snap.Offsets,
	})
}

// GetOffsets returns the offset ledger as of the last refresh.
func (h *Handlers) GetOffsets(w http.ResponseWriter, req *http.Request) {
	snap := h.deps.Store.Snapshot()
	h.write(w, req, offsetsResponse{Offsets: snap.Offsets, Total: emissions.SumOffsets(snap.Offsets)})
}

// PostOffset validates and records a new offset, then reloads the ledger.
func (h *Handlers) PostOffset(w http.ResponseWriter, req *http.Request) {
	var body offsetRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeError(w, req, http.StatusBadRequest, "invalid offset body")
		return
	}

	offset, err := emissions.ValidateOffset(body.Description, body.Amount)
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.deps.Upstream.AddOffset(req.Context(), offset)
	if err != nil {
		h.logger.Errorf("error recording offset: %v", err)
		h.writeError(w, req, http.StatusBadGateway, msgOffsetFailed)
		return
	}

	offsets, err := h.deps.Upstream.Offsets(req.Context())
	if err != nil {
		h.logger.Warnf("offset recorded but ledger reload failed: %v", err)
		offsets = append(h.deps.Store.Snapshot().Offsets, created)
	}
	h.deps.Store.ReplaceOffsets(offsets)

	if err := h.formatter.WriteStatus(w, req, http.StatusCreated, created, nil); err != nil {
		h.logger.Errorf("error writing response: %v", err)
	}
}

// GetPrediction proxies a single CO2 prediction.
func (h *Handlers) GetPrediction(w http.ResponseWriter, req *http.Request) {
	var q predictQuery
	if err := decodeQuery(&q, req.URL.Query()); err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	minutes, err := intParam("minutesAhead", q.MinutesAhead, DefaultMinutesAhead, maxMinutesAhead)
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}

	prediction, err := h.deps.Upstream.Predict(req.Context(), minutes)
	if err != nil {
		h.logger.Errorf("error fetching prediction: %v", err)
		h.writeError(w, req, http.StatusBadGateway, msgPredictFailed)
		return
	}
	h.write(w, req, prediction)
}

// GetStrategies passes the upstream reduction strategies through unchanged.
// Responses are cached per (hours, topN).
func (h *Handlers) GetStrategies(w http.ResponseWriter, req *http.Request) {
	var q strategiesQuery
	if err := decodeQuery(&q, req.URL.Query()); err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	hours, err := intParam("hours", q.Hours, DefaultHours, maxHours)
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}
	topN, err := intParam("topN", q.TopN, DefaultTopN, maxTopN)
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}

	key := fmt.Sprintf("ai:strategies:%d:%d", hours, topN)
	body, err := h.cached(req.Context(), key, func(ctx context.Context) ([]byte, error) {
		return h.deps.Upstream.AIStrategies(ctx, hours, topN)
	})
	if err != nil {
		h.logger.Errorf("error fetching AI strategies: %v", err)
		h.writeError(w, req, http.StatusBadGateway, msgStrategiesFailed)
		return
	}
	if err := h.formatter.WriteRawJSON(w, req, body); err != nil {
		h.logger.Errorf("error writing response: %v", err)
	}
}

// GetLive reports whether live polling is on.
func (h *Handlers) GetLive(w http.ResponseWriter, req *http.Request) {
	h.write(w, req, newLiveResponse(h.deps.Poller.State()))
}

// PostLive sets live polling from {"live": bool}. An empty body toggles it.
func (h *Handlers) PostLive(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, "unable to read body")
		return
	}

	var state poller.State
	if len(bytes.TrimSpace(raw)) == 0 {
		state, err = h.deps.Poller.Toggle()
	} else {
		var body liveRequest
		if jerr := json.Unmarshal(raw, &body); jerr != nil || body.Live == nil {
			h.writeError(w, req, http.StatusBadRequest, `body must be {"live": true|false} or empty`)
			return
		}
		state, err = h.deps.Poller.SetLive(*body.Live)
	}

	if errors.Is(err, poller.ErrStopped) {
		h.writeError(w, req, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.logger.Errorf("error changing live state: %v", err)
		h.writeError(w, req, http.StatusInternalServerError, "unable to change live state")
		return
	}
	h.write(w, req, newLiveResponse(state))
}

// PostRefresh runs a manual refresh and waits for it.
func (h *Handlers) PostRefresh(w http.ResponseWriter, req *http.Request) {
	err := h.deps.Poller.RefreshNow(req.Context())
	snap := h.deps.Store.Snapshot()
	resp := refreshResponse{
		Seq:       snap.Seq,
		UpdatedAt: snap.UpdatedAt,
		Readings:  len(snap.Readings),
		LastError: snap.LastError,
		Status:    "applied",
	}

	switch {
	case err == nil:
		h.write(w, req, resp)
	case errors.Is(err, poller.ErrStopped):
		h.writeError(w, req, http.StatusConflict, err.Error())
	case errors.Is(err, poller.ErrSuperseded):
		resp.Status = "superseded"
		if werr := h.formatter.WriteStatus(w, req, http.StatusAccepted, resp, nil); werr != nil {
			h.logger.Errorf("error writing response: %v", werr)
		}
	case req.Context().Err() != nil:
		// client went away
	default:
		h.writeError(w, req, http.StatusBadGateway, store.LoadFailedMessage)
	}
}

// ExportEmissions downloads the filtered window as CSV.
func (h *Handlers) ExportEmissions(w http.ResponseWriter, req *http.Request) {
	_, readings, ok := h.filtered(w, req, h.settings.defaultMatch)
	if !ok {
		return
	}
	h.writeCSV(w, "emissions.csv", csvexport.ToCSV(csvexport.EmissionRows(readings), csvexport.EmissionColumns))
}

// ExportDepartments downloads the department table. Department matching
// defaults to substring search here.
func (h *Handlers) ExportDepartments(w http.ResponseWriter, req *http.Request) {
	_, readings, ok := h.filtered(w, req, types.MatchSubstring)
	if !ok {
		return
	}
	rows := csvexport.DepartmentRows(readings, h.settings.location, h.settings.deptFormat)
	h.writeCSV(w, "departments.csv", csvexport.ToCSV(rows, csvexport.DepartmentColumns))
}

// ExportOffsets downloads the offset ledger.
func (h *Handlers) ExportOffsets(w http.ResponseWriter, req *http.Request) {
	offsets := h.deps.Store.Snapshot().Offsets
	h.writeCSV(w, "offsets.csv", csvexport.ToCSV(csvexport.OffsetRows(offsets), csvexport.OffsetColumns))
}

// GenerateReport redirects to the upstream PDF report for the current filter.
func (h *Handlers) GenerateReport(w http.ResponseWriter, req *http.Request) {
	c, err := parseFilter(req.URL.Query(), h.settings.location, h.settings.defaultMatch, h.deps.Now())
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return
	}

	p := upstream.ReportParams{Department: c.Department}
	if c.From != nil {
		p.From = c.From.Format(time.RFC3339)
	}
	if c.To != nil {
		p.To = c.To.Format(time.RFC3339)
	}
	if c.Scope != nil {
		p.Scope = c.Scope.String()
	}
	http.Redirect(w, req, h.deps.Upstream.ReportURL(p, h.deps.Now()), http.StatusFound)
}

// Health reports liveness plus the last refresh outcome.
func (h *Handlers) Health(w http.ResponseWriter, req *http.Request) {
	snap := h.deps.Store.Snapshot()
	status := "ok"
	if snap.LastError != "" {
		status = "degraded"
	}
	h.write(w, req, healthResponse{
		Status:    status,
		State:     h.deps.Poller.State().String(),
		LastError: snap.LastError,
		UpdatedAt: snap.UpdatedAt,
	})
}

// filtered applies the request's filter to the current window. It writes a
// 400 and returns false when the query is malformed.
func (h *Handlers) filtered(w http.ResponseWriter, req *http.Request, fallback types.DepartmentMatch) (store.Snapshot, []types.Reading, bool) {
	c, err := parseFilter(req.URL.Query(), h.settings.location, fallback, h.deps.Now())
	if err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return store.Snapshot{}, nil, false
	}
	snap := h.deps.Store.Snapshot()
	if c.Active() {
		// the upstream summary covers the whole window
		snap.Summary = nil
	}
	return snap, emissions.Filter(snap.Readings, c), true
}

func (h *Handlers) forecastMinutes(w http.ResponseWriter, req *http.Request) (int, bool) {
	var q seriesQuery
	if err := decodeQuery(&q, req.URL.Query()); err != nil {
		h.writeError(w, req, http.StatusBadRequest, err.Error())
		return 0, false
	}
	if q.ForecastMinutes < 0 || q.ForecastMinutes > maxMinutesAhead {
		h.writeError(w, req, http.StatusBadRequest, fmt.Sprintf("forecastMinutes must be between 0 and %d", maxMinutesAhead))
		return 0, false
	}
	return q.ForecastMinutes, true
}

// buildSeries builds the chart series. A failed forecast leaves the history
// intact and is reported through the returned message.
func (h *Handlers) buildSeries(ctx context.Context, readings []types.Reading, forecastMinutes int) (types.ChartSeries, string) {
	opts := emissions.SeriesOptions{
		Location:   h.settings.location,
		TimeFormat: h.settings.timeFormat,
		Thresholds: h.deps.Store.Thresholds(),
	}
	if forecastMinutes == 0 {
		return emissions.BuildSeries(readings, nil, opts), ""
	}

	prediction, err := h.deps.Upstream.Predict(ctx, forecastMinutes)
	if err != nil {
		h.logger.Warnf("error fetching forecast: %v", err)
		return emissions.BuildSeries(readings, nil, opts), msgForecastFailed
	}

	from := h.deps.Now()
	if len(readings) > 0 {
		from = readings[len(readings)-1].Timestamp
	}
	return emissions.BuildSeries(readings, prediction.ForecastPoints(from), opts), ""
}

// cached serves key from the response cache, filling it from fetch on a miss.
// Cache backend failures degrade to a direct fetch.
func (h *Handlers) cached(ctx context.Context, key string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if body, ok, err := h.deps.Cache.Get(ctx, key); err != nil {
		h.logger.Warnf("cache get %s: %v", key, err)
	} else if ok {
		return body, nil
	}

	body, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.deps.Cache.Set(ctx, key, body); err != nil {
		h.logger.Warnf("cache set %s: %v", key, err)
	}
	return body, nil
}

func intParam(name string, v *int, def, limit int) (int, error) {
	if v == nil {
		return def, nil
	}
	if *v < 1 || *v > limit {
		return 0, fmt.Errorf("%w: %s must be between 1 and %d", errBadQuery, name, limit)
	}
	return *v, nil
}

func newLiveResponse(s poller.State) liveResponse {
	return liveResponse{State: s.String(), Live: s == poller.Polling}
}

func (h *Handlers) write(w http.ResponseWriter, req *http.Request, data any) {
	if err := h.formatter.WriteResponse(w, req, data, nil); err != nil {
		h.logger.Errorf("error writing response: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, req *http.Request, status int, message string) {
	if err := h.formatter.WriteError(w, req, status, message, requestID(req)); err != nil {
		h.logger.Errorf("error writing error response: %v", err)
	}
}

func (h *Handlers) writeCSV(w http.ResponseWriter, filename, body string) {
	if err := h.formatter.WriteCSV(w, filename, body); err != nil {
		h.logger.Errorf("error writing %s: %v", filename, err)
	}
}
