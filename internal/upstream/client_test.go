package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/types"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL+"/api", time.Second, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"ftp://example.com", "://nope"} {
		if _, err := NewClient(base, 0, nil); err == nil {
			t.Errorf("expected error for %q", base)
		}
	}
	c, err := NewClient("", 0, nil)
	if err != nil || c.BaseURL() != DefaultBaseURL {
		t.Errorf("default base URL not applied: %v %v", c, err)
	}
}

func TestRecentReadings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/emissions/recent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`[
			{"timestamp":"2025-03-01T12:00:00Z","department":"Assembly","scope":2,"co2_emissions":1.5,"gas_ppm":400},
			{"timestamp":"2025-03-01T12:00:05Z","scope":"3","current":4}
		]`))
	})

	readings, err := c.RecentReadings(context.Background())
	if err != nil {
		t.Fatalf("RecentReadings: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("got %d readings", len(readings))
	}
	if *readings[0].Scope != types.Scope2 || *readings[1].Scope != types.Scope3 {
		t.Error("scope should decode from numbers and strings")
	}
	if *readings[0].CO2Emissions != 1.5 || readings[1].CO2Emissions != nil {
		t.Error("co2 decoded incorrectly")
	}
}

func TestRecentReadingsRejectsMissingTimestamp(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"department":"Assembly"}]`))
	})
	_, err := c.RecentReadings(context.Background())
	if !errors.Is(err, types.ErrMissingTimestamp) {
		t.Errorf("err = %v, want ErrMissingTimestamp", err)
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.Hotspots(context.Background())
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError || se.Endpoint != "/emissions/hotspots" || se.Body != "boom" {
		t.Errorf("unexpected status error: %+v", se)
	}
}

func TestHotspotsFallBackToID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"_id":"Paint Shop","totalCO2":12},{"department":"Office","totalCO2":3}]`))
	})
	hotspots, err := c.Hotspots(context.Background())
	if err != nil {
		t.Fatalf("Hotspots: %v", err)
	}
	if hotspots[0].Department != "Paint Shop" || hotspots[1].Department != "Office" {
		t.Errorf("hotspots = %+v", hotspots)
	}
}

func TestOffsets(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"_id":"a1","description":"Trees","amount":5,"createdAt":"2025-01-01T00:00:00Z"}]`))
		case http.MethodPost:
			var body types.NewOffset
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode: %v", err)
			}
			if r.Header.Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", r.Header.Get("Content-Type"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"_id":         "b2",
				"description": body.Description,
				"amount":      body.Amount,
				"timestamp":   "2025-01-02T00:00:00Z",
			})
		}
	})

	offsets, err := c.Offsets(context.Background())
	if err != nil {
		t.Fatalf("Offsets: %v", err)
	}
	if offsets[0].ID != "a1" || offsets[0].Timestamp.IsZero() || *offsets[0].Amount != 5 {
		t.Errorf("offset = %+v", offsets[0])
	}

	created, err := c.AddOffset(context.Background(), types.NewOffset{Description: "Solar", Amount: 2.5})
	if err != nil {
		t.Fatalf("AddOffset: %v", err)
	}
	if created.ID != "b2" || created.Description != "Solar" || *created.Amount != 2.5 {
		t.Errorf("created = %+v", created)
	}
}

func TestReportSummaryNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`null`))
	})
	summary, err := c.ReportSummary(context.Background())
	if err != nil || summary != nil {
		t.Errorf("summary = %v, err = %v", summary, err)
	}
}

func TestPredict(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		value  *float64
		points int
	}{
		{"single value", `{"prediction": 1.234}`, types.Float(1.234), 0},
		{"series", `[{"timestamp":"2025-03-01T12:00:00Z","predicted":1},{"timestamp":"2025-03-01T12:01:00Z","predicted":2}]`, nil, 2},
		{"null", `null`, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("minutesAhead") != "30" {
					t.Errorf("minutesAhead = %q", r.URL.Query().Get("minutesAhead"))
				}
				w.Write([]byte(tt.body))
			})

			p, err := c.Predict(context.Background(), 30)
			if err != nil {
				t.Fatalf("Predict: %v", err)
			}
			if (p.Value == nil) != (tt.value == nil) || (p.Value != nil && *p.Value != *tt.value) {
				t.Errorf("value = %v, want %v", p.Value, tt.value)
			}
			if len(p.Points) != tt.points {
				t.Errorf("points = %d, want %d", len(p.Points), tt.points)
			}
			if p.MinutesAhead != 30 {
				t.Errorf("minutesAhead = %d", p.MinutesAhead)
			}
		})
	}
}

func TestPredictRejectsUnknownShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"soon"`))
	})
	if _, err := c.Predict(context.Background(), 5); err == nil {
		t.Error("expected decode error")
	}
}

func TestForecastPoints(t *testing.T) {
	from := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	single := Prediction{MinutesAhead: 15, Value: types.Float(3)}
	points := single.ForecastPoints(from)
	if len(points) != 1 || !points[0].Timestamp.Equal(from.Add(15*time.Minute)) || points[0].Predicted != 3 {
		t.Errorf("points = %+v", points)
	}

	if got := (Prediction{}).ForecastPoints(from); got != nil {
		t.Errorf("empty prediction should have no points, got %+v", got)
	}
}

func TestAIStrategiesPassThrough(t *testing.T) {
	payload := `{"global_recommendations":[{"title":"Idle shutdown"}],"strategies_by_department":[]}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("hours") != "6" || q.Get("topN") != "5" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte(payload))
	})

	raw, err := c.AIStrategies(context.Background(), 6, 5)
	if err != nil {
		t.Fatalf("AIStrategies: %v", err)
	}
	if string(raw) != payload {
		t.Errorf("payload altered: %s", raw)
	}
}

func TestReportURL(t *testing.T) {
	c, _ := NewClient("http://example.com/api/", 0, nil)
	now := time.UnixMilli(1700000000000)

	got := c.ReportURL(ReportParams{Department: "Paint Shop", Scope: "2"}, now)
	if !strings.HasPrefix(got, "http://example.com/api/reports/generate?") {
		t.Errorf("url = %s", got)
	}
	for _, want := range []string{"department=Paint+Shop", "scope=2", "t=1700000000000"} {
		if !strings.Contains(got, want) {
			t.Errorf("url %s lacks %s", got, want)
		}
	}
	if strings.Contains(got, "from=") {
		t.Error("empty parameters must be omitted")
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveUpstream(endpoint string, status int, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, endpoint)
}

func TestObserver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c, _ := NewClient(srv.URL, time.Second, nil, WithObserver(obs))
	c.Offsets(context.Background())

	if len(obs.calls) != 1 || obs.calls[0] != "/offsets" {
		t.Errorf("calls = %v", obs.calls)
	}
}

func TestContextCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.RecentReadings(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
