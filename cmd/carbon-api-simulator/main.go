package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	defaultInterval = 5 * time.Second
	defaultWindow   = 50
)

var departments = []string{"Operations", "Logistics", "Manufacturing", "IT", "Facilities"}

type reading struct {
	Timestamp    time.Time `json:"timestamp"`
	Department   string    `json:"department"`
	Scope        string    `json:"scope"`
	Current      float64   `json:"current"`
	Voltage      float64   `json:"voltage"`
	Power        float64   `json:"power"`
	Energy       float64   `json:"energy"`
	CO2Emissions float64   `json:"co2_emissions"`
	GasPPM       float64   `json:"gas_ppm"`
}

type offset struct {
	ID          string    `json:"_id"`
	Description string    `json:"description"`
	Amount      float64   `json:"amount"`
	CreatedAt   time.Time `json:"createdAt"`
}

type hotspot struct {
	ID       string  `json:"_id"`
	TotalCO2 float64 `json:"totalCO2"`
}

// simulator produces a drifting stream of plausible sensor readings and
// serves them the way the emissions API does.
type simulator struct {
	mu       sync.RWMutex
	rng      *rand.Rand
	window   int
	readings []reading
	offsets  []offset
	base     float64
	now      func() time.Time
}

func newSimulator(seed int64, window int, now func() time.Time) *simulator {
	return &simulator{
		rng:    rand.New(rand.NewSource(seed)),
		window: window,
		base:   5,
		now:    now,
	}
}

// step appends one synthetic reading. Roughly one in twenty readings is a
// CO2 spike and one in forty a gas excursion, so the dashboard warnings fire.
func (s *simulator) step() reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.base = math.Max(0.5, s.base+s.rng.NormFloat64()*0.2)
	co2 := s.base + s.rng.Float64()
	if s.rng.Intn(20) == 0 {
		co2 *= 1.5
	}
	gas := 400 + s.rng.Float64()*300
	if s.rng.Intn(40) == 0 {
		gas = 1100 + s.rng.Float64()*400
	}

	voltage := 228 + s.rng.Float64()*4
	current := 5 + s.rng.Float64()*10
	r := reading{
		Timestamp:    s.now().UTC(),
		Department:   departments[s.rng.Intn(len(departments))],
		Scope:        strconv.Itoa(1 + s.rng.Intn(3)),
		Current:      round3(current),
		Voltage:      round3(voltage),
		Power:        round3(current * voltage),
		Energy:       round3(current * voltage / 1000 / 60),
		CO2Emissions: round3(co2),
		GasPPM:       math.Round(gas),
	}

	s.readings = append(s.readings, r)
	if len(s.readings) > s.window {
		s.readings = s.readings[len(s.readings)-s.window:]
	}
	return r
}

func (s *simulator) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step()
		}
	}
}

func (s *simulator) snapshot() []reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]reading{}, s.readings...)
}

func (s *simulator) hotspots() []hotspot {
	byDept := make(map[string][]float64)
	for _, r := range s.snapshot() {
		byDept[r.Department] = append(byDept[r.Department], r.CO2Emissions)
	}
	out := make([]hotspot, 0, len(byDept))
	for dept, values := range byDept {
		out = append(out, hotspot{ID: dept, TotalCO2: round3(floats.Sum(values))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalCO2 > out[j].TotalCO2 })
	return out
}

// predict extrapolates a least-squares line through the window.
func (s *simulator) predict(minutesAhead int) float64 {
	rs := s.snapshot()
	if len(rs) == 0 {
		return 0
	}
	if len(rs) == 1 {
		return rs[0].CO2Emissions
	}
	xs := make([]float64, len(rs))
	ys := make([]float64, len(rs))
	origin := rs[0].Timestamp
	for i, r := range rs {
		xs[i] = r.Timestamp.Sub(origin).Minutes()
		ys[i] = r.CO2Emissions
	}
	if floats.Max(xs) == 0 {
		return round3(stat.Mean(ys, nil))
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	at := xs[len(xs)-1] + float64(minutesAhead)
	return round3(math.Max(0, intercept+slope*at))
}

func (s *simulator) router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/emissions/recent", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.snapshot())
	}).Methods(http.MethodGet)

	api.HandleFunc("/emissions/hotspots", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.hotspots())
	}).Methods(http.MethodGet)

	api.HandleFunc("/emissions/predict", func(w http.ResponseWriter, req *http.Request) {
		minutes, err := strconv.Atoi(req.URL.Query().Get("minutesAhead"))
		if err != nil || minutes < 1 {
			http.Error(w, "minutesAhead must be a positive integer", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]float64{"prediction": s.predict(minutes)})
	}).Methods(http.MethodGet)

	api.HandleFunc("/offsets", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		writeJSON(w, http.StatusOK, append([]offset{}, s.offsets...))
	}).Methods(http.MethodGet)

	api.HandleFunc("/offsets", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Description string  `json:"description"`
			Amount      float64 `json:"amount"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || strings.TrimSpace(body.Description) == "" || body.Amount <= 0 {
			http.Error(w, "description and a positive amount are required", http.StatusBadRequest)
			return
		}
		o := offset{ID: uuid.NewString(), Description: body.Description, Amount: body.Amount, CreatedAt: s.now().UTC()}
		s.mu.Lock()
		s.offsets = append(s.offsets, o)
		s.mu.Unlock()
		writeJSON(w, http.StatusCreated, o)
	}).Methods(http.MethodPost)

	api.HandleFunc("/reports/summary", func(w http.ResponseWriter, _ *http.Request) {
		rs := s.snapshot()
		if len(rs) == 0 {
			writeJSON(w, http.StatusOK, nil)
			return
		}
		var co2, energy float64
		for _, r := range rs {
			co2 += r.CO2Emissions
			energy += r.Energy
		}
		s.mu.RLock()
		var offsetTotal float64
		for _, o := range s.offsets {
			offsetTotal += o.Amount
		}
		s.mu.RUnlock()
		writeJSON(w, http.StatusOK, map[string]float64{
			"totalCO2":    round3(co2),
			"totalEnergy": round3(energy),
			"progress":    math.Min(100, math.Round(offsetTotal/co2*1000)/10),
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/ai/strategies", func(w http.ResponseWriter, req *http.Request) {
		topN, err := strconv.Atoi(req.URL.Query().Get("topN"))
		if err != nil || topN < 1 {
			topN = 5
		}
		hs := s.hotspots()
		if len(hs) > topN {
			hs = hs[:topN]
		}
		strategies := make([]map[string]any, 0, len(hs))
		for _, h := range hs {
			strategies = append(strategies, map[string]any{
				"department": h.ID,
				"totalCO2":   h.TotalCO2,
				"suggestion": fmt.Sprintf("Shift %s loads to off-peak hours and audit idle equipment", h.ID),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"hours":      req.URL.Query().Get("hours"),
			"strategies": strategies,
		})
	}).Methods(http.MethodGet)

	api.HandleFunc("/reports/generate", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="emissions-report.pdf"`)
		fmt.Fprintf(w, "%%PDF-1.4\n%% simulated report for %s\n%%%%EOF\n", req.URL.RawQuery)
	}).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func main() {
	var (
		listen   = flag.String("listen", "127.0.0.1:4000", "Address to serve the simulated emissions API on")
		interval = flag.Duration("interval", defaultInterval, "Interval between generated readings")
		window   = flag.Int("window", defaultWindow, "Number of recent readings to keep")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "Random seed")
		debug    = flag.Bool("debug", false, "Turn on debugging output")
	)
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger := log.GetSugaredLogger().With("component", "carbon-api-simulator")

	sim := newSimulator(*seed, *window, time.Now)
	for i := 0; i < *window/2; i++ {
		sim.step()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	go sim.run(ctx, *interval)

	server := &http.Server{Addr: *listen, Handler: sim.router(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	logger.Infof("serving simulated emissions API on http://%s/api", *listen)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}
