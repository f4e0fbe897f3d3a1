package restserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/cache"
	"github.com/carbonwatch/carbonwatch/internal/log"
	"github.com/carbonwatch/carbonwatch/internal/metrics"
	"github.com/carbonwatch/carbonwatch/internal/poller"
	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
	"github.com/carbonwatch/carbonwatch/internal/upstream"
	"github.com/carbonwatch/carbonwatch/pkg/config"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// RequestIDHeader carries the per-request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// Upstream is the subset of the remote API the HTTP layer calls directly.
type Upstream interface {
	Offsets(ctx context.Context) ([]types.Offset, error)
	AddOffset(ctx context.Context, o types.NewOffset) (types.Offset, error)
	Predict(ctx context.Context, minutesAhead int) (upstream.Prediction, error)
	AIStrategies(ctx context.Context, hours, topN int) (json.RawMessage, error)
	ReportURL(p upstream.ReportParams, now time.Time) string
}

// Poller is the refresh loop control surface.
type Poller interface {
	State() poller.State
	Toggle() (poller.State, error)
	SetLive(live bool) (poller.State, error)
	RefreshNow(ctx context.Context) error
}

// Deps are the collaborators the REST server serves from.
type Deps struct {
	Store    *store.Store
	Upstream Upstream
	Poller   Poller
	Cache    cache.Store
	Metrics  *metrics.Metrics
	// Websocket is mounted at /ws when set.
	Websocket http.Handler
	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller represents the REST server controller
type Controller struct {
	ctx      context.Context
	wg       *sync.WaitGroup
	cfg      config.ServerData
	Server   http.Server
	logger   *zap.SugaredLogger
	handlers *Handlers
}

// NewController creates a new REST server controller
func NewController(ctx context.Context, wg *sync.WaitGroup, cfg *config.ConfigData, deps Deps, logger *zap.SugaredLogger) (*Controller, error) {
	if deps.Store == nil || deps.Upstream == nil || deps.Poller == nil {
		return nil, errors.New("REST server requires a store, an upstream client and a poller")
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory(cfg.Cache.TTL, nil)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("error resolving display timezone: %w", err)
	}

	ctrl := &Controller{
		ctx:    ctx,
		wg:     wg,
		cfg:    cfg.Server,
		logger: logger,
	}

	rc := cfg.Server
	// If a ListenAddr was not provided, listen on all interfaces
	if rc.ListenAddr == "" {
		logger.Info("server.listen-addr not provided; defaulting to 0.0.0.0 (all interfaces)")
		rc.ListenAddr = config.DefaultListenAddr
	}
	if rc.Port == 0 {
		logger.Infof("server.port not provided; defaulting to %d", config.DefaultPort)
		rc.Port = config.DefaultPort
	}

	ctrl.handlers = NewHandlers(deps, settings{
		location:     loc,
		timeFormat:   cfg.Display.TimeFormat,
		deptFormat:   cfg.Display.DepartmentTimeFormat,
		defaultMatch: types.DepartmentMatch(cfg.Filter.DepartmentMatch),
	}, logger)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", rc.ListenAddr, rc.Port)
	ctrl.Server.Handler = ctrl.buildHandler(deps)
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// Handler returns the fully wrapped HTTP handler.
func (c *Controller) Handler() http.Handler {
	return c.Server.Handler
}

// StartController starts the REST server
func (c *Controller) StartController() error {
	log.Info("Starting REST server controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		if c.cfg.Cert != "" && c.cfg.Key != "" {
			if err := c.Server.ListenAndServeTLS(c.cfg.Cert, c.cfg.Key); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		} else {
			if err := c.Server.ListenAndServe(); err != http.ErrServerClosed {
				log.Errorf("REST server error: %v", err)
			}
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the REST server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

func (c *Controller) buildHandler(deps Deps) http.Handler {
	router := c.setupRouter(deps)

	origins := c.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", RequestIDHeader}),
		handlers.ExposedHeaders([]string{RequestIDHeader}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{c.logger}),
		handlers.PrintRecoveryStack(true),
	)
	return recovery(cors(router))
}

// setupRouter configures the HTTP router with all endpoints
func (c *Controller) setupRouter(deps Deps) *mux.Router {
	router := mux.NewRouter()
	h := c.handlers

	router.Use(requestIDMiddleware)
	router.Use(log.HTTPMiddleware(c.logger, log.GetHTTPLogBuffer(), requestID, func(r *http.Request, status int, elapsed time.Duration) {
		deps.Metrics.ObserveHTTP(routeName(r), status, elapsed)
	}))

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/readings", h.GetReadings).Methods(http.MethodGet)
	api.HandleFunc("/totals", h.GetTotals).Methods(http.MethodGet)
	api.HandleFunc("/series", h.GetSeries).Methods(http.MethodGet)
	api.HandleFunc("/warning", h.GetWarning).Methods(http.MethodGet)
	api.HandleFunc("/hotspots", h.GetHotspots).Methods(http.MethodGet)
	api.HandleFunc("/departments", h.GetDepartments).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", h.GetDashboard).Methods(http.MethodGet)
	api.HandleFunc("/offsets", h.GetOffsets).Methods(http.MethodGet)
	api.HandleFunc("/offsets", h.PostOffset).Methods(http.MethodPost)
	api.HandleFunc("/predict", h.GetPrediction).Methods(http.MethodGet)
	api.HandleFunc("/ai/strategies", h.GetStrategies).Methods(http.MethodGet)
	api.HandleFunc("/live", h.GetLive).Methods(http.MethodGet)
	api.HandleFunc("/live", h.PostLive).Methods(http.MethodPost)
	api.HandleFunc("/refresh", h.PostRefresh).Methods(http.MethodPost)

	router.HandleFunc("/export/emissions.csv", h.ExportEmissions).Methods(http.MethodGet)
	router.HandleFunc("/export/departments.csv", h.ExportDepartments).Methods(http.MethodGet)
	router.HandleFunc("/export/offsets.csv", h.ExportOffsets).Methods(http.MethodGet)
	router.HandleFunc("/reports/generate", h.GenerateReport).Methods(http.MethodGet)

	if deps.Websocket != nil {
		router.Handle("/ws", deps.Websocket)
	}
	router.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	return router
}

// requestIDMiddleware keeps a caller-supplied request ID or assigns a new one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	return r.Header.Get(RequestIDHeader)
}

// routeName labels metrics by path template so IDs and queries don't explode cardinality.
func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type recoveryLogger struct {
	logger *zap.SugaredLogger
}

func (l recoveryLogger) Println(args ...interface{}) {
	l.logger.Error(args...)
}
