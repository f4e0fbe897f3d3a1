package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/carbonwatch/carbonwatch/internal/cache"
	"github.com/carbonwatch/carbonwatch/internal/controllers"
	"github.com/carbonwatch/carbonwatch/internal/hub"
	"github.com/carbonwatch/carbonwatch/internal/metrics"
	"github.com/carbonwatch/carbonwatch/internal/poller"
	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
	"github.com/carbonwatch/carbonwatch/internal/upstream"
	"github.com/carbonwatch/carbonwatch/pkg/config"
	"go.uber.org/zap"
)

// Services are the shared components the controllers are built from.
type Services struct {
	Config   *config.ConfigData
	Metrics  *metrics.Metrics
	Upstream *upstream.Client
	Store    *store.Store
	Hub      *hub.Hub
	Alerts   *AlertManager
	Cache    cache.Store
	Poller   *poller.Poller
}

// NewServices wires every shared component from cfg. Connections it opens
// are closed when ctx is cancelled.
func NewServices(ctx context.Context, wg *sync.WaitGroup, cfg *config.ConfigData, logger *zap.SugaredLogger) (*Services, error) {
	s := &Services{Config: cfg, Metrics: metrics.New()}

	client, err := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, logger,
		upstream.WithHTTPClient(controllers.NewHTTPClient(cfg.Upstream.Timeout)),
		upstream.WithObserver(s.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating upstream client: %w", err)
	}
	s.Upstream = client

	s.Store = store.New(types.Thresholds{
		GasPPM:          cfg.Thresholds.GasPPM,
		CO2SpikePercent: cfg.Thresholds.CO2SpikePercent,
	})
	s.Hub = hub.New(logger)

	s.Alerts, err = NewAlertManager(ctx, wg, cfg, s.Hub, s.Metrics, logger)
	if err != nil {
		return nil, err
	}

	s.Cache, err = newCache(cfg.Cache, s.Metrics)
	if err != nil {
		return nil, fmt.Errorf("error creating %s cache: %w", cfg.Cache.Backend, err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := s.Cache.Close(); err != nil {
			logger.Warnf("error closing cache: %v", err)
		}
	}()

	s.Poller = poller.New(client, s.Store, cfg.Polling.Interval, logger,
		poller.WithListener(s.Hub),
		poller.WithListener(s.Alerts.Alerter),
		poller.WithListener(s.Metrics),
		poller.WithObserver(s.Metrics),
	)

	s.Metrics.GaugeFunc("websocket_clients", "Connected websocket clients.", func() float64 {
		return float64(s.Hub.Clients())
	})

	return s, nil
}

func newCache(cc config.CacheData, obs cache.Observer) (cache.Store, error) {
	switch cc.Backend {
	case "", "memory":
		return cache.NewMemory(cc.TTL, obs), nil
	case "redis":
		client, err := cache.NewRedisClient(cc.RedisAddr, cc.RedisPassword, cc.RedisDB)
		if err != nil {
			return nil, err
		}
		return cache.NewRedis(client, cc.KeyPrefix, cc.TTL, obs), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cc.Backend)
	}
}
