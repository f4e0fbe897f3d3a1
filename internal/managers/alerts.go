package managers

import (
	"context"
	"fmt"
	"sync"

	"github.com/carbonwatch/carbonwatch/internal/alerting"
	"github.com/carbonwatch/carbonwatch/internal/metrics"
	"github.com/carbonwatch/carbonwatch/pkg/config"
	"go.uber.org/zap"
)

// AlertManager holds the configured warning sinks and the alerter that feeds them
type AlertManager struct {
	Alerter *alerting.Alerter
	Sinks   []alerting.Sink
	closers []func() error
}

// NewAlertManager creates an AlertManager populated with every configured sink.
// The websocket sink is always present; Kafka is added when brokers are set.
func NewAlertManager(ctx context.Context, wg *sync.WaitGroup, cfg *config.ConfigData, broadcaster alerting.Broadcaster, m *metrics.Metrics, logger *zap.SugaredLogger) (*AlertManager, error) {
	am := &AlertManager{}

	if broadcaster != nil {
		if err := am.AddSink("websocket", cfg, broadcaster, logger); err != nil {
			return nil, err
		}
	}
	if cfg.Kafka.Enabled() {
		if err := am.AddSink("kafka", cfg, broadcaster, logger); err != nil {
			return nil, fmt.Errorf("could not add Kafka alert sink: %w", err)
		}
	}

	am.Alerter = alerting.NewAlerter(logger, am.Sinks...)
	if m != nil {
		am.Alerter.OnSent(m.AlertSent)
	}

	// Close sink connections once the application shuts down
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		for _, closeFn := range am.closers {
			if err := closeFn(); err != nil {
				logger.Warnf("error closing alert sink: %v", err)
			}
		}
	}()

	return am, nil
}

// AddSink adds the sink named sinkName to the manager
func (am *AlertManager) AddSink(sinkName string, cfg *config.ConfigData, broadcaster alerting.Broadcaster, logger *zap.SugaredLogger) error {
	switch sinkName {
	case "websocket":
		am.Sinks = append(am.Sinks, alerting.NewHubSink(broadcaster))
	case "kafka":
		w := alerting.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sink := alerting.NewKafkaSink(w, cfg.Kafka.Topic)
		am.Sinks = append(am.Sinks, sink)
		am.closers = append(am.closers, sink.Close)
		logger.Infof("publishing warning transitions to Kafka topic %s (%d brokers)", cfg.Kafka.Topic, len(cfg.Kafka.Brokers))
	default:
		return fmt.Errorf("unknown alert sink: %s", sinkName)
	}
	return nil
}
