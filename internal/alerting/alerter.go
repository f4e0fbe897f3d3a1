// Package alerting fans warning transitions out to notification sinks.
package alerting

import (
	"context"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
	"go.uber.org/zap"
)

// Alert is a warning transition: a warning was raised, cleared or replaced.
type Alert struct {
	Seq      uint64        `json:"seq"`
	Time     time.Time     `json:"time"`
	Warning  types.Warning `json:"warning"`
	Previous types.Warning `json:"previous"`
}

// Cleared reports whether the alert announces the end of a warning.
func (a Alert) Cleared() bool {
	return !a.Warning.Active && a.Previous.Active
}

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Alerter turns applied refreshes into alerts. Sink failures are logged and
// never stop other sinks.
type Alerter struct {
	sinks   []Sink
	timeout time.Duration
	logger  *zap.SugaredLogger
	onSent  func(sink string, err error)
}

// NewAlerter returns an alerter over sinks.
func NewAlerter(logger *zap.SugaredLogger, sinks ...Sink) *Alerter {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Alerter{sinks: sinks, timeout: 5 * time.Second, logger: logger}
}

// OnSent registers a callback invoked after every delivery attempt.
func (a *Alerter) OnSent(fn func(sink string, err error)) {
	a.onSent = fn
}

// RefreshApplied raises an alert when the live warning changed.
func (a *Alerter) RefreshApplied(applied store.Applied) {
	if !applied.WarningChanged() {
		return
	}
	a.Process(Alert{
		Seq:      applied.Snapshot.Seq,
		Time:     applied.Snapshot.UpdatedAt,
		Warning:  applied.Snapshot.Warning,
		Previous: applied.PreviousWarning,
	})
}

// Process sends alert through every sink.
func (a *Alerter) Process(alert Alert) {
	if alert.Warning.Active {
		a.logger.Warnf("warning raised: %s", alert.Warning.Message)
	} else {
		a.logger.Infof("warning cleared: %s", alert.Previous.Message)
	}

	for _, s := range a.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := s.Send(ctx, alert)
		cancel()
		if err != nil {
			a.logger.Errorf("alert sink %s failed: %v", s.Name(), err)
		}
		if a.onSent != nil {
			a.onSent(s.Name(), err)
		}
	}
}
