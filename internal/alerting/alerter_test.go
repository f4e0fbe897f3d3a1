package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
	"github.com/segmentio/kafka-go"
)

type memorySink struct {
	alerts []Alert
	err    error
}

func (m *memorySink) Name() string { return "memory" }

func (m *memorySink) Send(_ context.Context, a Alert) error {
	m.alerts = append(m.alerts, a)
	return m.err
}

func spikeReadings() []types.Reading {
	return []types.Reading{{CO2Emissions: types.Float(10)}, {CO2Emissions: types.Float(13)}}
}

func flatReadings() []types.Reading {
	return []types.Reading{{CO2Emissions: types.Float(10)}, {CO2Emissions: types.Float(10)}}
}

func TestAlerterOnlyAlertsOnTransitions(t *testing.T) {
	sink := &memorySink{}
	a := NewAlerter(nil, sink)
	st := store.New(types.DefaultThresholds())

	steps := []struct {
		readings []types.Reading
		alerts   int
	}{
		{flatReadings(), 0},
		{spikeReadings(), 1},
		{spikeReadings(), 1},
		{flatReadings(), 2},
	}
	for i, step := range steps {
		applied, ok := st.Apply(uint64(i+1), store.Update{Readings: step.readings})
		if !ok {
			t.Fatalf("step %d not applied", i)
		}
		a.RefreshApplied(applied)
		if len(sink.alerts) != step.alerts {
			t.Fatalf("step %d: alerts = %d, want %d", i, len(sink.alerts), step.alerts)
		}
	}

	if !sink.alerts[1].Cleared() || sink.alerts[0].Cleared() {
		t.Error("second alert should announce the warning clearing")
	}
}

func TestAlerterContinuesAfterSinkFailure(t *testing.T) {
	failing := &memorySink{err: errors.New("down")}
	ok := &memorySink{}
	a := NewAlerter(nil, failing, ok)

	var results []error
	a.OnSent(func(_ string, err error) { results = append(results, err) })
	a.Process(Alert{Warning: types.Warning{Active: true, Kind: types.WarningCO2SpikeDetected}})

	if len(ok.alerts) != 1 {
		t.Error("second sink skipped after the first failed")
	}
	if len(results) != 2 || results[0] == nil || results[1] != nil {
		t.Errorf("results = %v", results)
	}
}

type fakeBroadcaster struct {
	warnings []types.Warning
	stopped  bool
}

func (f *fakeBroadcaster) BroadcastWarning(w types.Warning) bool {
	if f.stopped {
		return false
	}
	f.warnings = append(f.warnings, w)
	return true
}

func TestHubSink(t *testing.T) {
	b := &fakeBroadcaster{}
	s := NewHubSink(b)
	w := types.Warning{Active: true, Kind: types.WarningGasThresholdExceeded}
	if err := s.Send(context.Background(), Alert{Warning: w}); err != nil || len(b.warnings) != 1 {
		t.Errorf("send failed: %v", err)
	}
	b.stopped = true
	if err := s.Send(context.Background(), Alert{Warning: w}); !errors.Is(err, ErrHubStopped) {
		t.Errorf("err = %v, want ErrHubStopped", err)
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	s := NewKafkaSink(w, "carbon.warnings")
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	alert := Alert{
		Seq:     4,
		Time:    now,
		Warning: types.Warning{Active: true, Kind: types.WarningGasThresholdExceeded, Message: "gas"},
	}
	if err := s.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "gas_threshold_exceeded" || !msg.Time.Equal(now) {
		t.Errorf("message = %+v", msg)
	}
	var decoded Alert
	if err := json.Unmarshal(msg.Value, &decoded); err != nil || decoded.Seq != 4 {
		t.Errorf("value = %s (%v)", msg.Value, err)
	}

	cleared := Alert{Previous: alert.Warning, Warning: types.NoWarning}
	s.Send(context.Background(), cleared)
	if string(w.msgs[1].Key) != "gas_threshold_exceeded" {
		t.Errorf("cleared alert key = %s", w.msgs[1].Key)
	}

	w.err = errors.New("broker gone")
	if err := s.Send(context.Background(), alert); err == nil {
		t.Error("expected write error")
	}

	s.Close()
	if !w.closed {
		t.Error("writer not closed")
	}
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "carbon.warnings")
	if w.Topic != "carbon.warnings" || w.RequiredAcks != kafka.RequireOne {
		t.Errorf("writer = %+v", w)
	}
}
