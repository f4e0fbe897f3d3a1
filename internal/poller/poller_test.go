package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
)

// fakeSource serves a fixed reading window. When gate is non-nil every
// RecentReadings call blocks until a value is sent on it or ctx ends.
type fakeSource struct {
	calls       atomic.Int32
	gate        chan struct{}
	readingsErr error
	offsetsErr  error

	mu       sync.Mutex
	readings []types.Reading
}

func (f *fakeSource) RecentReadings(ctx context.Context) ([]types.Reading, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.readingsErr != nil {
		return nil, f.readingsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Reading{}, f.readings...), nil
}

func (f *fakeSource) Hotspots(context.Context) ([]types.Hotspot, error) {
	return []types.Hotspot{{Department: "Assembly", TotalCO2: 3}}, nil
}

func (f *fakeSource) Offsets(context.Context) ([]types.Offset, error) {
	if f.offsetsErr != nil {
		return nil, f.offsetsErr
	}
	return []types.Offset{{Description: "Trees", Amount: types.Float(1)}}, nil
}

func (f *fakeSource) ReportSummary(context.Context) (*types.ReportSummary, error) {
	return nil, errors.New("no summary")
}

type recorder struct {
	mu      sync.Mutex
	applied []store.Applied
}

func (r *recorder) RefreshApplied(a store.Applied) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, a)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func newFixture(src *fakeSource, interval time.Duration) (*Poller, *store.Store, *recorder) {
	if src.readings == nil {
		src.readings = []types.Reading{{CO2Emissions: types.Float(1)}, {CO2Emissions: types.Float(1)}}
	}
	st := store.New(types.DefaultThresholds())
	rec := &recorder{}
	return New(src, st, interval, nil, WithListener(rec)), st, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStateTransitions(t *testing.T) {
	p, _, _ := newFixture(&fakeSource{}, time.Hour)

	if p.State() != Idle {
		t.Fatalf("new poller state = %v", p.State())
	}
	if err := p.Pause(); !errors.Is(err, ErrStopped) {
		t.Errorf("Pause on idle: %v", err)
	}
	if err := p.Resume(); !errors.Is(err, ErrStopped) {
		t.Errorf("Resume on idle: %v", err)
	}
	if _, err := p.Toggle(); !errors.Is(err, ErrStopped) {
		t.Errorf("Toggle on idle: %v", err)
	}

	if err := p.Start(context.Background(), true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start(context.Background(), true); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start: %v", err)
	}
	if p.State() != Polling {
		t.Errorf("state = %v, want polling", p.State())
	}

	if s, err := p.Toggle(); err != nil || s != Paused {
		t.Errorf("Toggle = %v, %v", s, err)
	}
	if err := p.Pause(); err != nil {
		t.Errorf("Pause while paused should be a no-op: %v", err)
	}
	if s, err := p.SetLive(true); err != nil || s != Polling {
		t.Errorf("SetLive(true) = %v, %v", s, err)
	}

	p.Stop()
	if p.State() != Idle {
		t.Errorf("state after Stop = %v", p.State())
	}
	p.Stop()
}

func TestStartPaused(t *testing.T) {
	src := &fakeSource{}
	p, _, _ := newFixture(src, time.Millisecond)
	if err := p.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	time.Sleep(20 * time.Millisecond)
	if p.State() != Paused || src.calls.Load() != 0 {
		t.Errorf("paused poller fetched %d times", src.calls.Load())
	}
}

func TestPollingRefreshesImmediatelyAndApplies(t *testing.T) {
	src := &fakeSource{offsetsErr: errors.New("ledger down")}
	p, st, rec := newFixture(src, time.Hour)
	if err := p.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	waitFor(t, "first refresh", func() bool { return rec.count() == 1 })

	snap := st.Snapshot()
	if len(snap.Readings) != 2 || len(snap.Hotspots) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Offsets) != 0 || snap.Offsets == nil {
		t.Error("failed offsets should degrade to an empty list")
	}
	if snap.Summary != nil {
		t.Error("failed summary should degrade to nil")
	}
}

func TestRefreshFailureKeepsData(t *testing.T) {
	src := &fakeSource{}
	p, st, _ := newFixture(src, time.Hour)
	if err := p.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	if err := p.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	src.readingsErr = errors.New("upstream down")
	if err := p.RefreshNow(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if st.LastError() != store.LoadFailedMessage {
		t.Errorf("last error = %q", st.LastError())
	}
	if len(st.Readings()) != 2 {
		t.Error("previous readings must survive a failed refresh")
	}
}

func TestRefreshNowRequiresStart(t *testing.T) {
	p, _, _ := newFixture(&fakeSource{}, time.Hour)
	if err := p.RefreshNow(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestRefreshNowSupersedesInFlight(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	p, st, _ := newFixture(src, time.Hour)
	if err := p.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	first := make(chan error, 1)
	go func() { first <- p.RefreshNow(context.Background()) }()
	waitFor(t, "first fetch", func() bool { return src.calls.Load() == 1 })

	second := make(chan error, 1)
	go func() { second <- p.RefreshNow(context.Background()) }()

	if err := <-first; !errors.Is(err, ErrSuperseded) {
		t.Errorf("first refresh: %v, want ErrSuperseded", err)
	}

	waitFor(t, "second fetch", func() bool { return src.calls.Load() == 2 })
	src.gate <- struct{}{}
	if err := <-second; err != nil {
		t.Errorf("second refresh: %v", err)
	}
	if st.Snapshot().Seq != 2 {
		t.Errorf("applied seq = %d, want 2", st.Snapshot().Seq)
	}
}

func TestTicksSkippedWhileInFlight(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	obs := &countingObserver{}
	st := store.New(types.DefaultThresholds())
	src.readings = []types.Reading{}
	p := New(src, st, 2*time.Millisecond, nil, WithObserver(obs))

	if err := p.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "skipped ticks", func() bool { return obs.skipped.Load() >= 3 })

	if got := src.calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1 while the first is in flight", got)
	}
	p.Stop()
}

func TestStopCancelsInFlightAndAppliesNothing(t *testing.T) {
	src := &fakeSource{gate: make(chan struct{})}
	p, st, rec := newFixture(src, time.Hour)
	if err := p.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "in-flight fetch", func() bool { return src.calls.Load() == 1 })

	p.Stop()

	if rec.count() != 0 || st.Snapshot().Seq != 0 {
		t.Error("nothing may be applied after Stop")
	}
}

func TestPauseStopsTicker(t *testing.T) {
	src := &fakeSource{}
	p, _, rec := newFixture(src, 2*time.Millisecond)
	if err := p.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	waitFor(t, "a few refreshes", func() bool { return rec.count() >= 2 })
	if err := p.Pause(); err != nil {
		t.Fatal(err)
	}

	// let any refresh started before Pause drain
	time.Sleep(10 * time.Millisecond)
	before := src.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if after := src.calls.Load(); after != before {
		t.Errorf("fetched %d times while paused", after-before)
	}
}

func TestStateJSONName(t *testing.T) {
	b, _ := Paused.MarshalText()
	if string(b) != "paused" {
		t.Errorf("got %s", b)
	}
}

type countingObserver struct {
	skipped   atomic.Int32
	refreshes atomic.Int32
}

func (c *countingObserver) ObserveRefresh(time.Duration, error) { c.refreshes.Add(1) }
func (c *countingObserver) ObserveSkippedTick()                 { c.skipped.Add(1) }

// blockingListener holds the first update it sees until release is closed.
type blockingListener struct {
	recorder
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingListener) RefreshApplied(a store.Applied) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.release
	}
	b.recorder.RefreshApplied(a)
}

func (r *recorder) seqs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.applied))
	for _, a := range r.applied {
		out = append(out, a.Snapshot.Seq)
	}
	return out
}

func TestSlowListenerKeepsDeliveryOrder(t *testing.T) {
	src := &fakeSource{readings: []types.Reading{{CO2Emissions: types.Float(1)}}}
	st := store.New(types.DefaultThresholds())
	l := &blockingListener{entered: make(chan struct{}), release: make(chan struct{})}
	p := New(src, st, time.Hour, nil, WithListener(l))
	if err := p.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	defer p.Stop()

	first := make(chan error, 1)
	go func() { first <- p.RefreshNow(context.Background()) }()
	<-l.entered

	second := make(chan error, 1)
	go func() { second <- p.RefreshNow(context.Background()) }()
	waitFor(t, "second refresh applied", func() bool { return st.Snapshot().Seq == 2 })

	close(l.release)
	for _, ch := range []chan error{first, second} {
		if err := <-ch; err != nil {
			t.Errorf("refresh: %v", err)
		}
	}

	got := l.seqs()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("listener saw %v, want [1 2]", got)
	}
}

func TestDeliverDropsStaleUpdates(t *testing.T) {
	p, _, rec := newFixture(&fakeSource{}, time.Hour)

	for _, seq := range []uint64{3, 2, 3, 5, 4} {
		p.deliver(store.Applied{Snapshot: store.Snapshot{Seq: seq}})
	}

	got := rec.seqs()
	want := []uint64{3, 5}
	if len(got) != len(want) {
		t.Fatalf("listener saw %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("listener saw %v, want %v", got, want)
		}
	}
}

func TestLiveTicksWithSlowListenerStayOrdered(t *testing.T) {
	src := &fakeSource{}
	st := store.New(types.DefaultThresholds())
	l := &blockingListener{entered: make(chan struct{}), release: make(chan struct{})}
	p := New(src, st, 5*time.Millisecond, nil, WithListener(l))
	if err := p.Start(context.Background(), true); err != nil {
		t.Fatal(err)
	}

	<-l.entered
	waitFor(t, "later refreshes applied", func() bool { return st.Snapshot().Seq >= 5 })
	close(l.release)
	waitFor(t, "later delivery", func() bool { return len(l.seqs()) >= 2 })
	p.Stop()

	got := l.seqs()
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("listener saw %v out of order", got)
		}
	}
}
