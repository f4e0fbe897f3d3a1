// Package poller drives periodic refreshes of the reading store from the
// upstream API.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/controllers"
	"github.com/carbonwatch/carbonwatch/internal/store"
	"github.com/carbonwatch/carbonwatch/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the refresh period when none is configured.
const DefaultInterval = 5 * time.Second

var (
	// ErrStopped is returned by operations that need a started poller.
	ErrStopped = errors.New("poller is not running")
	// ErrAlreadyStarted is returned by Start on a running poller.
	ErrAlreadyStarted = errors.New("poller already started")
	// ErrSuperseded is returned by RefreshNow when a newer refresh cancelled it.
	ErrSuperseded = errors.New("refresh superseded by a newer request")
)

// State is the lifecycle state of a Poller.
type State int

const (
	Idle State = iota
	Polling
	Paused
)

func (s State) String() string {
	switch s {
	case Polling:
		return "polling"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// MarshalText renders the state by name in JSON and MessagePack payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Source is the subset of the upstream client a refresh needs.
type Source interface {
	RecentReadings(ctx context.Context) ([]types.Reading, error)
	Hotspots(ctx context.Context) ([]types.Hotspot, error)
	Offsets(ctx context.Context) ([]types.Offset, error)
	ReportSummary(ctx context.Context) (*types.ReportSummary, error)
}

// Listener is told about every update the store accepted.
type Listener interface {
	RefreshApplied(applied store.Applied)
}

// Observer receives refresh timings and skipped ticks.
type Observer interface {
	ObserveRefresh(elapsed time.Duration, err error)
	ObserveSkippedTick()
}

// Option customises a Poller.
type Option func(*Poller)

// WithListener registers l for applied updates. May be given more than once.
func WithListener(l Listener) Option {
	return func(p *Poller) { p.listeners = append(p.listeners, l) }
}

// WithObserver attaches a refresh observer.
func WithObserver(o Observer) Option {
	return func(p *Poller) { p.observer = o }
}

type refresh struct {
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Poller is a state machine over Idle, Polling and Paused. All methods are
// safe for concurrent use.
type Poller struct {
	source    Source
	store     *store.Store
	interval  time.Duration
	logger    *zap.SugaredLogger
	listeners []Listener
	observer  Observer

	mu         sync.Mutex
	state      State
	seq        uint64
	ctx        context.Context
	cancel     context.CancelFunc
	tickCancel context.CancelFunc
	tickDone   chan struct{}
	current    *refresh
	wg         sync.WaitGroup

	// deliverMu serialises listener calls. Updates at or below lastDelivered
	// are dropped so listeners only ever move forward.
	deliverMu     sync.Mutex
	lastDelivered uint64
}

// New returns an idle poller.
func New(source Source, st *store.Store, interval time.Duration, logger *zap.SugaredLogger, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Poller{
		source:   source,
		store:    st,
		interval: interval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Start leaves Idle. With live set the poller refreshes at once and then on
// every interval, otherwise it starts Paused.
func (p *Poller) Start(ctx context.Context, live bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Idle {
		return ErrAlreadyStarted
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	if live {
		p.state = Polling
		p.startTickerLocked()
	} else {
		p.state = Paused
	}
	p.logger.Infof("poller started in %v state (interval %v)", p.state, p.interval)
	return nil
}

// Pause stops the ticker and waits for it to exit. A refresh already in
// flight is allowed to finish.
func (p *Poller) Pause() error {
	p.mu.Lock()
	switch p.state {
	case Idle:
		p.mu.Unlock()
		return ErrStopped
	case Paused:
		p.mu.Unlock()
		return nil
	}
	p.state = Paused
	cancel, done := p.tickCancel, p.tickDone
	p.tickCancel, p.tickDone = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
	p.logger.Info("live polling paused")
	return nil
}

// Resume refreshes at once and restarts the ticker.
func (p *Poller) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case Idle:
		return ErrStopped
	case Polling:
		return nil
	}
	p.state = Polling
	p.startTickerLocked()
	p.logger.Info("live polling resumed")
	return nil
}

// Toggle flips between Polling and Paused and returns the new state.
func (p *Poller) Toggle() (State, error) {
	var err error
	switch p.State() {
	case Idle:
		return Idle, ErrStopped
	case Polling:
		err = p.Pause()
	case Paused:
		err = p.Resume()
	}
	return p.State(), err
}

// SetLive moves to Polling when live is true and to Paused otherwise.
func (p *Poller) SetLive(live bool) (State, error) {
	var err error
	if live {
		err = p.Resume()
	} else {
		err = p.Pause()
	}
	return p.State(), err
}

// Stop returns the poller to Idle. In-flight requests are cancelled and
// nothing is applied to the store once Stop has returned.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return
	}
	p.state = Idle
	p.cancel()
	done := p.tickDone
	p.tickCancel, p.tickDone = nil, nil
	p.current = nil
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	p.wg.Wait()
	p.logger.Info("poller stopped")
}

// RefreshNow cancels any in-flight refresh, runs a new one and waits for it.
// It works in both Polling and Paused.
func (p *Poller) RefreshNow(ctx context.Context) error {
	p.mu.Lock()
	if p.state == Idle {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.current != nil {
		p.current.cancel()
	}
	r := p.beginRefreshLocked()
	p.mu.Unlock()

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Poller) startTickerLocked() {
	ctx, cancel := context.WithCancel(p.ctx)
	done := make(chan struct{})
	p.tickCancel, p.tickDone = cancel, done

	go func() {
		defer close(done)
		controllers.RunPeriodicTask(ctx, controllers.PeriodicTask{
			Name:      "upstream refresh",
			Interval:  p.interval,
			Immediate: true,
			Task:      p.tick,
		}, p.logger)
	}()
}

// tick starts a refresh unless one is still running.
func (p *Poller) tick() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Polling {
		return nil
	}
	if p.current != nil {
		p.logger.Debug("skipping tick: refresh still in flight")
		if p.observer != nil {
			p.observer.ObserveSkippedTick()
		}
		return nil
	}
	p.beginRefreshLocked()
	return nil
}

func (p *Poller) beginRefreshLocked() *refresh {
	p.seq++
	ctx, cancel := context.WithCancel(p.ctx)
	r := &refresh{seq: p.seq, cancel: cancel, done: make(chan struct{})}
	p.current = r

	p.wg.Add(1)
	go p.run(ctx, r)
	return r
}

func (p *Poller) run(ctx context.Context, r *refresh) {
	defer p.wg.Done()
	defer close(r.done)
	defer r.cancel()

	start := time.Now()
	update, err := p.fetch(ctx)
	if p.observer != nil {
		p.observer.ObserveRefresh(time.Since(start), err)
	}

	p.mu.Lock()
	if p.current == r {
		p.current = nil
	}
	if p.state == Idle {
		p.mu.Unlock()
		r.err = ErrStopped
		return
	}
	if ctx.Err() != nil {
		r.err = ErrSuperseded
		if p.ctx.Err() != nil {
			r.err = ErrStopped
		}
		p.mu.Unlock()
		return
	}

	if err != nil {
		p.store.Fail(r.seq, store.LoadFailedMessage)
		p.mu.Unlock()
		p.logger.Errorf("refresh %d failed: %v", r.seq, err)
		r.err = err
		return
	}

	applied, ok := p.store.Apply(r.seq, update)
	p.mu.Unlock()
	if !ok {
		p.logger.Debugf("refresh %d discarded: a newer result is already applied", r.seq)
		return
	}

	p.logger.Debugf("refresh %d applied: %d readings, %d hotspots, %d offsets",
		r.seq, len(update.Readings), len(update.Hotspots), len(update.Offsets))
	p.deliver(applied)
}

// deliver hands applied to every listener unless a newer update already
// reached them.
func (p *Poller) deliver(applied store.Applied) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	if applied.Snapshot.Seq <= p.lastDelivered {
		p.logger.Debugf("refresh %d not delivered: listeners already saw %d", applied.Snapshot.Seq, p.lastDelivered)
		return
	}
	p.lastDelivered = applied.Snapshot.Seq
	for _, l := range p.listeners {
		l.RefreshApplied(applied)
	}
}

// fetch loads everything a refresh needs in parallel. Readings and hotspots
// are required; offsets and the summary degrade to empty values.
func (p *Poller) fetch(ctx context.Context) (store.Update, error) {
	var u store.Update
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		readings, err := p.source.RecentReadings(gctx)
		if err != nil {
			return fmt.Errorf("error fetching recent readings: %w", err)
		}
		u.Readings = readings
		return nil
	})
	g.Go(func() error {
		hotspots, err := p.source.Hotspots(gctx)
		if err != nil {
			return fmt.Errorf("error fetching hotspots: %w", err)
		}
		u.Hotspots = hotspots
		return nil
	})
	g.Go(func() error {
		offsets, err := p.source.Offsets(gctx)
		if err != nil {
			p.logger.Warnf("offset ledger unavailable, using an empty list: %v", err)
			offsets = []types.Offset{}
		}
		u.Offsets = offsets
		return nil
	})
	g.Go(func() error {
		summary, err := p.source.ReportSummary(gctx)
		if err != nil {
			p.logger.Warnf("report summary unavailable: %v", err)
			summary = nil
		}
		u.Summary = summary
		return nil
	})

	if err := g.Wait(); err != nil {
		return store.Update{}, err
	}
	return u, nil
}
