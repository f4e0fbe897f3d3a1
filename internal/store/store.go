// Package store holds the in-memory reading window and everything derived
// from the latest successful refresh.
package store

import (
	"sync"
	"time"

	"github.com/carbonwatch/carbonwatch/internal/emissions"
	"github.com/carbonwatch/carbonwatch/internal/types"
)

// LoadFailedMessage is the user-facing error recorded when a refresh fails.
const LoadFailedMessage = "failed to load data"

// Update is the result of one refresh.
type Update struct {
	Readings []types.Reading
	Hotspots []types.Hotspot
	Offsets  []types.Offset
	Summary  *types.ReportSummary
}

// Snapshot is a point-in-time copy of the store. Callers own the slices.
type Snapshot struct {
	Seq       uint64               `json:"seq"`
	Readings  []types.Reading      `json:"readings"`
	Hotspots  []types.Hotspot      `json:"hotspots"`
	Offsets   []types.Offset       `json:"offsets"`
	Summary   *types.ReportSummary `json:"summary"`
	Warning   types.Warning        `json:"warning"`
	LastError string               `json:"lastError,omitempty"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Applied describes an accepted update.
type Applied struct {
	Snapshot        Snapshot
	PreviousWarning types.Warning
}

// WarningChanged reports whether the update raised, cleared or replaced the
// live warning.
func (a Applied) WarningChanged() bool {
	return emissions.WarningChanged(a.PreviousWarning, a.Snapshot.Warning)
}

// Store is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	thresholds types.Thresholds
	snap       Snapshot
	now        func() time.Time
}

// New returns an empty store that evaluates warnings against th.
func New(th types.Thresholds) *Store {
	return &Store{
		thresholds: th,
		snap: Snapshot{
			Readings: []types.Reading{},
			Hotspots: []types.Hotspot{},
			Offsets:  []types.Offset{},
			Warning:  types.NoWarning,
		},
		now: time.Now,
	}
}

// Thresholds returns the warning thresholds the store was built with.
func (s *Store) Thresholds() types.Thresholds {
	return s.thresholds
}

// Apply replaces the stored data with u when seq is newer than the last
// sequence seen. Stale results are dropped and ok is false.
func (s *Store) Apply(seq uint64, u Update) (Applied, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.snap.Seq {
		return Applied{}, false
	}

	prev := s.snap.Warning
	s.snap = Snapshot{
		Seq:       seq,
		Readings:  nonNil(u.Readings),
		Hotspots:  nonNil(u.Hotspots),
		Offsets:   nonNil(u.Offsets),
		Summary:   u.Summary,
		Warning:   emissions.Detect(u.Readings, s.thresholds),
		UpdatedAt: s.now(),
	}

	return Applied{Snapshot: s.copyLocked(), PreviousWarning: prev}, true
}

// Fail records a failed refresh. The previous data is kept. Failures from
// stale refreshes are ignored.
func (s *Store) Fail(seq uint64, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.snap.Seq {
		return false
	}
	s.snap.Seq = seq
	s.snap.LastError = message
	return true
}

// ReplaceOffsets swaps in a freshly loaded offset ledger without touching the
// rest of the snapshot.
func (s *Store) ReplaceOffsets(offsets []types.Offset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Offsets = nonNil(offsets)
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

// Readings returns a copy of the current reading window.
func (s *Store) Readings() []types.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.Reading{}, s.snap.Readings...)
}

// Warning returns the live warning.
func (s *Store) Warning() types.Warning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Warning
}

// LastError returns the message of the most recent failed refresh, or "" if
// the most recent refresh succeeded.
func (s *Store) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.LastError
}

func (s *Store) copyLocked() Snapshot {
	c := s.snap
	c.Readings = append([]types.Reading{}, s.snap.Readings...)
	c.Hotspots = append([]types.Hotspot{}, s.snap.Hotspots...)
	c.Offsets = append([]types.Offset{}, s.snap.Offsets...)
	if s.snap.Summary != nil {
		summary := *s.snap.Summary
		c.Summary = &summary
	}
	return c
}

func nonNil[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
