// Package scheduler owns the single outstanding refresh timer and the
// timezone-aware computation of its fire instant.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/clock"
	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/model"
)

// RefreshScheduler computes the next refresh instant from the device zone and
// arms one timer for it. Arming always cancels the previous timer, so at most
// one is outstanding.
type RefreshScheduler struct {
	kv  kv.Store
	clk clock.Clock
	log zerolog.Logger

	prefHour   int
	prefMinute int

	mu               sync.Mutex
	timer            *time.Timer
	nextAt           *time.Time
	zone             model.TimezoneSnapshot
	lastZoneChange   *time.Time
	immediatePending bool
	stopped          bool
	onRefresh        func()
}

// New builds a scheduler with the preferred refresh time-of-day.
func New(store kv.Store, clk clock.Clock, prefHour, prefMinute int, log zerolog.Logger) *RefreshScheduler {
	return &RefreshScheduler{
		kv:         store,
		clk:        clk,
		log:        log.With().Str("component", "scheduler").Logger(),
		prefHour:   prefHour,
		prefMinute: prefMinute,
		zone:       model.TimezoneSnapshot{Identifier: "UTC"},
	}
}

// SetCallback registers the function invoked when the timer fires. Must be
// set before Arm.
func (s *RefreshScheduler) SetCallback(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRefresh = fn
}

// DetectZoneChange reads the device zone, compares it with the persisted
// snapshot, and persists the new one on mismatch. It reports whether a change
// occurred and whether that change crossed a refresh boundary the old
// schedule would have missed (the caller should refresh immediately).
//
// Zone read failures never abort initialization: the scheduler falls back to
// the last persisted snapshot, or UTC, logs a warning, and returns the
// detection error only so the caller can record a degraded state.
func (s *RefreshScheduler) DetectZoneChange(ctx context.Context) (changed, immediate bool, detectErr error) {
	persisted, hadPersisted := s.loadSnapshot(ctx)

	current, err := s.clk.CurrentZone()
	if err != nil {
		s.mu.Lock()
		if hadPersisted {
			s.zone = persisted
		} else {
			s.zone = model.TimezoneSnapshot{Identifier: "UTC", ObservedAt: s.clk.Now().UTC()}
		}
		s.mu.Unlock()
		s.log.Warn().Err(err).Str("fallback", s.Zone().Identifier).Msg("timezone detection failed")
		return false, false, err
	}

	s.mu.Lock()
	s.zone = current
	s.mu.Unlock()

	if hadPersisted && !persisted.Changed(current) {
		return false, false, nil
	}

	if err := s.persistSnapshot(ctx, current); err != nil {
		s.log.Warn().Err(err).Msg("persist timezone snapshot failed")
	}
	if !hadPersisted {
		// first run: nothing to compare against
		return false, false, nil
	}

	now := s.clk.Now()
	changedAt := now.UTC()
	s.mu.Lock()
	s.lastZoneChange = &changedAt
	s.mu.Unlock()

	immediate = s.NeedsRefresh(ctx)
	if immediate {
		s.mu.Lock()
		s.immediatePending = true
		s.mu.Unlock()
	}
	s.log.Info().
		Str("from", persisted.Identifier).Int("fromOffset", persisted.UTCOffsetMinutes).
		Str("to", current.Identifier).Int("toOffset", current.UTCOffsetMinutes).
		Bool("immediateRefresh", immediate).
		Msg("timezone change detected")
	return true, immediate, nil
}

// NeedsRefresh is the side-effect-free predicate: a new local calendar day
// has begun since the last refresh and the preferred time-of-day has passed,
// or a detected timezone change demands an immediate refresh.
func (s *RefreshScheduler) NeedsRefresh(ctx context.Context) bool {
	s.mu.Lock()
	pending := s.immediatePending
	zone := s.zone
	s.mu.Unlock()
	if pending {
		return true
	}

	last, ok := s.loadLastRefresh(ctx)
	if !ok {
		return true
	}
	loc := clock.Location(zone)
	now := s.clk.Now().In(loc)
	lastLocal := last.In(loc)

	nd := model.DateOf(now)
	ld := model.DateOf(lastLocal)
	if nd <= ld {
		return false
	}
	// a whole day (or more) was missed entirely
	if model.DateOf(lastLocal.AddDate(0, 0, 1)) < nd {
		return true
	}
	return now.Hour() > s.prefHour ||
		(now.Hour() == s.prefHour && now.Minute() >= s.prefMinute)
}

// NextRefreshAt computes the next local-calendar-day boundary at or after the
// preferred time-of-day, as an absolute instant in the current zone.
func (s *RefreshScheduler) NextRefreshAt(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRefreshAtLocked(now)
}

// Arm cancels any outstanding timer and arms one for the next refresh
// instant. A non-positive delay fires the callback immediately instead of
// scheduling.
func (s *RefreshScheduler) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	now := s.clk.Now()
	next := s.nextRefreshAtLocked(now)
	delay := next.Sub(now)
	cb := s.onRefresh
	if delay <= 0 {
		s.nextAt = nil
		if cb != nil {
			go cb()
		}
		return
	}
	s.nextAt = &next
	s.timer = time.AfterFunc(delay, func() {
		if cb != nil {
			cb()
		}
	})
	s.log.Info().Time("next", next).Dur("in", delay).Msg("refresh timer armed")
}

func (s *RefreshScheduler) nextRefreshAtLocked(now time.Time) time.Time {
	loc := clock.Location(s.zone)
	local := now.In(loc)
	candidate := time.Date(local.Year(), local.Month(), local.Day(), s.prefHour, s.prefMinute, 0, 0, loc)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

// MarkRefreshed persists the refresh instant and clears any pending
// immediate-refresh flag. Called by the coordinator after each cycle.
func (s *RefreshScheduler) MarkRefreshed(ctx context.Context, at time.Time) error {
	s.mu.Lock()
	s.immediatePending = false
	s.mu.Unlock()
	raw, err := json.Marshal(at.UTC())
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, kv.KeyLastRefresh, raw)
}

// LastRefreshAt returns the persisted last refresh instant, if any.
func (s *RefreshScheduler) LastRefreshAt(ctx context.Context) *time.Time {
	if t, ok := s.loadLastRefresh(ctx); ok {
		return &t
	}
	return nil
}

// Zone returns the effective timezone snapshot.
func (s *RefreshScheduler) Zone() model.TimezoneSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zone
}

// LastZoneChangeAt returns when a zone change was last detected, if ever.
func (s *RefreshScheduler) LastZoneChangeAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastZoneChange
}

// NextArmedAt returns the armed fire instant, nil when no timer is armed.
func (s *RefreshScheduler) NextArmedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAt
}

// Stop cancels the outstanding timer. Safe to call multiple times.
func (s *RefreshScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.nextAt = nil
}

func (s *RefreshScheduler) loadSnapshot(ctx context.Context) (model.TimezoneSnapshot, bool) {
	raw, err := s.kv.Get(ctx, kv.KeyTimezoneSnapshot)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.log.Warn().Err(err).Msg("read timezone snapshot failed")
		}
		return model.TimezoneSnapshot{}, false
	}
	var snap model.TimezoneSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		s.log.Warn().Err(err).Msg("corrupt timezone snapshot, discarding")
		return model.TimezoneSnapshot{}, false
	}
	return snap, true
}

func (s *RefreshScheduler) persistSnapshot(ctx context.Context, snap model.TimezoneSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, kv.KeyTimezoneSnapshot, raw)
}

func (s *RefreshScheduler) loadLastRefresh(ctx context.Context) (time.Time, bool) {
	raw, err := s.kv.Get(ctx, kv.KeyLastRefresh)
	if err != nil {
		return time.Time{}, false
	}
	var t time.Time
	if err := json.Unmarshal(raw, &t); err != nil {
		return time.Time{}, false
	}
	return t, true
}
