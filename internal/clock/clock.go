// Package clock supplies wall-clock time and the device timezone to the rest
// of the subsystem, so tests can substitute both.
package clock

import (
	"time"

	"github.com/beewell/todayfeed/internal/model"
)

// Clock provides the current instant and the current device zone.
type Clock interface {
	Now() time.Time
	// CurrentZone returns a snapshot of the process-local timezone. Callers
	// must tolerate an error and fall back to a prior snapshot or UTC.
	CurrentZone() (model.TimezoneSnapshot, error)
}

// System reads the real clock and the process-local timezone.
type System struct{}

func NewSystem() *System { return &System{} }

func (System) Now() time.Time { return time.Now() }

func (s System) CurrentZone() (model.TimezoneSnapshot, error) {
	now := time.Now()
	return Snapshot(now), nil
}

// Snapshot derives a TimezoneSnapshot from t's location.
func Snapshot(t time.Time) model.TimezoneSnapshot {
	_, offset := t.Zone()
	return model.TimezoneSnapshot{
		Identifier:       t.Location().String(),
		UTCOffsetMinutes: offset / 60,
		IsDST:            isDST(t),
		ObservedAt:       t,
	}
}

// isDST compares t's offset against the smaller of the mid-winter and
// mid-summer offsets for the same location.
func isDST(t time.Time) bool {
	loc := t.Location()
	_, jan := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc).Zone()
	_, jul := time.Date(t.Year(), time.July, 1, 0, 0, 0, 0, loc).Zone()
	std := jan
	if jul < jan {
		std = jul
	}
	_, cur := t.Zone()
	return cur != std
}

// Location resolves a snapshot to a *time.Location: the IANA identifier when
// loadable, otherwise a fixed zone at the recorded offset.
func Location(s model.TimezoneSnapshot) *time.Location {
	if s.Identifier != "" {
		if loc, err := time.LoadLocation(s.Identifier); err == nil {
			return loc
		}
	}
	return time.FixedZone(s.Identifier, s.UTCOffsetMinutes*60)
}
