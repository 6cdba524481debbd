// Package model holds the domain types shared across the cache subsystem.
package model

import (
	"encoding/json"
	"time"
)

// DateLayout is the wire format for calendar dates (local calendar day, no instant).
const DateLayout = "2006-01-02"

// DateOf returns t's calendar date in t's location.
func DateOf(t time.Time) string {
	return t.Format(DateLayout)
}

// FallbackKind tags which source of the fallback chain served a content read.
type FallbackKind string

const (
	FallbackNone        FallbackKind = "none"
	FallbackPreviousDay FallbackKind = "previousDay"
	FallbackHistory     FallbackKind = "history"
	FallbackEmpty       FallbackKind = "empty"
)

// ContentItem is one daily payload. Items are immutable once stored; updates
// replace the slot, never mutate in place.
type ContentItem struct {
	ID            string          `json:"id"`
	ContentDate   string          `json:"contentDate"` // DateLayout, local calendar day
	Payload       json.RawMessage `json:"payload"`
	FetchedAt     time.Time       `json:"fetchedAt"`
	IsFromNetwork bool            `json:"isFromNetwork"`
}

// SlotMetadata is per-slot bookkeeping consumed by maintenance.
type SlotMetadata struct {
	SlotName  string    `json:"slotName"`
	StoredAt  time.Time `json:"storedAt"`
	SizeBytes int64     `json:"sizeBytes"`
}

// TimezoneSnapshot records the device zone as last observed.
type TimezoneSnapshot struct {
	Identifier       string    `json:"identifier"` // IANA zone name
	UTCOffsetMinutes int       `json:"utcOffsetMinutes"`
	IsDST            bool      `json:"isDst"`
	ObservedAt       time.Time `json:"observedAt"`
}

// Changed reports whether other constitutes a timezone change event.
// Only identifier and offset participate; IsDST alone flips with the offset.
func (s TimezoneSnapshot) Changed(other TimezoneSnapshot) bool {
	return s.Identifier != other.Identifier || s.UTCOffsetMinutes != other.UTCOffsetMinutes
}

// QueuedInteraction is a durable pending interaction awaiting replay.
type QueuedInteraction struct {
	SequenceNumber int64           `json:"sequenceNumber"`
	ID             string          `json:"id"`
	Payload        json.RawMessage `json:"payload"`
	EnqueuedAt     time.Time       `json:"enqueuedAt"`
	AttemptCount   int             `json:"attemptCount"`
	LastError      *string         `json:"lastError,omitempty"`
}

// WarmingConfig controls which warming behaviors are active. Mutable at
// runtime and deliberately not covered by the cache schema version.
type WarmingConfig struct {
	PreloadContent     bool          `json:"preloadContent"`
	WarmHistory        bool          `json:"warmHistory"`
	PredictiveWarming  bool          `json:"predictiveWarming"`
	PredictiveInterval time.Duration `json:"predictiveInterval"`
}

// InvalidationRecord remembers why the cache was last cleared.
type InvalidationRecord struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Diagnostics is the operator-facing snapshot returned by the coordinator.
type Diagnostics struct {
	State                string              `json:"state"`
	CacheVersion         int                 `json:"cacheVersion"`
	QueueLength          int                 `json:"queueLength"`
	DeadLetterLength     int                 `json:"deadLetterLength"`
	Timezone             string              `json:"timezone"`
	LastRefreshAt        *time.Time          `json:"lastRefreshAt,omitempty"`
	LastTimezoneChangeAt *time.Time          `json:"lastTimezoneChangeAt,omitempty"`
	NextRefreshAt        *time.Time          `json:"nextRefreshAt,omitempty"`
	LastInvalidation     *InvalidationRecord `json:"lastInvalidation,omitempty"`
	LastWarming          *WarmingOutcome     `json:"lastWarming,omitempty"`
}

// WarmingOutcome summarizes the last warming run for diagnostics.
type WarmingOutcome struct {
	Strategy string        `json:"strategy"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}
