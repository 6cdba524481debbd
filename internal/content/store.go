// Package content owns the today/previousDay/history slots and the fallback
// chain consulted when the freshest slot cannot serve a read.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/clock"
	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/model"
)

const (
	SlotToday       = "today"
	SlotPreviousDay = "previousDay"
	SlotHistory     = "history"
)

// Store maintains the content slots. It owns no timers; its only side effects
// are writes through the durable store.
type Store struct {
	kv           kv.Store
	clk          clock.Clock
	log          zerolog.Logger
	historyLimit int

	resolvers []resolver
}

// resolver is one step of the ordered fallback chain. ok reports whether the
// step produced an item; the chain stops at the first ok step.
type resolver struct {
	name string
	kind model.FallbackKind
	fn   func(ctx context.Context, allowStale bool, today string) (*model.ContentItem, bool, error)
}

// NewStore builds a content store with the documented resolver order.
func NewStore(store kv.Store, clk clock.Clock, log zerolog.Logger, historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 7
	}
	s := &Store{
		kv:           store,
		clk:          clk,
		log:          log.With().Str("component", "content").Logger(),
		historyLimit: historyLimit,
	}
	s.resolvers = []resolver{
		{name: "today-fresh", kind: model.FallbackNone, fn: s.resolveTodayFresh},
		{name: "today-stale", kind: model.FallbackNone, fn: s.resolveTodayStale},
		{name: "previous-day", kind: model.FallbackPreviousDay, fn: s.resolvePreviousDay},
		{name: "history", kind: model.FallbackHistory, fn: s.resolveHistory},
	}
	return s
}

// Resolve walks the fallback chain and returns the first item it finds,
// tagged with the kind of source that served it.
func (s *Store) Resolve(ctx context.Context, allowStale bool) (*model.ContentItem, model.FallbackKind, error) {
	today := model.DateOf(s.clk.Now())
	for _, r := range s.resolvers {
		item, ok, err := r.fn(ctx, allowStale, today)
		if err != nil {
			return nil, model.FallbackEmpty, fmt.Errorf("resolver %s: %w", r.name, err)
		}
		if ok {
			return item, r.kind, nil
		}
	}
	return nil, model.FallbackEmpty, nil
}

func (s *Store) resolveTodayFresh(ctx context.Context, _ bool, today string) (*model.ContentItem, bool, error) {
	item, err := s.readItem(ctx, kv.KeyContentToday)
	if err != nil {
		return nil, false, err
	}
	if item != nil && item.ContentDate == today {
		return item, true, nil
	}
	return nil, false, nil
}

func (s *Store) resolveTodayStale(ctx context.Context, allowStale bool, _ string) (*model.ContentItem, bool, error) {
	if !allowStale {
		return nil, false, nil
	}
	item, err := s.readItem(ctx, kv.KeyContentToday)
	if err != nil {
		return nil, false, err
	}
	return item, item != nil, nil
}

func (s *Store) resolvePreviousDay(ctx context.Context, _ bool, _ string) (*model.ContentItem, bool, error) {
	item, err := s.readItem(ctx, kv.KeyContentPreviousDay)
	if err != nil {
		return nil, false, err
	}
	return item, item != nil, nil
}

func (s *Store) resolveHistory(ctx context.Context, _ bool, _ string) (*model.ContentItem, bool, error) {
	items, err := s.History(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	// history is kept newest first
	return &items[0], true, nil
}

// Today returns the current today-slot item, or nil when the slot is empty.
func (s *Store) Today(ctx context.Context) (*model.ContentItem, error) {
	return s.readItem(ctx, kv.KeyContentToday)
}

// PreviousDay returns the previous-day slot item, or nil when empty.
func (s *Store) PreviousDay(ctx context.Context) (*model.ContentItem, error) {
	return s.readItem(ctx, kv.KeyContentPreviousDay)
}

// CacheToday stores item into the today slot, replacing any prior value.
func (s *Store) CacheToday(ctx context.Context, item model.ContentItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal content item: %w", err)
	}
	if err := s.kv.Set(ctx, kv.KeyContentToday, raw); err != nil {
		return err
	}
	if err := s.setSlotMeta(ctx, SlotToday, int64(len(raw))); err != nil {
		return err
	}
	s.log.Debug().Str("id", item.ID).Str("date", item.ContentDate).Bool("network", item.IsFromNetwork).Msg("today slot updated")
	return nil
}

// ArchiveToday moves the today item into previousDay (overwriting it), records
// the item at the head of history, then clears the today slot. This is the
// only operation allowed to overwrite previousDay.
func (s *Store) ArchiveToday(ctx context.Context) error {
	item, err := s.readItem(ctx, kv.KeyContentToday)
	if err != nil {
		return err
	}
	if item == nil {
		s.log.Debug().Msg("archive skipped, today slot empty")
		return nil
	}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal content item: %w", err)
	}
	if err := s.kv.Set(ctx, kv.KeyContentPreviousDay, raw); err != nil {
		return err
	}
	if err := s.setSlotMeta(ctx, SlotPreviousDay, int64(len(raw))); err != nil {
		return err
	}
	if err := s.pushHistory(ctx, *item); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, kv.KeyContentToday); err != nil {
		return err
	}
	if err := s.clearSlotMeta(ctx, SlotToday); err != nil {
		return err
	}
	s.log.Info().Str("id", item.ID).Str("date", item.ContentDate).Msg("today content archived")
	return nil
}

// History returns the bounded history list, newest first.
func (s *Store) History(ctx context.Context) ([]model.ContentItem, error) {
	raw, err := s.kv.Get(ctx, kv.KeyContentHistory)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var items []model.ContentItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return items, nil
}

// HistoryItem returns the history entry for the given calendar date, or nil.
func (s *Store) HistoryItem(ctx context.Context, date string) (*model.ContentItem, error) {
	items, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ContentDate == date {
			return &items[i], nil
		}
	}
	return nil, nil
}

// SetHistory rewrites the history list. Used by maintenance eviction; callers
// must preserve newest-first order.
func (s *Store) SetHistory(ctx context.Context, items []model.ContentItem) error {
	return s.writeHistory(ctx, items)
}

// Clear removes all content slots, history, and slot metadata.
func (s *Store) Clear(ctx context.Context) error {
	for _, key := range []string{kv.KeyContentToday, kv.KeyContentPreviousDay, kv.KeyContentHistory, kv.KeySlotMetadata} {
		if err := s.kv.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Metadata returns the per-slot bookkeeping map (slot name → metadata).
func (s *Store) Metadata(ctx context.Context) (map[string]model.SlotMetadata, error) {
	raw, err := s.kv.Get(ctx, kv.KeySlotMetadata)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return map[string]model.SlotMetadata{}, nil
		}
		return nil, err
	}
	meta := map[string]model.SlotMetadata{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode slot metadata: %w", err)
	}
	return meta, nil
}

// TotalSizeBytes sums the recorded sizes of every slot.
func (s *Store) TotalSizeBytes(ctx context.Context) (int64, error) {
	meta, err := s.Metadata(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range meta {
		total += m.SizeBytes
	}
	return total, nil
}

func (s *Store) pushHistory(ctx context.Context, item model.ContentItem) error {
	items, err := s.History(ctx)
	if err != nil {
		return err
	}
	// replace any entry for the same date, keep newest first
	out := make([]model.ContentItem, 0, len(items)+1)
	out = append(out, item)
	for _, it := range items {
		if it.ContentDate == item.ContentDate {
			continue
		}
		out = append(out, it)
	}
	if len(out) > s.historyLimit {
		out = out[:s.historyLimit]
	}
	return s.writeHistory(ctx, out)
}

func (s *Store) writeHistory(ctx context.Context, items []model.ContentItem) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	if err := s.kv.Set(ctx, kv.KeyContentHistory, raw); err != nil {
		return err
	}
	return s.setSlotMeta(ctx, SlotHistory, int64(len(raw)))
}

func (s *Store) readItem(ctx context.Context, key string) (*model.ContentItem, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var item model.ContentItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &item, nil
}

func (s *Store) setSlotMeta(ctx context.Context, slot string, size int64) error {
	meta, err := s.Metadata(ctx)
	if err != nil {
		return err
	}
	meta[slot] = model.SlotMetadata{SlotName: slot, StoredAt: s.clk.Now().UTC(), SizeBytes: size}
	return s.writeMeta(ctx, meta)
}

func (s *Store) clearSlotMeta(ctx context.Context, slot string) error {
	meta, err := s.Metadata(ctx)
	if err != nil {
		return err
	}
	delete(meta, slot)
	return s.writeMeta(ctx, meta)
}

func (s *Store) writeMeta(ctx context.Context, meta map[string]model.SlotMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal slot metadata: %w", err)
	}
	return s.kv.Set(ctx, kv.KeySlotMetadata, raw)
}
