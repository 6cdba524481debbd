// Package maintenance owns the cache schema version gate and the periodic
// size/age enforcement pass.
package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/clock"
	"github.com/beewell/todayfeed/internal/content"
	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/metrics"
	"github.com/beewell/todayfeed/internal/model"
)

// CurrentVersion is the schema version this build expects. Bump it when the
// persisted layout changes incompatibly; older stores are cleared on init.
const CurrentVersion = 3

// ErrMigration wraps failures while clearing an outdated store. The
// coordinator treats it as fatal and stays uninitialized; retrying is safe.
var ErrMigration = errors.New("maintenance: version migration failed")

// Config bounds the periodic cleanup pass.
type Config struct {
	Interval time.Duration
	MaxBytes int64
	MaxAge   time.Duration
}

// Service performs version gating on initialization and cleanup on a ticker.
type Service struct {
	kv      kv.Store
	content *content.Store
	clk     clock.Clock
	log     zerolog.Logger
	cfg     Config
}

func New(store kv.Store, contentStore *content.Store, clk clock.Clock, cfg Config, log zerolog.Logger) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 3 << 20
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 14 * 24 * time.Hour
	}
	return &Service{
		kv:      store,
		content: contentStore,
		clk:     clk,
		log:     log.With().Str("component", "maintenance").Logger(),
		cfg:     cfg,
	}
}

// EnsureVersion gates initialization on the persisted schema version. A
// missing version is a first run: the current version is written and nothing
// is cleared. A version behind CurrentVersion clears every content and
// metadata key (never the version key), then records the new version. This
// must complete before any content read in the same initialization.
func (s *Service) EnsureVersion(ctx context.Context) (migrated bool, err error) {
	raw, err := s.kv.Get(ctx, kv.KeyCacheVersion)
	if errors.Is(err, kv.ErrNotFound) {
		if err := s.writeVersion(ctx, CurrentVersion); err != nil {
			return false, fmt.Errorf("%w: %v", ErrMigration, err)
		}
		s.log.Info().Int("version", CurrentVersion).Msg("cache version initialized")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: read version: %v", ErrMigration, err)
	}

	var stored int
	if err := json.Unmarshal(raw, &stored); err != nil {
		// unreadable version: treat as outdated and rebuild
		stored = 0
	}
	if stored >= CurrentVersion {
		if stored > CurrentVersion {
			s.log.Warn().Int("stored", stored).Int("expected", CurrentVersion).Msg("store written by newer build")
		}
		return false, nil
	}

	s.log.Info().Int("from", stored).Int("to", CurrentVersion).Msg("cache version behind, clearing store")
	for _, key := range kv.ContentKeys() {
		if err := s.kv.Delete(ctx, key); err != nil {
			return false, fmt.Errorf("%w: clear %s: %v", ErrMigration, key, err)
		}
	}
	if err := s.writeVersion(ctx, CurrentVersion); err != nil {
		return false, fmt.Errorf("%w: write version: %v", ErrMigration, err)
	}
	return true, nil
}

// Version returns the persisted schema version (0 when unreadable).
func (s *Service) Version(ctx context.Context) int {
	raw, err := s.kv.Get(ctx, kv.KeyCacheVersion)
	if err != nil {
		return 0
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	return v
}

// Invalidate clears all content slots and records the reason for diagnostics.
func (s *Service) Invalidate(ctx context.Context, reason string) error {
	if err := s.content.Clear(ctx); err != nil {
		return fmt.Errorf("invalidate cache: %w", err)
	}
	rec := model.InvalidationRecord{Reason: reason, At: s.clk.Now().UTC()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, kv.KeyLastInvalidation, raw); err != nil {
		return err
	}
	metrics.InvalidationsTotal.WithLabelValues(reason).Inc()
	metrics.CacheSizeBytes.Set(0)
	s.log.Info().Str("reason", reason).Msg("cache invalidated")
	return nil
}

// LastInvalidation returns the most recent invalidation record, if any.
func (s *Service) LastInvalidation(ctx context.Context) *model.InvalidationRecord {
	raw, err := s.kv.Get(ctx, kv.KeyLastInvalidation)
	if err != nil {
		return nil
	}
	var rec model.InvalidationRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil
	}
	return &rec
}

// Run executes the cleanup pass on the configured interval until ctx is
// canceled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("maintenance loop starting")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("maintenance loop stopping")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("maintenance pass failed")
			}
		}
	}
}

// RunOnce enforces the size and age limits: expired history entries are
// dropped, then the oldest history entries are evicted until the total cache
// size fits. The today slot is never evicted.
func (s *Service) RunOnce(ctx context.Context) error {
	items, err := s.content.History(ctx)
	if err != nil {
		return err
	}

	cutoff := s.clk.Now().Add(-s.cfg.MaxAge)
	kept := items[:0]
	expired := 0
	for _, it := range items {
		if it.FetchedAt.Before(cutoff) {
			expired++
			continue
		}
		kept = append(kept, it)
	}
	if expired > 0 {
		if err := s.content.SetHistory(ctx, kept); err != nil {
			return err
		}
	}

	evicted := 0
	for {
		total, err := s.content.TotalSizeBytes(ctx)
		if err != nil {
			return err
		}
		metrics.CacheSizeBytes.Set(float64(total))
		if total <= s.cfg.MaxBytes {
			break
		}
		items, err := s.content.History(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			s.log.Warn().Int64("total", total).Int64("max", s.cfg.MaxBytes).Msg("cache over budget with empty history")
			break
		}
		// history is newest first; evict from the tail
		if err := s.content.SetHistory(ctx, items[:len(items)-1]); err != nil {
			return err
		}
		evicted++
	}

	if expired > 0 || evicted > 0 {
		s.log.Info().Int("expired", expired).Int("evicted", evicted).Msg("maintenance pass trimmed history")
	}
	return nil
}

func (s *Service) writeVersion(ctx context.Context, v int) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, kv.KeyCacheVersion, raw)
}
