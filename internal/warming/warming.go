// Package warming selects and runs one initialization strategy based on how
// the process came up (cold start, warm restart, recovery, background, test).
package warming

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/content"
	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/model"
)

// Context carries the launch flags the selector dispatches on.
type Context struct {
	IsTestEnvironment   bool
	IsRecoveryFromError bool
	IsWarmRestart       bool
	IsColdStart         bool
	IsBackgroundLaunch  bool
}

// Result is what every strategy returns. Strategies report failure through
// Success, never through a panic or error: the selector degrades, the
// coordinator proceeds.
type Result struct {
	Strategy string
	Success  bool
	Duration time.Duration
	Detail   string
}

// Fetcher is the optional network collaborator the cold strategy uses to
// prefetch missing content.
type Fetcher interface {
	FetchToday(ctx context.Context) (*model.ContentItem, error)
}

// Strategy is one named warming behavior.
type Strategy interface {
	Name() string
	Run(ctx context.Context) Result
}

// Selector picks a strategy by first-match over the context flags:
// test → recovery → warm → cold → background, with cold as the universal
// fallback when a strategy fails.
type Selector struct {
	log        zerolog.Logger
	test       Strategy
	recovery   Strategy
	warm       Strategy
	cold       Strategy
	background Strategy
}

// NewSelector wires the standard strategies. fetcher may be nil; prefetch is
// skipped then.
func NewSelector(store kv.Store, contentStore *content.Store, fetcher Fetcher, cfg model.WarmingConfig, log zerolog.Logger) *Selector {
	l := log.With().Str("component", "warming").Logger()
	return &Selector{
		log:        l,
		test:       &testStrategy{},
		recovery:   &recoveryStrategy{kv: store, content: contentStore, log: l},
		warm:       &warmStrategy{content: contentStore},
		cold:       &coldStrategy{kv: store, content: contentStore, fetcher: fetcher, cfg: cfg, log: l},
		background: &backgroundStrategy{},
	}
}

// Select returns the strategy for the given launch context.
func (s *Selector) Select(wc Context) Strategy {
	switch {
	case wc.IsTestEnvironment:
		return s.test
	case wc.IsRecoveryFromError:
		return s.recovery
	case wc.IsWarmRestart:
		return s.warm
	case wc.IsColdStart:
		return s.cold
	case wc.IsBackgroundLaunch:
		return s.background
	default:
		return s.cold
	}
}

// Execute runs the selected strategy, timing it. A failing strategy degrades
// to the cold strategy; Execute itself never fails.
func (s *Selector) Execute(ctx context.Context, wc Context) Result {
	strat := s.Select(wc)
	res := s.run(ctx, strat)
	if !res.Success && strat != s.cold {
		s.log.Warn().Str("strategy", strat.Name()).Str("detail", res.Detail).Msg("warming strategy failed, degrading to cold")
		fallback := s.run(ctx, s.cold)
		fallback.Detail = "degraded from " + strat.Name() + ": " + fallback.Detail
		fallback.Duration += res.Duration
		return fallback
	}
	return res
}

func (s *Selector) run(ctx context.Context, strat Strategy) Result {
	start := time.Now()
	res := strat.Run(ctx)
	res.Strategy = strat.Name()
	res.Duration = time.Since(start)
	s.log.Debug().Str("strategy", res.Strategy).Bool("success", res.Success).Dur("took", res.Duration).Msg("warming strategy ran")
	return res
}

// testStrategy skips all IO- and network-heavy work.
type testStrategy struct{}

func (*testStrategy) Name() string { return "test" }
func (*testStrategy) Run(context.Context) Result {
	return Result{Success: true, Detail: "test environment, warming skipped"}
}

// recoveryStrategy re-validates what a crash may have corrupted: the store
// must answer, and both content slots must decode.
type recoveryStrategy struct {
	kv      kv.Store
	content *content.Store
	log     zerolog.Logger
}

func (*recoveryStrategy) Name() string { return "recovery" }

func (r *recoveryStrategy) Run(ctx context.Context) Result {
	if err := r.kv.HealthCheck(ctx); err != nil {
		return Result{Success: false, Detail: "store health: " + err.Error()}
	}
	if _, err := r.content.Today(ctx); err != nil {
		r.log.Warn().Err(err).Msg("recovery: today slot unreadable, clearing")
		if err := r.kv.Delete(ctx, kv.KeyContentToday); err != nil {
			return Result{Success: false, Detail: "clear corrupt today slot: " + err.Error()}
		}
		return Result{Success: true, Detail: "cleared corrupt today slot"}
	}
	if _, err := r.content.PreviousDay(ctx); err != nil {
		r.log.Warn().Err(err).Msg("recovery: previousDay slot unreadable, clearing")
		if err := r.kv.Delete(ctx, kv.KeyContentPreviousDay); err != nil {
			return Result{Success: false, Detail: "clear corrupt previousDay slot: " + err.Error()}
		}
		return Result{Success: true, Detail: "cleared corrupt previousDay slot"}
	}
	return Result{Success: true, Detail: "slots validated"}
}

// warmStrategy only checks freshness; state is already in memory.
type warmStrategy struct {
	content *content.Store
}

func (*warmStrategy) Name() string { return "warm" }

func (w *warmStrategy) Run(ctx context.Context) Result {
	item, kind, err := w.content.Resolve(ctx, false)
	if err != nil {
		return Result{Success: false, Detail: "freshness check: " + err.Error()}
	}
	if item == nil {
		return Result{Success: true, Detail: "no content cached"}
	}
	return Result{Success: true, Detail: "content present via " + string(kind)}
}

// coldStrategy is the full path: store health, slot validation, and a
// prefetch when the today slot is empty and a fetcher is wired.
type coldStrategy struct {
	kv      kv.Store
	content *content.Store
	fetcher Fetcher
	cfg     model.WarmingConfig
	log     zerolog.Logger
}

func (*coldStrategy) Name() string { return "cold" }

func (c *coldStrategy) Run(ctx context.Context) Result {
	if err := c.kv.HealthCheck(ctx); err != nil {
		return Result{Success: false, Detail: "store health: " + err.Error()}
	}
	item, err := c.content.Today(ctx)
	if err != nil {
		return Result{Success: false, Detail: "today slot: " + err.Error()}
	}
	if item != nil || c.fetcher == nil || !c.cfg.PreloadContent {
		return Result{Success: true, Detail: "validated"}
	}
	fetched, err := c.fetcher.FetchToday(ctx)
	if err != nil {
		// prefetch is an optimization, not a correctness requirement
		c.log.Warn().Err(err).Msg("cold warming prefetch failed")
		return Result{Success: true, Detail: "validated, prefetch failed"}
	}
	if fetched == nil {
		return Result{Success: true, Detail: "validated, nothing to prefetch"}
	}
	if err := c.content.CacheToday(ctx, *fetched); err != nil {
		return Result{Success: false, Detail: "store prefetched content: " + err.Error()}
	}
	return Result{Success: true, Detail: "prefetched " + fetched.ContentDate}
}

// backgroundStrategy defers non-essential work entirely.
type backgroundStrategy struct{}

func (*backgroundStrategy) Name() string { return "background" }
func (*backgroundStrategy) Run(context.Context) Result {
	return Result{Success: true, Detail: "background launch, warming deferred"}
}
