// Package coordinator is the public face of the feed cache subsystem. It
// composes the content store, scheduler, sync queue, warming selector, and
// maintenance service behind one operation surface and one lifecycle.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/clock"
	"github.com/beewell/todayfeed/internal/config"
	"github.com/beewell/todayfeed/internal/content"
	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/maintenance"
	"github.com/beewell/todayfeed/internal/metrics"
	"github.com/beewell/todayfeed/internal/model"
	"github.com/beewell/todayfeed/internal/scheduler"
	"github.com/beewell/todayfeed/internal/syncqueue"
	"github.com/beewell/todayfeed/internal/warming"
)

// State is the coordinator lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateDisposed      State = "disposed"
)

// refresh triggers, used as the metrics label
const (
	triggerScheduled = "scheduled"
	triggerForced    = "forced"
	triggerTimezone  = "timezone"
)

// Coordinator owns exactly one cache per process. Construct with New, call
// Initialize before any other operation, and Dispose on shutdown.
type Coordinator struct {
	cfg     *config.Config
	log     zerolog.Logger
	kv      kv.Store
	clk     clock.Clock
	content *content.Store
	queue   *syncqueue.Queue
	sched   *scheduler.RefreshScheduler
	warmer  *warming.Selector
	maint   *maintenance.Service
	fetcher warming.Fetcher

	mu          sync.Mutex
	state       State
	initDone    chan struct{}
	initErr     error
	everFailed  bool
	everInit    bool
	lastForce   time.Time
	lastWarming *model.WarmingOutcome

	// opMu serializes state-mutating operations, standing in for the
	// source environment's single task queue.
	opMu sync.Mutex

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires the sub-components. deliverer and fetcher may be nil: interactions
// then stay queued and prefetch is skipped.
func New(cfg *config.Config, store kv.Store, clk clock.Clock, deliverer syncqueue.Deliverer, fetcher warming.Fetcher, log zerolog.Logger) *Coordinator {
	l := log.With().Str("component", "coordinator").Logger()
	cs := content.NewStore(store, clk, log, cfg.HistoryLimit)
	c := &Coordinator{
		cfg:     cfg,
		log:     l,
		kv:      store,
		clk:     clk,
		content: cs,
		queue:   syncqueue.New(store, deliverer, cfg.MaxDeliveryAttempts, log),
		sched:   scheduler.New(store, clk, cfg.RefreshHour, cfg.RefreshMinute, log),
		warmer: warming.NewSelector(store, cs, fetcher, model.WarmingConfig{
			PreloadContent: true,
			WarmHistory:    true,
		}, log),
		fetcher: fetcher,
		state:   StateUninitialized,
	}
	c.maint = maintenance.New(store, cs, clk, maintenance.Config{
		Interval: cfg.MaintenanceInterval,
		MaxBytes: cfg.MaxCacheBytes,
		MaxAge:   time.Duration(cfg.MaxEntryAge) * 24 * time.Hour,
	}, log)
	c.sched.SetCallback(c.onTimerFired)
	return c
}

// Initialize brings the coordinator to Ready (or Degraded). It is idempotent
// and safe to call concurrently: the first caller performs setup, concurrent
// callers await the same completion. A failed attempt leaves the coordinator
// uninitialized and is safe to retry.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.initDone != nil {
		done := c.initDone
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.initErr
	}
	done := make(chan struct{})
	c.initDone = done
	c.state = StateInitializing
	wc := warming.Context{
		IsTestEnvironment:   c.cfg.IsTesting(),
		IsRecoveryFromError: c.everFailed,
		IsWarmRestart:       c.everInit,
		IsColdStart:         !c.everInit,
	}
	c.mu.Unlock()

	degraded, err := c.doInitialize(ctx, wc)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initErr = err
	close(done)
	if err != nil {
		c.initDone = nil
		c.state = StateUninitialized
		c.everFailed = true
		return err
	}
	c.everInit = true
	c.everFailed = false
	if degraded {
		c.state = StateDegraded
	} else {
		c.state = StateReady
	}
	c.log.Info().Str("state", string(c.state)).Msg("coordinator initialized")
	return nil
}

// doInitialize runs setup in the fixed order: store reachability, version
// gate, timezone detection, warming, timer arming, opportunistic sync. The
// version gate always precedes warming so content correctness precedes any
// prefetch optimization.
func (c *Coordinator) doInitialize(ctx context.Context, wc warming.Context) (degraded bool, err error) {
	if err := c.kv.HealthCheck(ctx); err != nil {
		return false, &InitError{Cause: fmt.Errorf("durable store unreachable: %w", err)}
	}

	if _, err := c.maint.EnsureVersion(ctx); err != nil {
		return false, err
	}

	_, immediate, zoneErr := c.sched.DetectZoneChange(ctx)
	if zoneErr != nil {
		degraded = true
	}

	res := c.warmer.Execute(ctx, wc)
	outcome := model.WarmingOutcome{Strategy: res.Strategy, Success: res.Success, Duration: res.Duration, Detail: res.Detail}
	c.mu.Lock()
	c.lastWarming = &outcome
	c.mu.Unlock()
	if !res.Success {
		degraded = true
	}

	if immediate {
		if err := c.triggerRefresh(ctx, triggerTimezone); err != nil {
			c.log.Warn().Err(err).Msg("immediate timezone refresh failed")
		}
	} else {
		c.sched.Arm()
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.bgCancel = cancel
	c.mu.Unlock()
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		c.maint.Run(bgCtx)
	}()

	// opportunistic replay; failures surface through diagnostics only
	c.bgWG.Add(1)
	go func() {
		defer c.bgWG.Done()
		if _, err := c.queue.Sync(bgCtx); err != nil &&
			err != syncqueue.ErrSyncInProgress && err != syncqueue.ErrClosed {
			c.log.Warn().Err(err).Msg("opportunistic sync failed")
		}
	}()

	return degraded, nil
}

// GetContent resolves content through the fallback chain. The returned kind
// tells the caller which source served the read; FallbackEmpty with a nil
// item means "no content available yet", never an error.
func (c *Coordinator) GetContent(ctx context.Context, allowStale bool) (*model.ContentItem, model.FallbackKind, error) {
	if err := c.ensureReady(); err != nil {
		return nil, model.FallbackEmpty, err
	}
	item, kind, err := c.content.Resolve(ctx, allowStale)
	if err != nil {
		return nil, model.FallbackEmpty, err
	}
	metrics.FallbacksTotal.WithLabelValues(string(kind)).Inc()
	return item, kind, nil
}

// GetHistory returns the bounded history list, newest first.
func (c *Coordinator) GetHistory(ctx context.Context) ([]model.ContentItem, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	return c.content.History(ctx)
}

// CacheContent validates and stores an item into the today slot, replacing
// any prior value for the same date.
func (c *Coordinator) CacheContent(ctx context.Context, item model.ContentItem, isFromNetwork bool) error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	if err := c.validate(item); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	item.IsFromNetwork = isFromNetwork
	if item.FetchedAt.IsZero() {
		item.FetchedAt = c.clk.Now().UTC()
	}
	return c.content.CacheToday(ctx, item)
}

func (c *Coordinator) validate(item model.ContentItem) error {
	if item.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if len(item.Payload) == 0 {
		return &ValidationError{Field: "payload", Reason: "must not be empty"}
	}
	loc := clock.Location(c.sched.Zone())
	day, err := time.ParseInLocation(model.DateLayout, item.ContentDate, loc)
	if err != nil {
		return &ValidationError{Field: "contentDate", Reason: "must be YYYY-MM-DD"}
	}
	if day.After(c.clk.Now().Add(c.cfg.ContentDateSkew)) {
		return &ValidationError{Field: "contentDate", Reason: "is in the future"}
	}
	return nil
}

// ForceRefresh runs a refresh cycle on demand. Calls within the debounce
// window after a forced refresh are no-ops, so a double-tap cannot archive
// twice.
func (c *Coordinator) ForceRefresh(ctx context.Context) error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	c.mu.Lock()
	if since := c.clk.Now().Sub(c.lastForce); since >= 0 && since < c.cfg.RefreshDebounce {
		c.mu.Unlock()
		c.log.Debug().Dur("since", since).Msg("force refresh debounced")
		return nil
	}
	c.lastForce = c.clk.Now()
	c.mu.Unlock()
	return c.triggerRefresh(ctx, triggerForced)
}

// NeedsRefresh is the side-effect-free predicate over the persisted refresh
// state and the current zone.
func (c *Coordinator) NeedsRefresh(ctx context.Context) bool {
	return c.sched.NeedsRefresh(ctx)
}

// QueueInteraction appends a user interaction to the durable offline queue
// and returns immediately; delivery happens on the next replay pass.
func (c *Coordinator) QueueInteraction(ctx context.Context, payload json.RawMessage) (*model.QueuedInteraction, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}
	return c.queue.Enqueue(ctx, payload)
}

// SyncPendingUpdates runs one replay pass. Invoked on connectivity-restored
// edges, opportunistically on Initialize, and manually by operators.
func (c *Coordinator) SyncPendingUpdates(ctx context.Context) (syncqueue.Report, error) {
	if err := c.ensureReady(); err != nil {
		return syncqueue.Report{}, err
	}
	return c.queue.Sync(ctx)
}

// InvalidateCache clears all content on demand and records the reason.
func (c *Coordinator) InvalidateCache(ctx context.Context, reason string) error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.maint.Invalidate(ctx, reason)
}

// CheckTimezone re-reads the device zone. On a change it re-arms the timer
// and, when the change crossed a day boundary the old schedule would have
// missed, refreshes immediately.
func (c *Coordinator) CheckTimezone(ctx context.Context) error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	changed, immediate, _ := c.sched.DetectZoneChange(ctx)
	if !changed {
		return nil
	}
	if immediate {
		return c.triggerRefresh(ctx, triggerTimezone)
	}
	c.sched.Arm()
	return nil
}

// Resume handles a warm restart (process foregrounded with state already in
// memory): run the lightweight warming pass, re-check the zone, and refresh
// if a day boundary passed while backgrounded.
func (c *Coordinator) Resume(ctx context.Context) error {
	if err := c.ensureReady(); err != nil {
		return err
	}
	res := c.warmer.Execute(ctx, warming.Context{
		IsTestEnvironment: c.cfg.IsTesting(),
		IsWarmRestart:     true,
	})
	outcome := model.WarmingOutcome{Strategy: res.Strategy, Success: res.Success, Duration: res.Duration, Detail: res.Detail}
	c.mu.Lock()
	c.lastWarming = &outcome
	c.mu.Unlock()

	if err := c.CheckTimezone(ctx); err != nil {
		return err
	}
	if c.NeedsRefresh(ctx) {
		return c.triggerRefresh(ctx, triggerScheduled)
	}
	return nil
}

// Diagnostics reports the observable state of the subsystem.
func (c *Coordinator) Diagnostics(ctx context.Context) model.Diagnostics {
	c.mu.Lock()
	state := c.state
	lastWarming := c.lastWarming
	c.mu.Unlock()

	d := model.Diagnostics{
		State:                string(state),
		CacheVersion:         c.maint.Version(ctx),
		Timezone:             c.sched.Zone().Identifier,
		LastRefreshAt:        c.sched.LastRefreshAt(ctx),
		LastTimezoneChangeAt: c.sched.LastZoneChangeAt(),
		NextRefreshAt:        c.sched.NextArmedAt(),
		LastInvalidation:     c.maint.LastInvalidation(ctx),
		LastWarming:          lastWarming,
	}
	if pending, err := c.queue.Pending(ctx); err == nil {
		d.QueueLength = len(pending)
	}
	if dead, err := c.queue.DeadLetter(ctx); err == nil {
		d.DeadLetterLength = len(dead)
	}
	return d
}

// Dispose cancels the refresh timer and background loops and closes the
// queue. Safe to call multiple times; an in-flight replay pass finishes its
// current item and then stops.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.state == StateDisposed {
		c.mu.Unlock()
		return
	}
	c.state = StateDisposed
	cancel := c.bgCancel
	c.mu.Unlock()

	c.sched.Stop()
	c.queue.Close()
	if cancel != nil {
		cancel()
	}
	c.bgWG.Wait()
	c.log.Info().Msg("coordinator disposed")
}

// triggerRefresh runs one refresh cycle: archive today into previousDay,
// clear today, record the refresh instant, re-arm the timer, and (when a
// fetcher is wired) try to pull fresh content. Archiving happens-before the
// today slot is cleared inside ArchiveToday.
func (c *Coordinator) triggerRefresh(ctx context.Context, trigger string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.content.ArchiveToday(ctx); err != nil {
		return fmt.Errorf("refresh archive: %w", err)
	}
	if err := c.sched.MarkRefreshed(ctx, c.clk.Now()); err != nil {
		return fmt.Errorf("record refresh: %w", err)
	}
	metrics.RefreshesTotal.WithLabelValues(trigger).Inc()
	c.sched.Arm()
	c.log.Info().Str("trigger", trigger).Msg("refresh cycle completed")

	if c.fetcher == nil {
		return nil
	}
	fetched, err := c.fetcher.FetchToday(ctx)
	if err != nil {
		if trigger == triggerForced {
			return fmt.Errorf("refresh fetch: %w", err)
		}
		c.log.Warn().Err(err).Str("trigger", trigger).Msg("refresh fetch failed, serving fallback content")
		return nil
	}
	if fetched == nil {
		return nil
	}
	return c.content.CacheToday(ctx, *fetched)
}

// onTimerFired is the scheduler callback; it runs a scheduled refresh cycle.
func (c *Coordinator) onTimerFired() {
	if err := c.ensureReady(); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := c.triggerRefresh(ctx, triggerScheduled); err != nil {
		c.log.Error().Err(err).Msg("scheduled refresh failed")
	}
}

func (c *Coordinator) ensureReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady, StateDegraded:
		return nil
	case StateDisposed:
		return ErrDisposed
	default:
		return ErrNotInitialized
	}
}

// Store exposes the content store for the HTTP layer's history-by-date read.
func (c *Coordinator) Store() *content.Store { return c.content }
