package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beewell/todayfeed/internal/config"
	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/kv/kvtest"
	"github.com/beewell/todayfeed/internal/maintenance"
	"github.com/beewell/todayfeed/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeClock) CurrentZone() (model.TimezoneSnapshot, error) {
	return model.TimezoneSnapshot{Identifier: "UTC", ObservedAt: f.Now()}, nil
}

type fakeDeliverer struct {
	mu   sync.Mutex
	seen []string
	err  error
}

func (d *fakeDeliverer) Deliver(_ context.Context, payload json.RawMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.seen = append(d.seen, string(payload))
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:         config.EnvDevelopment,
		RefreshHour:         3,
		RefreshMinute:       0,
		HistoryLimit:        7,
		MaxCacheBytes:       3 << 20,
		MaxEntryAge:         14,
		MaxDeliveryAttempts: 5,
		MaintenanceInterval: time.Hour,
		RefreshDebounce:     5 * time.Second,
		ContentDateSkew:     15 * time.Minute,
	}
}

func newTestCoordinator(t *testing.T, fake *kvtest.Store) (*Coordinator, *fakeClock, *fakeDeliverer) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 6, 15, 8, 0, 0, 0, time.UTC)}
	del := &fakeDeliverer{}
	c := New(testConfig(), fake, clk, del, nil, zerolog.Nop())
	t.Cleanup(c.Dispose)
	return c, clk, del
}

func item(id, date string) model.ContentItem {
	return model.ContentItem{ID: id, ContentDate: date, Payload: json.RawMessage(`{"title":"` + id + `"}`)}
}

func TestOperationsRequireInitialize(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()

	_, _, err := c.GetContent(ctx, false)
	require.ErrorIs(t, err, ErrNotInitialized)
	err = c.CacheContent(ctx, item("a", "2026-06-15"), false)
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.QueueInteraction(ctx, json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitializeReachesReady(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))

	d := c.Diagnostics(ctx)
	assert.Equal(t, string(StateReady), d.State)
	assert.Equal(t, maintenance.CurrentVersion, d.CacheVersion)
	assert.Equal(t, "UTC", d.Timezone)
	require.NotNil(t, d.LastWarming)
	assert.Equal(t, "cold", d.LastWarming.Strategy)
	assert.True(t, d.LastWarming.Success)
	require.NotNil(t, d.NextRefreshAt, "a refresh timer must be armed")
}

func TestInitializeIsIdempotent(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.Initialize(ctx))
}

func TestConcurrentInitializeRunsSetupOnce(t *testing.T) {
	fake := kvtest.New()
	var versionReads atomic.Int64
	fake.FailGet = func(key string) error {
		if key == kv.KeyCacheVersion {
			versionReads.Add(1)
		}
		return nil
	}
	c, _, _ := newTestCoordinator(t, fake)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Initialize(context.Background())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "caller %d", i)
	}
	// the version gate ran exactly once; every other caller awaited it
	assert.Equal(t, int64(1), versionReads.Load())
}

func TestInitializeFailureIsRetryable(t *testing.T) {
	fake := kvtest.New()
	fake.FailHealth = errors.New("database locked")
	c, _, _ := newTestCoordinator(t, fake)
	ctx := context.Background()

	err := c.Initialize(ctx)
	require.ErrorIs(t, err, ErrInitialization)

	_, _, err = c.GetContent(ctx, false)
	require.ErrorIs(t, err, ErrNotInitialized)

	fake.FailHealth = nil
	require.NoError(t, c.Initialize(ctx))

	d := c.Diagnostics(ctx)
	assert.Equal(t, string(StateReady), d.State)
	// a failed attempt selects the recovery strategy on the retry
	require.NotNil(t, d.LastWarming)
	assert.Equal(t, "recovery", d.LastWarming.Strategy)
}

func TestInitializeMigratesOutdatedStore(t *testing.T) {
	fake := kvtest.New()
	ctx := context.Background()
	require.NoError(t, fake.Set(ctx, kv.KeyCacheVersion, []byte("1")))
	for _, key := range kv.ContentKeys() {
		require.NoError(t, fake.Set(ctx, key, []byte(`"stale"`)))
	}

	c, _, _ := newTestCoordinator(t, fake)
	require.NoError(t, c.Initialize(ctx))

	for _, key := range kv.ContentKeys() {
		assert.False(t, fake.Has(key), "key %s must be cleared by migration", key)
	}
	assert.Equal(t, maintenance.CurrentVersion, c.Diagnostics(ctx).CacheVersion)
}

func TestCacheAndGetContent(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.CacheContent(ctx, item("a", "2026-06-15"), true))

	got, kind, err := c.GetContent(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, model.FallbackNone, kind)
	assert.True(t, got.IsFromNetwork)
	assert.False(t, got.FetchedAt.IsZero())
}

func TestGetContentEmptyIsNotAnError(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	got, kind, err := c.GetContent(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, model.FallbackEmpty, kind)
}

func TestCacheContentValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	cases := []struct {
		name  string
		item  model.ContentItem
		field string
	}{
		{"empty id", item("", "2026-06-15"), "id"},
		{"empty payload", model.ContentItem{ID: "a", ContentDate: "2026-06-15"}, "payload"},
		{"malformed date", item("a", "15/06/2026"), "contentDate"},
		{"future date", item("a", "2026-06-17"), "contentDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.CacheContent(ctx, tc.item, false)
			require.ErrorIs(t, err, ErrValidation)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestForceRefreshDebounce(t *testing.T) {
	c, clk, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.CacheContent(ctx, item("a", "2026-06-15"), false))
	require.NoError(t, c.ForceRefresh(ctx))

	prev, err := c.Store().PreviousDay(ctx)
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "a", prev.ID)

	// new content lands, then a second tap inside the debounce window:
	// the refresh must not run again and must not archive the new item
	require.NoError(t, c.CacheContent(ctx, item("b", "2026-06-15"), false))
	clk.Advance(2 * time.Second)
	require.NoError(t, c.ForceRefresh(ctx))

	got, kind, err := c.GetContent(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ID)
	assert.Equal(t, model.FallbackNone, kind)
	prev, err = c.Store().PreviousDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", prev.ID, "debounced refresh must not archive")

	// outside the window the refresh runs for real
	clk.Advance(10 * time.Second)
	require.NoError(t, c.ForceRefresh(ctx))
	prev, err = c.Store().PreviousDay(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", prev.ID)
}

func TestRefreshArchivesIntoFallbackChain(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.CacheContent(ctx, item("a", "2026-06-15"), false))
	require.NoError(t, c.ForceRefresh(ctx))

	// today slot is now empty, reads fall back to the archived item
	got, kind, err := c.GetContent(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, model.FallbackPreviousDay, kind)

	hist, err := c.GetHistory(ctx)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "a", hist[0].ID)

	d := c.Diagnostics(ctx)
	require.NotNil(t, d.LastRefreshAt)
}

func TestQueueInteractionAndSync(t *testing.T) {
	c, _, del := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	first, err := c.QueueInteraction(ctx, json.RawMessage(`{"kind":"mood","value":4}`))
	require.NoError(t, err)
	second, err := c.QueueInteraction(ctx, json.RawMessage(`{"kind":"note"}`))
	require.NoError(t, err)
	assert.Greater(t, second.SequenceNumber, first.SequenceNumber)

	rep, err := c.SyncPendingUpdates(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, []string{`{"kind":"mood","value":4}`, `{"kind":"note"}`}, del.seen)
	assert.Equal(t, 0, c.Diagnostics(ctx).QueueLength)
}

func TestInvalidateCacheRecordsReason(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.CacheContent(ctx, item("a", "2026-06-15"), false))
	require.NoError(t, c.InvalidateCache(ctx, "schema drift"))

	got, kind, err := c.GetContent(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, model.FallbackEmpty, kind)

	d := c.Diagnostics(ctx)
	require.NotNil(t, d.LastInvalidation)
	assert.Equal(t, "schema drift", d.LastInvalidation.Reason)
}

func TestResumeRunsWarmPass(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	require.NoError(t, c.Resume(ctx))

	d := c.Diagnostics(ctx)
	require.NotNil(t, d.LastWarming)
	assert.Equal(t, "warm", d.LastWarming.Strategy)
	require.NotNil(t, d.LastRefreshAt, "first resume must refresh, nothing was ever refreshed")
}

func TestDisposeIsIdempotentAndTerminal(t *testing.T) {
	c, _, _ := newTestCoordinator(t, kvtest.New())
	ctx := context.Background()
	require.NoError(t, c.Initialize(ctx))

	c.Dispose()
	c.Dispose()

	_, _, err := c.GetContent(ctx, false)
	require.ErrorIs(t, err, ErrDisposed)
	err = c.Initialize(ctx)
	require.ErrorIs(t, err, ErrDisposed)
	_, err = c.SyncPendingUpdates(ctx)
	require.ErrorIs(t, err, ErrDisposed)
}
