package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/kv/kvtest"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStoreCheckerTracksStoreHealth(t *testing.T) {
	fake := kvtest.New()
	c := NewStoreChecker(fake, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx, 10*time.Millisecond)

	waitFor(t, c.IsHealthy, "checker never became healthy")

	fake.SetFailHealth(errors.New("database locked"))
	waitFor(t, func() bool { return !c.IsHealthy() }, "checker never observed the failure")

	fake.SetFailHealth(nil)
	waitFor(t, c.IsHealthy, "checker never recovered")
}

type stubChecker struct{ healthy atomic.Bool }

func (s *stubChecker) Name() string                         { return "stub" }
func (s *stubChecker) IsHealthy() bool                      { return s.healthy.Load() }
func (s *stubChecker) Start(context.Context, time.Duration) {}

func TestServiceHealthAggregatesDependencies(t *testing.T) {
	dep := &stubChecker{}
	dep.healthy.Store(true)
	svc := NewServiceHealthChecker(zerolog.Nop(), dep)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx, 10*time.Millisecond)

	waitFor(t, svc.IsHealthy, "service never became healthy")

	dep.healthy.Store(false)
	waitFor(t, func() bool { return !svc.IsHealthy() }, "service ignored unhealthy dependency")
}
