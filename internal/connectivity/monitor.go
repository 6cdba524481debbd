// Package connectivity watches the network and fires a callback on the
// offline→online edge, which is what triggers queue replay.
package connectivity

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Probe answers whether the network currently looks reachable.
type Probe interface {
	Check(ctx context.Context) bool
}

// HTTPProbe considers the network up when a HEAD request to the endpoint
// completes, regardless of status code.
type HTTPProbe struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPProbe(endpoint string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{client: resty.New().SetTimeout(timeout), endpoint: endpoint}
}

func (p *HTTPProbe) Check(ctx context.Context) bool {
	resp, err := p.client.R().SetContext(ctx).Head(p.endpoint)
	if err != nil {
		return false
	}
	return resp.StatusCode() != http.StatusServiceUnavailable
}

// Monitor polls a probe and invokes the registered callback on each
// offline→online transition.
type Monitor struct {
	probe    Probe
	interval time.Duration
	log      zerolog.Logger
	online   atomic.Bool
	onOnline func(ctx context.Context)
}

func NewMonitor(probe Probe, interval time.Duration, log zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		log:      log.With().Str("component", "connectivity").Logger(),
	}
}

// OnOnline registers the edge callback. Must be called before Run.
func (m *Monitor) OnOnline(fn func(ctx context.Context)) { m.onOnline = fn }

// IsOnline returns the last observed state.
func (m *Monitor) IsOnline() bool { return m.online.Load() }

// Run polls until ctx is canceled, logging transitions and firing the
// callback on every offline→online edge.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.evaluate(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.evaluate(ctx)
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context) {
	up := m.probe.Check(ctx)
	was := m.online.Swap(up)
	if up == was {
		return
	}
	if up {
		m.log.Info().Msg("connectivity: ONLINE")
		if m.onOnline != nil {
			m.onOnline(ctx)
		}
	} else {
		m.log.Warn().Msg("connectivity: OFFLINE")
	}
}
