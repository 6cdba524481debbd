// Package delivery implements the network collaborators the cache talks to:
// interaction delivery for queue replay and the daily content fetch.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/beewell/todayfeed/internal/model"
)

// HTTPDeliverer posts interaction payloads to the sync endpoint. Transient
// transport errors are retried with exponential backoff inside a single
// Deliver call; HTTP 4xx responses are permanent failures.
type HTTPDeliverer struct {
	client   *resty.Client
	endpoint string
	log      zerolog.Logger
}

// NewHTTPDeliverer builds a deliverer for the given endpoint. timeout bounds
// each HTTP attempt.
func NewHTTPDeliverer(endpoint string, timeout time.Duration, log zerolog.Logger) *HTTPDeliverer {
	client := resty.New().SetTimeout(timeout)
	return &HTTPDeliverer{
		client:   client,
		endpoint: endpoint,
		log:      log.With().Str("component", "delivery").Logger(),
	}
}

// Deliver sends one payload. A nil return is the positive acknowledgment the
// queue requires before removing an item.
func (d *HTTPDeliverer) Deliver(ctx context.Context, payload json.RawMessage) error {
	policy := backoff.WithContext(newPolicy(), ctx)
	return backoff.Retry(func() error {
		resp, err := d.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody([]byte(payload)).
			Post(d.endpoint)
		if err != nil {
			return err
		}
		code := resp.StatusCode()
		switch {
		case code >= 200 && code < 300:
			return nil
		case code >= 400 && code < 500:
			return backoff.Permanent(fmt.Errorf("delivery rejected: %s", resp.Status()))
		default:
			return fmt.Errorf("delivery failed: %s", resp.Status())
		}
	}, policy)
}

// Fetcher retrieves today's content from the fetch endpoint.
type Fetcher struct {
	client   *resty.Client
	endpoint string
	log      zerolog.Logger
}

func NewFetcher(endpoint string, timeout time.Duration, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:   resty.New().SetTimeout(timeout),
		endpoint: endpoint,
		log:      log.With().Str("component", "fetch").Logger(),
	}
}

// FetchToday requests the current daily content. Returns nil without error
// when the server has nothing for today yet (204).
func (f *Fetcher) FetchToday(ctx context.Context) (*model.ContentItem, error) {
	var item model.ContentItem
	resp, err := f.client.R().
		SetContext(ctx).
		SetResult(&item).
		Get(f.endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch today: %w", err)
	}
	switch resp.StatusCode() {
	case 200:
		item.IsFromNetwork = true
		return &item, nil
	case 204:
		return nil, nil
	default:
		return nil, fmt.Errorf("fetch today: %s", resp.Status())
	}
}

func newPolicy() backoff.BackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = 200 * time.Millisecond
	p.MaxInterval = 2 * time.Second
	p.MaxElapsedTime = 8 * time.Second
	return p
}
