package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dcabot/internal/metrics"
)

// Options tunes a venue client. Zero values fall back to the venue defaults.
type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	Limiter      *rate.Limiter
	RecvWindowMs int64
	Now          func() time.Time
}

type transport struct {
	venue   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func newTransport(venue, fallbackURL string, opts Options) transport {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = fallbackURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return transport{venue: venue, baseURL: base, http: hc, limiter: opts.Limiter, now: now}
}

func (t transport) send(ctx context.Context, method, pathAndQuery string, body []byte, headers map[string]string) (raw []byte, hdr http.Header, err error) {
	defer func() {
		metrics.ExchangeRequests.WithLabelValues(t.venue, method, metrics.Result(err)).Inc()
	}()
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, nil, err
		}
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+pathAndQuery, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s request failed: %w", t.venue, err)
	}
	defer resp.Body.Close()
	raw, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.Header, &APIError{Venue: t.venue, Status: resp.StatusCode, Body: string(raw)}
	}
	return raw, resp.Header, nil
}
