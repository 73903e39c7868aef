package scraper

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arashpr/go-scrape-audiobooks/config"
	"github.com/jarcoal/httpmock"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Throttle.MinMs = 0
	cfg.Throttle.MaxMs = 0
	cfg.HTTP.MaxRetries = 2
	cfg.HTTP.RetryBackoffMs = 100
	cfg.HTTP.RetryBackoffCapMs = 1000
	return cfg
}

func TestThrottleWithinBounds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Throttle.MinMs = 100
	cfg.Throttle.MaxMs = 300

	var slept []time.Duration
	f := NewFetcher(cfg, NewMetrics(), WithSleep(func(d time.Duration) {
		slept = append(slept, d)
	}))

	min := cfg.Throttle.Min()
	max := cfg.Throttle.Max()
	for i := 0; i < 100; i++ {
		d := f.Throttle()
		if d < min || d > max {
			t.Fatalf("throttle %d: delay %v outside [%v, %v]", i, d, min, max)
		}
	}
	if len(slept) != 100 {
		t.Fatalf("sleeps recorded = %d, want 100", len(slept))
	}
}

func TestThrottleZeroBoundsSkipsSleep(t *testing.T) {
	cfg := testConfig()
	f := NewFetcher(cfg, NewMetrics(), WithSleep(func(time.Duration) {
		t.Fatalf("should not sleep with zero bounds")
	}))
	if d := f.Throttle(); d != 0 {
		t.Fatalf("delay=%v, want 0", d)
	}
}

func TestGetRetriesTransientFailures(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()

	var calls int64
	transport.RegisterResponder("GET", "http://example.test/page", func(req *http.Request) (*http.Response, error) {
		if atomic.AddInt64(&calls, 1) < 3 {
			return httpmock.NewStringResponse(http.StatusInternalServerError, "boom"), nil
		}
		return httpmock.NewStringResponse(http.StatusOK, "payload"), nil
	})

	f := NewFetcher(cfg, NewMetrics(),
		WithTransport(transport),
		WithSleep(func(time.Duration) {}),
	)

	body, err := f.Get(context.Background(), "http://example.test/page", "detail")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(body) != "payload" {
		t.Fatalf("body=%q", body)
	}
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestGetExhaustsRetries(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/page",
		httpmock.NewStringResponder(http.StatusBadGateway, ""))

	f := NewFetcher(cfg, NewMetrics(),
		WithTransport(transport),
		WithSleep(func(time.Duration) {}),
	)

	_, err := f.Get(context.Background(), "http://example.test/page", "detail")
	var fetchErr FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusBadGateway {
		t.Fatalf("status=%d, want 502", fetchErr.Status)
	}
	if fetchErr.URL != "http://example.test/page" {
		t.Fatalf("url=%q", fetchErr.URL)
	}
	info := transport.GetCallCountInfo()
	if got := info["GET http://example.test/page"]; got != cfg.HTTP.MaxRetries+1 {
		t.Fatalf("calls=%d, want %d", got, cfg.HTTP.MaxRetries+1)
	}
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "http://example.test/missing",
		httpmock.NewStringResponder(http.StatusNotFound, ""))

	f := NewFetcher(cfg, NewMetrics(),
		WithTransport(transport),
		WithSleep(func(time.Duration) {}),
	)

	_, err := f.Get(context.Background(), "http://example.test/missing", "detail")
	var fetchErr FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Status != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", fetchErr.Status)
	}
	info := transport.GetCallCountInfo()
	if got := info["GET http://example.test/missing"]; got != 1 {
		t.Fatalf("calls=%d, want 1 (no retry on 404)", got)
	}
}

func TestGetHonorsCancelledContext(t *testing.T) {
	cfg := testConfig()
	f := NewFetcher(cfg, NewMetrics(), WithSleep(func(time.Duration) {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx, "http://example.test/page", "detail")
	var fetchErr FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped context.Canceled, got %v", err)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.RetryBackoffMs = 200
	cfg.HTTP.RetryBackoffCapMs = 500

	f := NewFetcher(cfg, NewMetrics(), WithRand(func() float64 { return 0 }))

	if got := f.backoffDelay(1); got != 200*time.Millisecond {
		t.Fatalf("attempt 1 delay=%v, want 200ms", got)
	}
	if got := f.backoffDelay(2); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 delay=%v, want 400ms", got)
	}
	if got := f.backoffDelay(4); got != 500*time.Millisecond {
		t.Fatalf("attempt 4 delay=%v, want capped 500ms", got)
	}
}

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{0, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusForbidden, true},
		{http.StatusRequestTimeout, true},
		{http.StatusNotFound, false},
		{http.StatusOK, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		if got := retryableStatus(tt.status); got != tt.retryable {
			t.Errorf("retryableStatus(%d) = %v, want %v", tt.status, got, tt.retryable)
		}
	}
}
