package scraper

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/arashpr/go-scrape-audiobooks/config"
)

// Fetcher issues sequential HTTP GETs with a randomized pre-request delay
// and bounded retry. It is not safe for concurrent use; the pipeline is
// deliberately single-threaded.
type Fetcher struct {
	cfg     *config.Config
	client  *http.Client
	metrics *Metrics

	sleep func(time.Duration)
	randF func() float64
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithSleep replaces the sleep function. Tests inject a recorder here so
// throttle and backoff run without real delays.
func WithSleep(fn func(time.Duration)) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = fn
	}
}

// WithRand replaces the uniform random source in [0,1).
func WithRand(fn func() float64) FetcherOption {
	return func(f *Fetcher) {
		f.randF = fn
	}
}

// WithTransport replaces the HTTP transport. Tests install httpmock here.
func WithTransport(rt http.RoundTripper) FetcherOption {
	return func(f *Fetcher) {
		f.client.Transport = rt
	}
}

// NewFetcher builds a fetcher configured from cfg.
func NewFetcher(cfg *config.Config, metrics *Metrics, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.HTTP.Timeout(),
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   cfg.HTTP.Timeout(),
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		metrics: metrics,
		sleep:   time.Sleep,
		randF:   rand.Float64,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Throttle sleeps a uniformly random duration within the configured
// bounds and returns the chosen delay.
func (f *Fetcher) Throttle() time.Duration {
	min := f.cfg.Throttle.Min()
	max := f.cfg.Throttle.Max()
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(f.randF() * float64(span))
	}
	if d > 0 {
		f.sleep(d)
	}
	f.metrics.AddThrottle(d)
	return d
}

// Get fetches a URL, throttling first and retrying transient failures
// with capped exponential backoff. On exhaustion it returns a FetchError
// carrying the URL and last status.
func (f *Fetcher) Get(ctx context.Context, url, phase string) ([]byte, error) {
	f.Throttle()

	attempts := f.cfg.HTTP.MaxRetries + 1
	var lastStatus int
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, FetchError{URL: url, Err: err}
		}
		if attempt > 1 {
			f.metrics.IncRetries()
			delay := f.backoffDelay(attempt - 1)
			slog.Warn("retrying fetch",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
			)
			f.sleep(delay)
		}

		body, status, err := f.do(ctx, url, phase)
		if err == nil && status == http.StatusOK {
			return body, nil
		}
		lastStatus = status
		lastErr = err

		if !retryableStatus(status) && err == nil {
			break
		}
	}

	return nil, FetchError{URL: url, Status: lastStatus, Err: lastErr}
}

func (f *Fetcher) do(ctx context.Context, url, phase string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", f.cfg.HTTP.UserAgent)
	req.Header.Set("Accept-Language", "fa,en;q=0.8")

	f.metrics.IncRequest(phase)
	start := time.Now()
	resp, err := f.client.Do(req)
	f.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// backoffDelay doubles the base delay per attempt, capped, with a small
// random jitter.
func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := f.cfg.HTTP.RetryBackoff()
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if cap := f.cfg.HTTP.RetryBackoffCap(); cap > 0 && delay > cap {
		delay = cap
	}
	jitter := time.Duration(f.randF() * float64(delay) * 0.2)
	return delay + jitter
}

// retryableStatus reports whether a response status (or transport
// failure, status 0) warrants another attempt.
func retryableStatus(status int) bool {
	switch {
	case status == 0:
		return true
	case status >= 500:
		return true
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden,
		status == http.StatusRequestTimeout:
		return true
	}
	return false
}
