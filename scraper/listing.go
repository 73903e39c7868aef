package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/arashpr/go-scrape-audiobooks/config"
	"github.com/arashpr/go-scrape-audiobooks/models"
	"github.com/gocolly/colly/v2"
)

var detailIDPattern = regexp.MustCompile(`[?&]g=(\d+)`)

// ListingCrawler walks the paginated catalog listing and collects
// audiobook ids and detail URLs. Pages are visited strictly one at a
// time; the collector's limit rule supplies the randomized delay.
type ListingCrawler struct {
	cfg       *config.Config
	collector *colly.Collector
	metrics   *Metrics
	sleep     func(time.Duration)

	pageEntries []models.ListingEntry
	anchorsSeen int
	lastStatus  int
}

// ListingOption configures a ListingCrawler.
type ListingOption func(*ListingCrawler)

// WithListingSleep replaces the retry sleep function.
func WithListingSleep(fn func(time.Duration)) ListingOption {
	return func(lc *ListingCrawler) {
		lc.sleep = fn
	}
}

// NewListingCrawler builds a crawler for the configured listing template.
func NewListingCrawler(cfg *config.Config, metrics *Metrics, opts ...ListingOption) (*ListingCrawler, error) {
	first, err := url.Parse(cfg.ListingURL(1))
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if first.Host == "" {
		return nil, fmt.Errorf("listing url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.HTTP.UserAgent),
	)
	collector.SetRequestTimeout(cfg.HTTP.Timeout())
	collector.IgnoreRobotsTxt = true
	// Failed pages are re-visited by the retry loop.
	collector.AllowURLRevisit = true
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Throttle.Min(),
		RandomDelay: cfg.Throttle.Max() - cfg.Throttle.Min(),
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	lc := &ListingCrawler{
		cfg:       cfg,
		collector: collector,
		metrics:   metrics,
		sleep:     time.Sleep,
	}
	lc.registerHandlers()

	for _, opt := range opts {
		opt(lc)
	}
	return lc, nil
}

// Collector exposes the underlying collector so callers can swap its
// transport.
func (lc *ListingCrawler) Collector() *colly.Collector {
	return lc.collector
}

func (lc *ListingCrawler) registerHandlers() {
	lc.collector.OnRequest(func(r *colly.Request) {
		lc.metrics.IncRequest("listing")
	})

	lc.collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			lc.lastStatus = r.StatusCode
		}
	})

	lc.collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		lc.anchorsSeen++
		href := e.Attr("href")
		if !strings.Contains(href, "DetailsAlbum") {
			return
		}
		m := detailIDPattern.FindStringSubmatch(href)
		if m == nil {
			return
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		lc.pageEntries = append(lc.pageEntries, models.ListingEntry{
			ID:        id,
			SourceURL: e.Request.AbsoluteURL(href),
		})
	})
}

// Crawl visits listing pages 1..Pages, stopping early when a page yields
// no entries. Entries already collected survive a mid-crawl failure.
func (lc *ListingCrawler) Crawl(ctx context.Context) (*models.CrawlResult, error) {
	result := &models.CrawlResult{}
	seen := make(map[int]struct{})

	for page := 1; page <= lc.cfg.Pages; page++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pageURL := lc.cfg.ListingURL(page)
		lc.pageEntries = nil
		lc.anchorsSeen = 0
		lc.lastStatus = 0

		if err := lc.visitWithRetry(ctx, pageURL); err != nil {
			return result, err
		}
		result.PagesSeen++

		if lc.anchorsSeen == 0 {
			return result, ParseError{URL: pageURL, Err: fmt.Errorf("no anchors on listing page %d", page)}
		}
		if len(lc.pageEntries) == 0 {
			slog.Info("listing exhausted", slog.Int("page", page))
			break
		}

		added := 0
		for _, entry := range lc.pageEntries {
			if _, ok := seen[entry.ID]; ok {
				result.Duplicates++
				continue
			}
			seen[entry.ID] = struct{}{}
			result.Entries = append(result.Entries, entry)
			added++
		}
		slog.Info("listing page parsed",
			slog.Int("page", page),
			slog.Int("entries", added),
			slog.Int("duplicates", len(lc.pageEntries)-added),
		)
	}

	slog.Info("listing crawl finished",
		slog.Int("pages", result.PagesSeen),
		slog.Int("entries", len(result.Entries)),
	)
	return result, nil
}

func (lc *ListingCrawler) visitWithRetry(ctx context.Context, pageURL string) error {
	attempts := lc.cfg.HTTP.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return FetchError{URL: pageURL, Err: err}
		}
		if attempt > 1 {
			lc.metrics.IncRetries()
			delay := listingBackoff(lc.cfg, attempt-1)
			slog.Warn("retrying listing page",
				slog.String("url", pageURL),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
			)
			lc.sleep(delay)
		}

		lc.lastStatus = 0
		err := lc.collector.Visit(pageURL)
		lc.collector.Wait()
		if err == nil {
			return nil
		}
		lastErr = err

		if lc.lastStatus != 0 && !retryableStatus(lc.lastStatus) {
			break
		}
	}

	return FetchError{URL: pageURL, Status: lc.lastStatus, Err: lastErr}
}

func listingBackoff(cfg *config.Config, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := cfg.HTTP.RetryBackoff()
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	delay := base * time.Duration(1<<(attempt-1))
	if cap := cfg.HTTP.RetryBackoffCap(); cap > 0 && delay > cap {
		delay = cap
	}
	return delay
}
