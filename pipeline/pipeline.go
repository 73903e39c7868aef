// Package pipeline orchestrates the crawl-and-enrich flow and owns all
// output files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arashpr/go-scrape-audiobooks/config"
	"github.com/arashpr/go-scrape-audiobooks/models"
	"github.com/arashpr/go-scrape-audiobooks/parser"
	"github.com/arashpr/go-scrape-audiobooks/scraper"
)

// Pipeline processes items strictly one at a time: listed, detailed,
// media-resolved, written. A per-item failure is logged and recorded;
// only a WriteError aborts the run.
type Pipeline struct {
	cfg     *config.Config
	metrics *scraper.Metrics
	fetcher *scraper.Fetcher
	listing *scraper.ListingCrawler
	media   *scraper.MediaResolver
	cache   *scraper.PageCache
}

// Option configures a Pipeline. Tests use these to inject components
// with mock transports.
type Option func(*Pipeline)

// WithFetcher replaces the detail/API fetcher.
func WithFetcher(f *scraper.Fetcher) Option {
	return func(p *Pipeline) {
		p.fetcher = f
	}
}

// WithListingCrawler replaces the listing crawler.
func WithListingCrawler(lc *scraper.ListingCrawler) Option {
	return func(p *Pipeline) {
		p.listing = lc
	}
}

// WithCache replaces the detail-page cache.
func WithCache(c *scraper.PageCache) Option {
	return func(p *Pipeline) {
		p.cache = c
	}
}

// New builds a pipeline from configuration, constructing any component
// not supplied via options.
func New(cfg *config.Config, metrics *scraper.Metrics, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg, metrics: metrics}
	for _, opt := range opts {
		opt(p)
	}

	if p.fetcher == nil {
		p.fetcher = scraper.NewFetcher(cfg, metrics)
	}
	if p.listing == nil {
		lc, err := scraper.NewListingCrawler(cfg, metrics)
		if err != nil {
			return nil, err
		}
		p.listing = lc
	}
	if p.media == nil {
		p.media = scraper.NewMediaResolver(cfg, p.fetcher)
	}
	if p.cache == nil && cfg.Cache.Enabled {
		c, err := scraper.NewPageCache(cfg.Cache.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("build page cache: %w", err)
		}
		p.cache = c
	}
	return p, nil
}

// Crawl runs the listing phase and writes the ids CSV. A ParseError on a
// later page is returned after entries from prior pages were written.
func (p *Pipeline) Crawl(ctx context.Context) (*models.CrawlResult, error) {
	result, crawlErr := p.listing.Crawl(ctx)

	if len(result.Entries) > 0 || crawlErr == nil {
		if err := WriteListing(p.cfg.Outputs.IDsCSV, result.Entries); err != nil {
			return result, err
		}
		slog.Info("listing written",
			slog.String("path", p.cfg.Outputs.IDsCSV),
			slog.Int("entries", len(result.Entries)),
		)
	}
	return result, crawlErr
}

// Enrich reads the ids CSV and produces the final table.
func (p *Pipeline) Enrich(ctx context.Context) (*models.EnrichStats, error) {
	entries, err := ReadListing(p.cfg.Outputs.IDsCSV)
	if err != nil {
		return nil, err
	}
	return p.enrichEntries(ctx, entries)
}

// Run is the single-pass mode: crawl listing pages in memory, then
// enrich each entry immediately, skipping the intermediate file.
func (p *Pipeline) Run(ctx context.Context) (*models.EnrichStats, error) {
	result, crawlErr := p.listing.Crawl(ctx)
	if crawlErr != nil {
		var parseErr scraper.ParseError
		if !errors.As(crawlErr, &parseErr) || len(result.Entries) == 0 {
			return nil, crawlErr
		}
		// Layout change mid-crawl: enrich what was collected.
		slog.Warn("listing crawl incomplete, continuing with collected entries",
			slog.Int("entries", len(result.Entries)),
			slog.Any("error", crawlErr),
		)
	}
	return p.enrichEntries(ctx, result.Entries)
}

func (p *Pipeline) enrichEntries(ctx context.Context, entries []models.ListingEntry) (*models.EnrichStats, error) {
	writer, err := NewRecordWriter(p.cfg.Outputs.BooksCSV, p.cfg.Outputs.JSONL)
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	if loaded, err := writer.LoadExisting(); err != nil {
		slog.Warn("existing output unreadable, starting fresh", slog.Any("error", err))
	} else if loaded > 0 {
		slog.Info("resuming previous run", slog.Int("rows", loaded))
	}

	errWriter, err := NewErrorWriter(p.cfg.Outputs.ErrorsCSV)
	if err != nil {
		return nil, err
	}
	defer errWriter.Close()

	stats := &models.EnrichStats{Total: len(entries)}
	for i, entry := range entries {
		// An interrupt stops between items; the current item always
		// completes its atomic write.
		if ctx.Err() != nil {
			slog.Info("interrupted, stopping after current item",
				slog.Int("processed", i),
				slog.Int("total", len(entries)),
			)
			break
		}

		if writer.Has(entry.SourceURL) {
			stats.Resumed++
			p.metrics.IncItem("resumed")
			continue
		}

		rec, skipped, err := p.enrichOne(ctx, entry)
		switch {
		case err != nil:
			stats.Failed++
			p.metrics.IncItem("failed")
			p.metrics.IncError(scraper.ErrorTypeLabel(err))
			slog.Error("item failed",
				slog.Int("id", entry.ID),
				slog.String("url", entry.SourceURL),
				slog.Any("error", err),
			)
			if werr := errWriter.Append(models.ItemError{ID: entry.ID, URL: entry.SourceURL, Err: err.Error()}); werr != nil {
				return stats, werr
			}
		case skipped:
			stats.Skipped++
			p.metrics.IncItem("skipped")
			slog.Info("item skipped, no MP3 passes filters", slog.Int("id", entry.ID))
		default:
			if err := writer.Append(rec); err != nil {
				// No safe output target: fatal for the run.
				return stats, err
			}
			stats.Succeeded++
			p.metrics.IncItem("succeeded")
			slog.Info("item written",
				slog.Int("id", rec.ID),
				slog.String("title", truncate(rec.Title, 40)),
				slog.Int("item", i+1),
				slog.Int("total", len(entries)),
			)
		}
	}

	slog.Info("enrich finished",
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("resumed", stats.Resumed),
		slog.Int("total", stats.Total),
	)
	return stats, nil
}

// enrichOne walks one item through detail extraction and media
// resolution. Media failures degrade to empty media fields rather than
// failing the record.
func (p *Pipeline) enrichOne(ctx context.Context, entry models.ListingEntry) (*models.BookRecord, bool, error) {
	html, cached := p.cache.Get(entry.SourceURL)
	if !cached {
		body, err := p.fetcher.Get(ctx, entry.SourceURL, "detail")
		if err != nil {
			return nil, false, err
		}
		html = body
		p.cache.Set(entry.SourceURL, body)
	}

	rec, err := parser.ParseDetailPage(html, entry.SourceURL)
	if err != nil {
		return nil, false, scraper.ParseError{URL: entry.SourceURL, Err: err}
	}
	if rec.ID == 0 {
		rec.ID = entry.ID
	}

	var mp3s []models.MP3
	if rec.AttID != 0 {
		rec.PlayerLink = p.cfg.PlayerURL(rec.ID, rec.AttID)

		mp3s, err = p.media.Resolve(ctx, rec.ID, rec.AttID)
		if err != nil {
			// Degrade to empty media fields.
			p.metrics.IncError(scraper.ErrorTypeLabel(err))
			slog.Warn("media resolution failed",
				slog.Int("id", rec.ID),
				slog.Any("error", err),
			)
			mp3s = nil
		}
	}

	mp3s = scraper.FilterMP3s(mp3s, p.cfg.Filters.MinMP3SizeBytes)
	if len(mp3s) == 0 && p.cfg.Filters.RequireFullMP3 {
		return nil, true, nil
	}
	if len(mp3s) > 0 {
		rec.FullBookMP3URL = scraper.BestMP3(mp3s).URL
		rec.AllMP3sFound = scraper.JoinMP3URLs(mp3s)
	}

	return rec, false, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
