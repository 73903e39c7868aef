// Package config loads and validates crawler configuration from YAML.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Throttle bounds the randomized delay inserted before each request.
type Throttle struct {
	MinMs int `yaml:"min_ms"`
	MaxMs int `yaml:"max_ms"`
}

// Min returns the lower throttle bound as a duration.
func (t Throttle) Min() time.Duration { return time.Duration(t.MinMs) * time.Millisecond }

// Max returns the upper throttle bound as a duration.
func (t Throttle) Max() time.Duration { return time.Duration(t.MaxMs) * time.Millisecond }

// HTTP holds client and retry settings.
type HTTP struct {
	TimeoutSec       int    `yaml:"timeout_sec"`
	UserAgent        string `yaml:"user_agent"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms"`
	RetryBackoffCapMs int   `yaml:"retry_backoff_cap_ms"`
}

// Timeout returns the request timeout as a duration.
func (h HTTP) Timeout() time.Duration { return time.Duration(h.TimeoutSec) * time.Second }

// RetryBackoff returns the initial backoff as a duration.
func (h HTTP) RetryBackoff() time.Duration {
	return time.Duration(h.RetryBackoffMs) * time.Millisecond
}

// RetryBackoffCap returns the backoff ceiling as a duration.
func (h HTTP) RetryBackoffCap() time.Duration {
	return time.Duration(h.RetryBackoffCapMs) * time.Millisecond
}

// Outputs holds the output file paths.
type Outputs struct {
	IDsCSV    string `yaml:"ids_csv"`
	BooksCSV  string `yaml:"books_csv"`
	ErrorsCSV string `yaml:"errors_csv"`
	JSONL     string `yaml:"jsonl"`
}

// Filters controls which MP3 candidates count toward a record.
type Filters struct {
	MinMP3SizeBytes int64 `yaml:"min_mp3_size_bytes"`
	RequireFullMP3  bool  `yaml:"require_full_mp3"`
}

// Cache configures the in-memory detail-page cache.
type Cache struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
}

// Config holds crawler configuration.
type Config struct {
	BaseURL            string   `yaml:"base_url"`
	ListingURLTemplate string   `yaml:"listing_url_template"`
	APIURLTemplate     string   `yaml:"api_url_template"`
	PlayerURLTemplate  string   `yaml:"player_url_template"`
	Pages              int      `yaml:"pages"`
	Throttle           Throttle `yaml:"throttle"`
	HTTP               HTTP     `yaml:"http"`
	Outputs            Outputs  `yaml:"outputs"`
	Filters            Filters  `yaml:"filters"`
	Cache              Cache    `yaml:"cache"`
	MetricsAddr        string   `yaml:"metrics_addr"`
	Verbose            bool     `yaml:"verbose"`
}

// DefaultConfig returns conservative defaults for the catalog target.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://book.iranseda.ir/",
		ListingURLTemplate: "https://book.iranseda.ir/TagList/?VALID=TRUE&page={page}",
		APIURLTemplate:     "https://apisec.iranseda.ir/book/Details/?VALID=TRUE&g={id}&attid={attid}",
		PlayerURLTemplate:  "https://player.iranseda.ir/book-player/?VALID=TRUE&g={id}&attid={attid}",
		Pages:              10,
		Throttle:           Throttle{MinMs: 100, MaxMs: 300},
		HTTP: HTTP{
			TimeoutSec:        25,
			UserAgent:         "Mozilla/5.0",
			MaxRetries:        3,
			RetryBackoffMs:    600,
			RetryBackoffCapMs: 5000,
		},
		Outputs: Outputs{
			IDsCSV:    "output/audiobooks.csv",
			BooksCSV:  "output/books.csv",
			ErrorsCSV: "output/errors.csv",
			JSONL:     "output/books.jsonl",
		},
		Filters: Filters{MinMP3SizeBytes: 0, RequireFullMP3: false},
		Cache:   Cache{Enabled: true, MaxEntries: 512},
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.ListingURLTemplate == "" {
		return fmt.Errorf("listing URL template cannot be empty")
	}
	if !strings.Contains(c.ListingURLTemplate, "{page}") {
		return fmt.Errorf("listing URL template must contain {page}")
	}
	if c.APIURLTemplate == "" {
		return fmt.Errorf("API URL template cannot be empty")
	}
	if !strings.Contains(c.APIURLTemplate, "{id}") || !strings.Contains(c.APIURLTemplate, "{attid}") {
		return fmt.Errorf("API URL template must contain {id} and {attid}")
	}
	if c.PlayerURLTemplate == "" {
		return fmt.Errorf("player URL template cannot be empty")
	}

	if c.Pages <= 0 {
		return fmt.Errorf("pages must be positive")
	}
	if c.Throttle.MinMs < 0 {
		return fmt.Errorf("throttle min cannot be negative")
	}
	if c.Throttle.MaxMs < c.Throttle.MinMs {
		return fmt.Errorf("throttle max (%dms) cannot be below min (%dms)", c.Throttle.MaxMs, c.Throttle.MinMs)
	}
	if c.HTTP.TimeoutSec <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.HTTP.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.HTTP.RetryBackoffMs < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.HTTP.RetryBackoffCapMs > 0 && c.HTTP.RetryBackoffMs > c.HTTP.RetryBackoffCapMs {
		return fmt.Errorf("retry backoff (%dms) cannot exceed cap (%dms)", c.HTTP.RetryBackoffMs, c.HTTP.RetryBackoffCapMs)
	}

	if c.Outputs.BooksCSV == "" {
		return fmt.Errorf("books CSV path cannot be empty")
	}
	if c.Outputs.IDsCSV == "" {
		return fmt.Errorf("ids CSV path cannot be empty")
	}
	if c.Outputs.ErrorsCSV == "" {
		return fmt.Errorf("errors CSV path cannot be empty")
	}

	if c.Filters.MinMP3SizeBytes < 0 {
		return fmt.Errorf("min MP3 size cannot be negative")
	}
	if c.Cache.Enabled && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive when cache is enabled")
	}

	return nil
}

// ListingURL renders the listing template for a page number.
func (c *Config) ListingURL(page int) string {
	return strings.ReplaceAll(c.ListingURLTemplate, "{page}", fmt.Sprintf("%d", page))
}

// APIURL renders the media API template for an item.
func (c *Config) APIURL(id, attid int) string {
	return renderItemURL(c.APIURLTemplate, id, attid)
}

// PlayerURL renders the player link template for an item.
func (c *Config) PlayerURL(id, attid int) string {
	return renderItemURL(c.PlayerURLTemplate, id, attid)
}

func renderItemURL(tmpl string, id, attid int) string {
	out := strings.ReplaceAll(tmpl, "{id}", fmt.Sprintf("%d", id))
	return strings.ReplaceAll(out, "{attid}", fmt.Sprintf("%d", attid))
}
