package scraper

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// PageCache is a bounded in-memory cache of detail-page HTML keyed by
// URL. A nil *PageCache is a valid no-op cache.
type PageCache struct {
	lru *lru.Cache[string, []byte]
}

// NewPageCache builds a cache holding at most maxEntries pages.
func NewPageCache(maxEntries int) (*PageCache, error) {
	c, err := lru.New[string, []byte](maxEntries)
	if err != nil {
		return nil, err
	}
	return &PageCache{lru: c}, nil
}

// Get returns the cached body for a URL, if present.
func (c *PageCache) Get(url string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(url)
}

// Set stores a page body.
func (c *PageCache) Set(url string, body []byte) {
	if c == nil {
		return
	}
	c.lru.Add(url, body)
}

// Len reports the number of cached pages.
func (c *PageCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
