package scraper

import (
	"fmt"
	"testing"
)

func TestPageCacheRoundTrip(t *testing.T) {
	cache, err := NewPageCache(4)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	if _, ok := cache.Get("http://example.test/a"); ok {
		t.Fatalf("unexpected hit on empty cache")
	}

	cache.Set("http://example.test/a", []byte("<html>a</html>"))
	body, ok := cache.Get("http://example.test/a")
	if !ok || string(body) != "<html>a</html>" {
		t.Fatalf("get = %q, %v", body, ok)
	}
}

func TestPageCacheEvictsOldest(t *testing.T) {
	cache, err := NewPageCache(2)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}

	for i := 0; i < 3; i++ {
		cache.Set(fmt.Sprintf("http://example.test/%d", i), []byte("x"))
	}
	if cache.Len() != 2 {
		t.Fatalf("len=%d, want 2", cache.Len())
	}
	if _, ok := cache.Get("http://example.test/0"); ok {
		t.Fatalf("oldest entry should be evicted")
	}
}

func TestNilPageCacheIsNoop(t *testing.T) {
	var cache *PageCache
	cache.Set("http://example.test/a", []byte("x"))
	if _, ok := cache.Get("http://example.test/a"); ok {
		t.Fatalf("nil cache should never hit")
	}
	if cache.Len() != 0 {
		t.Fatalf("nil cache length should be 0")
	}
}
