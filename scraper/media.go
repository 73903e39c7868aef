package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/arashpr/go-scrape-audiobooks/config"
	"github.com/arashpr/go-scrape-audiobooks/models"
	"github.com/arashpr/go-scrape-audiobooks/parser"
)

// MediaResolver turns an (id, attid) pair into MP3 download links via the
// site's JSON API.
type MediaResolver struct {
	cfg     *config.Config
	fetcher *Fetcher
}

// NewMediaResolver builds a resolver sharing the pipeline's fetcher.
func NewMediaResolver(cfg *config.Config, fetcher *Fetcher) *MediaResolver {
	return &MediaResolver{cfg: cfg, fetcher: fetcher}
}

type apiResponse struct {
	Items []struct {
		FileID   int `json:"FileID"`
		Download []struct {
			Extension   string `json:"extension"`
			DownloadURL string `json:"downloadUrl"`
			FileSize    int64  `json:"fileSize"`
			BitRate     int    `json:"bitRate"`
		} `json:"download"`
	} `json:"items"`
}

// Resolve fetches and parses the media API response for one item. A
// malformed response yields an APIError; an empty item list is not an
// error, just zero MP3s.
func (mr *MediaResolver) Resolve(ctx context.Context, id, attid int) ([]models.MP3, error) {
	apiURL := mr.cfg.APIURL(id, attid)
	body, err := mr.fetcher.Get(ctx, apiURL, "api")
	if err != nil {
		return nil, APIError{URL: apiURL, Err: err}
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, APIError{URL: apiURL, Err: fmt.Errorf("decode response: %w", err)}
	}

	var mp3s []models.MP3
	for _, item := range parsed.Items {
		for _, dl := range item.Download {
			if !strings.EqualFold(dl.Extension, "mp3") || dl.DownloadURL == "" {
				continue
			}
			mp3s = append(mp3s, models.MP3{
				URL:     parser.AbsoluteURL(mr.cfg.BaseURL, dl.DownloadURL),
				Bitrate: dl.BitRate,
				Size:    dl.FileSize,
			})
		}
	}
	return mp3s, nil
}

// BestMP3 returns the largest MP3, breaking size ties by bitrate. The
// caller must pass a non-empty slice.
func BestMP3(mp3s []models.MP3) models.MP3 {
	best := mp3s[0]
	for _, m := range mp3s[1:] {
		if m.Size > best.Size || (m.Size == best.Size && m.Bitrate > best.Bitrate) {
			best = m
		}
	}
	return best
}

// JoinMP3URLs joins the de-duplicated URLs in first-seen order.
func JoinMP3URLs(mp3s []models.MP3) string {
	seen := make(map[string]struct{}, len(mp3s))
	urls := make([]string, 0, len(mp3s))
	for _, m := range mp3s {
		if _, ok := seen[m.URL]; ok {
			continue
		}
		seen[m.URL] = struct{}{}
		urls = append(urls, m.URL)
	}
	return strings.Join(urls, ", ")
}

// FilterMP3s drops files below the configured minimum size.
func FilterMP3s(mp3s []models.MP3, minSize int64) []models.MP3 {
	if minSize <= 0 {
		return mp3s
	}
	out := make([]models.MP3, 0, len(mp3s))
	for _, m := range mp3s {
		if m.Size >= minSize {
			out = append(out, m)
		}
	}
	return out
}
