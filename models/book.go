// Package models defines data structures for the crawler.
package models

import "strconv"

// ListingEntry identifies one audiobook discovered on a listing page.
type ListingEntry struct {
	ID        int    `json:"audiobook_id"`
	SourceURL string `json:"url"`
}

// BookRecord is one finished output row. The CSV columns are fixed; the
// remaining fields are carried only in the JSONL mirror.
type BookRecord struct {
	Title          string `json:"title"`
	Author         string `json:"author"`
	Narrator       string `json:"narrator"`
	Duration       string `json:"duration"`
	CoverImageURL  string `json:"cover_image_url"`
	SourceURL      string `json:"source_url"`
	PlayerLink     string `json:"player_link"`
	FullBookMP3URL string `json:"fullbook_mp3_url"`
	AllMP3sFound   string `json:"all_mp3s_found"`

	ID           int    `json:"audiobook_id,omitempty"`
	AttID        int    `json:"attid,omitempty"`
	Description  string `json:"description,omitempty"`
	Translator   string `json:"translator,omitempty"`
	Director     string `json:"director,omitempty"`
	Genre        string `json:"genre,omitempty"`
	Category     string `json:"category,omitempty"`
	EpisodeCount int    `json:"episode_count,omitempty"`
}

// CSVHeader is the exact output header row, in column order.
var CSVHeader = []string{
	"Title", "Author", "Narrator", "Duration", "Cover_Image_URL",
	"Source_URL", "Player_Link", "FullBook_MP3_URL", "All_MP3s_Found",
}

// Row renders the record in CSVHeader column order.
func (r *BookRecord) Row() []string {
	return []string{
		r.Title,
		r.Author,
		r.Narrator,
		r.Duration,
		r.CoverImageURL,
		r.SourceURL,
		r.PlayerLink,
		r.FullBookMP3URL,
		r.AllMP3sFound,
	}
}

// RecordFromRow rebuilds a record from a CSV row written by Row. Used when
// resuming a previous run.
func RecordFromRow(row []string) *BookRecord {
	return &BookRecord{
		Title:          row[0],
		Author:         row[1],
		Narrator:       row[2],
		Duration:       row[3],
		CoverImageURL:  row[4],
		SourceURL:      row[5],
		PlayerLink:     row[6],
		FullBookMP3URL: row[7],
		AllMP3sFound:   row[8],
	}
}

// MP3 is one downloadable file reported by the media API.
type MP3 struct {
	URL     string
	Bitrate int
	Size    int64
}

// CrawlResult summarizes a listing crawl.
type CrawlResult struct {
	Entries    []ListingEntry
	PagesSeen  int
	Duplicates int
}

// EnrichStats summarizes an enrich or single-pass run.
type EnrichStats struct {
	Succeeded int
	Skipped   int
	Failed    int
	Resumed   int
	Total     int
}

// ItemError is one per-item failure appended to the errors CSV.
type ItemError struct {
	ID  int
	URL string
	Err string
}

// Row renders the error record for the errors CSV.
func (e ItemError) Row() []string {
	return []string{strconv.Itoa(e.ID), e.URL, e.Err}
}

// ErrorCSVHeader is the errors CSV header row.
var ErrorCSVHeader = []string{"AudioBook_ID", "URL", "Error"}
