package parser

import (
	"fmt"
	"testing"
)

const detailPageURL = "http://example.test/DetailsAlbum/?VALID=TRUE&g=4821"

func buildDetailPage(withDuration bool) string {
	duration := ""
	if withDuration {
		duration = `<dd class="field"><strong>مدت زمان</strong> 2:45:30</dd>`
	}
	return fmt.Sprintf(`<html>
<head>
<meta property="og:image" content="http://img.example.test/cover.jpg?AttID=555&w=300" />
</head>
<body>
<h1 class="titel">  شازده کوچولو </h1>
<div id="about"><div class="body-module">داستان شازده کوچولو</div></div>
<div class="item-info">
<dd class="field"><strong>نویسنده</strong> <a>آنتوان دو سنت اگزوپری</a></dd>
%s
<dd class="field"><strong>تعداد قسمت</strong> <span>12</span></dd>
</div>
<dl id="tags">
<dt>راوی</dt><dd><span>مهدی پاکدل</span><span>,</span><span>سارا بهرامی</span></dd>
<dt>ترجمه</dt><dd><span>احمد شاملو</span></dd>
<dt>کلمه کلیدی</dt><dd><span>داستان</span></dd>
</dl>
<div class="product-view"><div class="item"><div class="image">
<img src="./pictures/cover.jpg?AttID=555" />
</div></div></div>
</body></html>`, duration)
}

func TestParseDetailPage(t *testing.T) {
	rec, err := ParseDetailPage([]byte(buildDetailPage(true)), detailPageURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if rec.Title != "شازده کوچولو" {
		t.Errorf("title=%q", rec.Title)
	}
	if rec.Author != "آنتوان دو سنت اگزوپری" {
		t.Errorf("author=%q", rec.Author)
	}
	if rec.Narrator != "مهدی پاکدل، سارا بهرامی" {
		t.Errorf("narrator=%q", rec.Narrator)
	}
	if rec.Translator != "احمد شاملو" {
		t.Errorf("translator=%q", rec.Translator)
	}
	if rec.Genre != "داستان" {
		t.Errorf("genre=%q", rec.Genre)
	}
	if rec.Duration != "2:45:30" {
		t.Errorf("duration=%q", rec.Duration)
	}
	if rec.EpisodeCount != 12 {
		t.Errorf("episodes=%d", rec.EpisodeCount)
	}
	if rec.CoverImageURL != "http://img.example.test/cover.jpg?AttID=555&w=300" {
		t.Errorf("cover=%q", rec.CoverImageURL)
	}
	if rec.AttID != 555 {
		t.Errorf("attid=%d", rec.AttID)
	}
	if rec.ID != 4821 {
		t.Errorf("id=%d", rec.ID)
	}
	if rec.SourceURL != detailPageURL {
		t.Errorf("source url=%q", rec.SourceURL)
	}
	if rec.PlayerLink != "" || rec.FullBookMP3URL != "" || rec.AllMP3sFound != "" {
		t.Errorf("media fields should be empty after detail parse")
	}
}

func TestParseDetailPageMissingDuration(t *testing.T) {
	rec, err := ParseDetailPage([]byte(buildDetailPage(false)), detailPageURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Duration != "" {
		t.Fatalf("duration=%q, want empty", rec.Duration)
	}
	if rec.Title == "" || rec.Author == "" || rec.Narrator == "" {
		t.Fatalf("other fields should still be populated: %+v", rec)
	}
}

func TestParseDetailPageEmptyDocument(t *testing.T) {
	if _, err := ParseDetailPage([]byte("   \n"), detailPageURL); err == nil {
		t.Fatalf("expected error for empty document")
	}
}

func TestParseDetailPageBareDocument(t *testing.T) {
	rec, err := ParseDetailPage([]byte("<html><body><p>coming soon</p></body></html>"), detailPageURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.Title != "" || rec.Author != "" || rec.Duration != "" {
		t.Fatalf("fields should default to empty, got %+v", rec)
	}
	if rec.ID != 4821 {
		t.Fatalf("id should still come from the URL, got %d", rec.ID)
	}
}

func TestExtractAttIDFallsBackToAnchors(t *testing.T) {
	page := `<html><body>
<a href="/player/?VALID=TRUE&attid=910">listen</a>
</body></html>`
	rec, err := ParseDetailPage([]byte(page), detailPageURL)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rec.AttID != 910 {
		t.Fatalf("attid=%d, want 910", rec.AttID)
	}
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		href     string
		expected string
	}{
		{
			name:     "already absolute",
			base:     "http://example.test/",
			href:     "https://cdn.example.test/a.mp3",
			expected: "https://cdn.example.test/a.mp3",
		},
		{
			name:     "relative with dot slash",
			base:     "http://example.test/",
			href:     "./pictures/cover.jpg",
			expected: "http://example.test/pictures/cover.jpg",
		},
		{
			name:     "rooted path",
			base:     "http://example.test/sub/",
			href:     "/pictures/cover.jpg",
			expected: "http://example.test/pictures/cover.jpg",
		},
		{
			name:     "empty",
			base:     "http://example.test/",
			href:     "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AbsoluteURL(tt.base, tt.href); got != tt.expected {
				t.Fatalf("AbsoluteURL(%q, %q) = %q, want %q", tt.base, tt.href, got, tt.expected)
			}
		})
	}
}

func TestIDFromURL(t *testing.T) {
	if got := idFromURL("http://example.test/?g=77"); got != 77 {
		t.Fatalf("id=%d, want 77", got)
	}
	if got := idFromURL("http://example.test/?q=77"); got != 0 {
		t.Fatalf("id=%d, want 0 for missing g", got)
	}
	if got := idFromURL("http://example.test/?g=abc"); got != 0 {
		t.Fatalf("id=%d, want 0 for non-numeric g", got)
	}
}
