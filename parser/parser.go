// Package parser extracts audiobook metadata from catalog detail pages.
//
// The catalog markup is loosely structured: the same fact may live in the
// item-info block, the metadata definition list, or only in meta tags.
// Every field is therefore optional and missing nodes produce empty
// strings, never errors.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/arashpr/go-scrape-audiobooks/models"
)

var (
	attIDPattern    = regexp.MustCompile(`(?i)[?&]attid=(\d+)`)
	durationPattern = regexp.MustCompile(`(\d{1,2}:\d{2}:\d{2}|\d{1,3}:\d{2})`)
	numberPattern   = regexp.MustCompile(`\d+`)
)

var (
	durationLabels = []string{"مدت زمان", "مدت", "زمان"}
	episodeLabels  = []string{"تعداد قسمت", "تعداد قطعه", "تعداد قطعات"}
)

// ParseDetailPage extracts a partial BookRecord from detail-page HTML.
// Media fields (player link, MP3 URLs) are left empty for the resolver.
func ParseDetailPage(html []byte, sourceURL string) (*models.BookRecord, error) {
	if len(bytes.TrimSpace(html)) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	rec := &models.BookRecord{SourceURL: sourceURL}
	rec.Title = cleanText(doc.Find("h1.titel").First().Text())
	rec.Description = cleanText(doc.Find("#about .body-module").First().Text())

	rec.Author = firstNonEmpty(
		itemInfoLabel(doc, "نویسنده"),
		metadataLabel(doc, "نویسنده"),
		metadataLabel(doc, "عنوان كتاب مرجع"),
	)
	rec.Narrator = metadataLabel(doc, "راوی")
	rec.Translator = metadataLabel(doc, "ترجمه")
	rec.Director = firstNonEmpty(
		itemInfoLabel(doc, "کارگردان"),
		metadataLabel(doc, "کارگردان"),
	)
	rec.Genre = firstNonEmpty(
		metadataLabel(doc, "کلمه کلیدی"),
		metadataLabel(doc, "نوع متن"),
	)
	rec.Category = firstNonEmpty(
		metadataLabel(doc, "دسته بندی ها"),
		itemInfoLabel(doc, "دسته‌بندی"),
	)

	rec.Duration, rec.EpisodeCount = durationAndEpisodes(doc)
	rec.CoverImageURL = coverImage(doc, sourceURL)
	rec.AttID = extractAttID(doc)
	rec.ID = idFromURL(sourceURL)

	return rec, nil
}

// AbsoluteURL resolves href against base. Already-absolute URLs pass
// through unchanged.
func AbsoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimPrefix(href, "./"))
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

// idFromURL pulls the numeric g query parameter out of a detail URL.
func idFromURL(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	g := u.Query().Get("g")
	if g == "" {
		return 0
	}
	id, err := strconv.Atoi(g)
	if err != nil {
		return 0
	}
	return id
}

// itemInfoLabel reads a labeled field from the item-info block, joining
// the linked values with the Persian comma.
func itemInfoLabel(doc *goquery.Document, label string) string {
	var out string
	doc.Find(".item-info dd.field").EachWithBreak(func(_ int, dd *goquery.Selection) bool {
		strong := dd.Find("strong").First()
		if strong.Length() == 0 || !strings.Contains(cleanText(strong.Text()), label) {
			return true
		}
		var values []string
		dd.Find("a, span").Each(func(_ int, el *goquery.Selection) {
			if v := cleanText(el.Text()); v != "" && v != label {
				values = append(values, v)
			}
		})
		out = joinUnique(values)
		return false
	})
	return out
}

// metadataLabel reads a dt/dd pair from the metadata definition list.
func metadataLabel(doc *goquery.Document, label string) string {
	var out string
	doc.Find("#tags dt").EachWithBreak(func(_ int, dt *goquery.Selection) bool {
		if !strings.Contains(cleanText(dt.Text()), label) {
			return true
		}
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return true
		}
		var values []string
		dd.Find("span").Each(func(_ int, sp *goquery.Selection) {
			if v := cleanText(sp.Text()); v != "" && v != "," {
				values = append(values, v)
			}
		})
		if len(values) == 0 {
			if v := cleanText(dd.Text()); v != "" {
				values = append(values, v)
			}
		}
		if joined := joinUnique(values); joined != "" {
			out = joined
			return false
		}
		return true
	})
	return out
}

func durationAndEpisodes(doc *goquery.Document) (string, int) {
	var duration string
	var episodes int

	scan := func(text string) {
		for _, k := range durationLabels {
			if duration == "" && strings.Contains(text, k) {
				if m := durationPattern.FindString(text); m != "" {
					duration = m
				}
			}
		}
		for _, k := range episodeLabels {
			if episodes == 0 && strings.Contains(text, k) {
				if m := numberPattern.FindString(text); m != "" {
					episodes, _ = strconv.Atoi(m)
				}
			}
		}
	}

	doc.Find(".item-info dd.field").Each(func(_ int, dd *goquery.Selection) {
		scan(cleanText(dd.Text()))
	})
	doc.Find("#tags dt").Each(func(_ int, dt *goquery.Selection) {
		label := cleanText(dt.Text())
		dd := dt.NextFiltered("dd")
		if dd.Length() == 0 {
			return
		}
		scan(label + " " + cleanText(dd.Text()))
	})

	return duration, episodes
}

// coverImage prefers the og:image meta tag, then known image containers.
func coverImage(doc *goquery.Document, sourceURL string) string {
	if meta := doc.Find(`meta[property="og:image"]`).First(); meta.Length() > 0 {
		if content, ok := meta.Attr("content"); ok && content != "" {
			return AbsoluteURL(sourceURL, content)
		}
	}
	for _, sel := range []string{".product-view .item .image img", ".cover img", "img"} {
		if img := doc.Find(sel).First(); img.Length() > 0 {
			if src, ok := img.Attr("src"); ok && src != "" {
				return AbsoluteURL(sourceURL, src)
			}
		}
	}
	return ""
}

// extractAttID finds the attachment id the media API needs, checking the
// og:image URL first, then image sources, then anchor hrefs.
func extractAttID(doc *goquery.Document) int {
	if meta := doc.Find(`meta[property="og:image"]`).First(); meta.Length() > 0 {
		if content, ok := meta.Attr("content"); ok {
			if id := attIDFrom(content); id != 0 {
				return id
			}
		}
	}

	var found int
	doc.Find("img[src]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, _ := img.Attr("src")
		if id := attIDFrom(src); id != 0 {
			found = id
			return false
		}
		return true
	})
	if found != 0 {
		return found
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if id := attIDFrom(href); id != 0 {
			found = id
			return false
		}
		return true
	})
	return found
}

func attIDFrom(raw string) int {
	m := attIDPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return id
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func joinUnique(values []string) string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return strings.Join(out, "، ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
