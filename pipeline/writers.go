package pipeline

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/arashpr/go-scrape-audiobooks/models"
	"github.com/arashpr/go-scrape-audiobooks/scraper"
)

// utf8BOM is prepended to CSV output for spreadsheet compatibility.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RecordWriter owns the books CSV and its JSONL mirror. Every Append
// rewrites the full CSV to a temp file and renames it over the
// destination, so a crash never leaves a truncated file. Rows are keyed
// by Source_URL; appending a URL twice replaces the row instead of
// duplicating it.
type RecordWriter struct {
	path      string
	jsonlPath string
	jsonl     *os.File

	merged map[string]*models.BookRecord
	order  []string
}

// NewRecordWriter prepares a writer for the books CSV path. jsonlPath
// may be empty to disable the mirror.
func NewRecordWriter(path, jsonlPath string) (*RecordWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, scraper.WriteError{Path: path, Err: err}
	}
	w := &RecordWriter{
		path:      path,
		jsonlPath: jsonlPath,
		merged:    make(map[string]*models.BookRecord),
	}
	if jsonlPath != "" {
		if err := ensureDir(jsonlPath); err != nil {
			return nil, scraper.WriteError{Path: jsonlPath, Err: err}
		}
		f, err := os.OpenFile(jsonlPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, scraper.WriteError{Path: jsonlPath, Err: err}
		}
		w.jsonl = f
	}
	return w, nil
}

// LoadExisting reads a previous run's output so already-processed
// Source_URLs are skipped on resume. A missing file is a fresh start; a
// malformed file returns an error and leaves the writer empty so the
// caller can warn and start fresh.
func (w *RecordWriter) LoadExisting() (int, error) {
	f, err := os.Open(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open existing output: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(stripBOM(f))
	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read existing header: %w", err)
	}
	if len(header) != len(models.CSVHeader) {
		return 0, fmt.Errorf("existing output has %d columns, want %d", len(header), len(models.CSVHeader))
	}
	for i, col := range models.CSVHeader {
		if header[i] != col {
			return 0, fmt.Errorf("existing output column %d is %q, want %q", i, header[i], col)
		}
	}

	reader.FieldsPerRecord = len(models.CSVHeader)
	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			w.reset()
			return 0, fmt.Errorf("read existing row: %w", err)
		}
		rec := models.RecordFromRow(row)
		if rec.SourceURL == "" {
			continue
		}
		if _, ok := w.merged[rec.SourceURL]; !ok {
			w.order = append(w.order, rec.SourceURL)
		}
		w.merged[rec.SourceURL] = rec
		count++
	}
	return count, nil
}

// Has reports whether a Source_URL already has a row.
func (w *RecordWriter) Has(sourceURL string) bool {
	_, ok := w.merged[sourceURL]
	return ok
}

// Count returns the number of rows currently held.
func (w *RecordWriter) Count() int {
	return len(w.merged)
}

// Append merges one finished record and atomically rewrites the CSV,
// then appends the full record to the JSONL mirror.
func (w *RecordWriter) Append(rec *models.BookRecord) error {
	if _, ok := w.merged[rec.SourceURL]; !ok {
		w.order = append(w.order, rec.SourceURL)
	}
	w.merged[rec.SourceURL] = rec

	if err := w.flush(); err != nil {
		return err
	}

	if w.jsonl != nil {
		line, err := json.Marshal(rec)
		if err != nil {
			return scraper.WriteError{Path: w.jsonlPath, Err: err}
		}
		if _, err := w.jsonl.Write(append(line, '\n')); err != nil {
			return scraper.WriteError{Path: w.jsonlPath, Err: err}
		}
	}
	return nil
}

// flush writes the full row set to a temp file and renames it over the
// destination.
func (w *RecordWriter) flush() error {
	tmp := w.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return scraper.WriteError{Path: tmp, Err: err}
	}

	writeErr := func() error {
		if _, err := f.Write(utf8BOM); err != nil {
			return err
		}
		cw := csv.NewWriter(f)
		if err := cw.Write(models.CSVHeader); err != nil {
			return err
		}
		for _, key := range w.order {
			if err := cw.Write(w.merged[key].Row()); err != nil {
				return err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		return f.Sync()
	}()

	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmp)
		return scraper.WriteError{Path: tmp, Err: writeErr}
	}

	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return scraper.WriteError{Path: w.path, Err: err}
	}
	return nil
}

// Close releases the JSONL handle.
func (w *RecordWriter) Close() error {
	if w.jsonl == nil {
		return nil
	}
	err := w.jsonl.Close()
	w.jsonl = nil
	return err
}

// Validate ensures the output exists and holds more than the header.
func (w *RecordWriter) Validate() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	if info.Size() <= int64(len(utf8BOM)) {
		return fmt.Errorf("output file is empty")
	}
	return nil
}

func (w *RecordWriter) reset() {
	w.merged = make(map[string]*models.BookRecord)
	w.order = nil
}

// ErrorWriter appends per-item failures to the errors CSV. The file is
// opened in append mode so failures accumulate across resumed runs.
type ErrorWriter struct {
	file   *os.File
	writer *csv.Writer
}

// NewErrorWriter opens the errors CSV, writing the header on first use.
func NewErrorWriter(path string) (*ErrorWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, scraper.WriteError{Path: path, Err: err}
	}
	info, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist) || (statErr == nil && info.Size() == 0)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, scraper.WriteError{Path: path, Err: err}
	}

	ew := &ErrorWriter{file: f, writer: csv.NewWriter(f)}
	if isNew {
		if _, err := f.Write(utf8BOM); err != nil {
			f.Close()
			return nil, scraper.WriteError{Path: path, Err: err}
		}
		if err := ew.writer.Write(models.ErrorCSVHeader); err != nil {
			f.Close()
			return nil, scraper.WriteError{Path: path, Err: err}
		}
		ew.writer.Flush()
	}
	return ew, nil
}

// Append records one failure and flushes immediately.
func (ew *ErrorWriter) Append(item models.ItemError) error {
	if err := ew.writer.Write(item.Row()); err != nil {
		return scraper.WriteError{Path: ew.file.Name(), Err: err}
	}
	ew.writer.Flush()
	if err := ew.writer.Error(); err != nil {
		return scraper.WriteError{Path: ew.file.Name(), Err: err}
	}
	return nil
}

// Close flushes and closes the errors CSV.
func (ew *ErrorWriter) Close() error {
	ew.writer.Flush()
	if err := ew.writer.Error(); err != nil {
		ew.file.Close()
		return err
	}
	return ew.file.Close()
}

// listingHeader is the intermediate ids CSV header.
var listingHeader = []string{"AudioBookID", "URL"}

// WriteListing atomically writes the intermediate ids CSV produced by
// the crawl phase.
func WriteListing(path string, entries []models.ListingEntry) error {
	if err := ensureDir(path); err != nil {
		return scraper.WriteError{Path: path, Err: err}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return scraper.WriteError{Path: tmp, Err: err}
	}

	writeErr := func() error {
		cw := csv.NewWriter(f)
		if err := cw.Write(listingHeader); err != nil {
			return err
		}
		for _, e := range entries {
			if err := cw.Write([]string{strconv.Itoa(e.ID), e.SourceURL}); err != nil {
				return err
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return err
		}
		return f.Sync()
	}()

	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmp)
		return scraper.WriteError{Path: tmp, Err: writeErr}
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return scraper.WriteError{Path: path, Err: err}
	}
	return nil
}

// ReadListing loads the ids CSV written by WriteListing.
func ReadListing(path string) ([]models.ListingEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open listing: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(stripBOM(f))
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read listing header: %w", err)
	}
	if len(header) != 2 || header[0] != listingHeader[0] || header[1] != listingHeader[1] {
		return nil, fmt.Errorf("unexpected listing header %v", header)
	}

	var entries []models.ListingEntry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read listing row: %w", err)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("bad listing id %q: %w", row[0], err)
		}
		entries = append(entries, models.ListingEntry{ID: id, SourceURL: row[1]})
	}
	return entries, nil
}

// stripBOM skips a UTF-8 byte-order marker if the reader starts with one.
func stripBOM(r io.ReadSeeker) io.Reader {
	buf := make([]byte, len(utf8BOM))
	n, _ := io.ReadFull(r, buf)
	if n == len(utf8BOM) && buf[0] == utf8BOM[0] && buf[1] == utf8BOM[1] && buf[2] == utf8BOM[2] {
		return r
	}
	r.Seek(0, io.SeekStart)
	return r
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
