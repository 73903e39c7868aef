package scraper

import (
	"errors"
	"fmt"
)

// FetchError indicates a network or HTTP failure after retries were
// exhausted.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e FetchError) Unwrap() error {
	return e.Err
}

// ParseError indicates the expected page structure was absent.
type ParseError struct {
	URL string
	Err error
}

func (e ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e ParseError) Unwrap() error {
	return e.Err
}

// APIError indicates a malformed or missing media API response.
type APIError struct {
	URL string
	Err error
}

func (e APIError) Error() string {
	return fmt.Sprintf("api %s: %v", e.URL, e.Err)
}

func (e APIError) Unwrap() error {
	return e.Err
}

// WriteError indicates a filesystem failure on the output path. It is
// fatal for the run.
type WriteError struct {
	Path string
	Err  error
}

func (e WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e WriteError) Unwrap() error {
	return e.Err
}

// ErrorTypeLabel maps an error to its metrics/report label.
func ErrorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	// Wrapper types are checked before FetchError so that an APIError
	// wrapping a failed fetch keeps its own label.
	var write WriteError
	if errors.As(err, &write) {
		return "write"
	}
	var api APIError
	if errors.As(err, &api) {
		return "api"
	}
	var parse ParseError
	if errors.As(err, &parse) {
		return "parse"
	}
	var fetch FetchError
	if errors.As(err, &fetch) {
		return "fetch"
	}
	return "other"
}
