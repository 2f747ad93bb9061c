package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// AttributesKey is the envelope field carrying pagination metadata.
const AttributesKey = "@attributes"

var (
	// ErrNotObject is returned when a page body is not a JSON object.
	ErrNotObject = errors.New("page is not a JSON object")

	// ErrNoPage is returned when a page has no link in the requested direction.
	ErrNoPage = errors.New("no linked page")
)

// PageFetcher fetches one fully qualified page URL and returns its JSON body.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (json.RawMessage, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, url string) (json.RawMessage, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, url string) (json.RawMessage, error) {
	return f(ctx, url)
}

// Attributes is the decoded @attributes block of a page.
type Attributes struct {
	Next     string
	Previous string
	Count    string
	Offset   string
	Limit    string
}

// Page is one decoded result page.
type Page struct {
	Attributes Attributes
	Fields     map[string]json.RawMessage
}

// ParsePage decodes a page body.
func ParsePage(raw json.RawMessage) (*Page, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if fields == nil {
		return nil, ErrNotObject
	}

	page := &Page{Fields: fields}
	if attrsRaw, ok := fields[AttributesKey]; ok {
		var attrs map[string]json.RawMessage
		if err := json.Unmarshal(attrsRaw, &attrs); err == nil {
			page.Attributes = Attributes{
				Next:     scalar(attrs["next"]),
				Previous: scalar(attrs["previous"]),
				Count:    scalar(attrs["count"]),
				Offset:   scalar(attrs["offset"]),
				Limit:    scalar(attrs["limit"]),
			}
		}
	}
	return page, nil
}

// scalar renders a string or number attribute as a string; anything else is "".
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// Resource returns the named resource field of the page.
// A JSON null counts as absent.
func (p *Page) Resource(name string) (json.RawMessage, bool) {
	raw, ok := p.Fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// Empty reports whether the page describes an empty collection.
func (p *Page) Empty() bool {
	n, err := strconv.Atoi(p.Attributes.Count)
	return err == nil && n == 0
}

// NextURL returns the page's next link, or "" when there is none.
func NextURL(raw json.RawMessage) string {
	page, err := ParsePage(raw)
	if err != nil {
		return ""
	}
	return page.Attributes.Next
}

// PreviousURL returns the page's previous link, or "" when there is none.
func PreviousURL(raw json.RawMessage) string {
	page, err := ParsePage(raw)
	if err != nil {
		return ""
	}
	return page.Attributes.Previous
}

// HasNext reports whether the page links to a following page.
func HasNext(raw json.RawMessage) bool {
	return NextURL(raw) != ""
}

// HasPrevious reports whether the page links to a preceding page.
func HasPrevious(raw json.RawMessage) bool {
	return PreviousURL(raw) != ""
}

// NextPage fetches the page following raw. Returns ErrNoPage when there is none.
func NextPage(ctx context.Context, fetcher PageFetcher, raw json.RawMessage) (json.RawMessage, error) {
	next := NextURL(raw)
	if next == "" {
		return nil, ErrNoPage
	}
	return fetcher.FetchPage(ctx, next)
}

// PreviousPage fetches the page preceding raw. Returns ErrNoPage when there is none.
func PreviousPage(ctx context.Context, fetcher PageFetcher, raw json.RawMessage) (json.RawMessage, error) {
	previous := PreviousURL(raw)
	if previous == "" {
		return nil, ErrNoPage
	}
	return fetcher.FetchPage(ctx, previous)
}
