package pagination

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrDone is returned by Next when the sequence is exhausted.
	ErrDone = errors.New("no more pages")

	// ErrResourceMissing is returned in strict mode when a page lacks the resource field.
	ErrResourceMissing = errors.New("resource field missing from page")
)

var pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lightspeed_pages_fetched_total",
	Help: "Total result pages fetched by resource",
}, []string{"resource"})

// State is the position of an Iterator in its page sequence.
type State int

const (
	StateFetchingFirst State = iota
	StateFetchingNext
	StateDone
)

func (s State) String() string {
	switch s {
	case StateFetchingFirst:
		return "fetching_first"
	case StateFetchingNext:
		return "fetching_next"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config controls what an Iterator yields.
type Config struct {
	// KeepMetadata yields whole pages, @attributes included, instead of
	// only the resource field.
	KeepMetadata bool

	// Strict turns a later page without the resource field into
	// ErrResourceMissing instead of silently ending the sequence.
	Strict bool

	// Logger receives pagination events. The zero Logger discards them.
	Logger zerolog.Logger
}

// Iterator lazily follows the next links of a paged resource.
// It is not safe for concurrent use.
type Iterator struct {
	fetcher  PageFetcher
	firstURL string
	resource string
	config   Config

	state   State
	nextURL string
	pages   int
}

// New creates an iterator that starts at firstURL and yields the resource
// field of every page (or whole pages with KeepMetadata).
func New(fetcher PageFetcher, firstURL, resource string, config Config) *Iterator {
	return &Iterator{
		fetcher:  fetcher,
		firstURL: firstURL,
		resource: resource,
		config:   config,
		state:    StateFetchingFirst,
	}
}

// State returns the current state.
func (it *Iterator) State() State {
	return it.state
}

// Pages returns how many pages have been fetched since the last Reset.
func (it *Iterator) Pages() int {
	return it.pages
}

// Reset rewinds the iterator to the first page.
func (it *Iterator) Reset() {
	it.state = StateFetchingFirst
	it.nextURL = ""
	it.pages = 0
}

// Next fetches the next page and returns its payload. It returns ErrDone
// once the sequence is exhausted. Any other error also ends the sequence.
// A first page without the resource field returns ErrResourceMissing
// unless it reports an empty collection.
func (it *Iterator) Next(ctx context.Context) (json.RawMessage, error) {
	var url string
	switch it.state {
	case StateFetchingFirst:
		url = it.firstURL
	case StateFetchingNext:
		url = it.nextURL
	default:
		return nil, ErrDone
	}

	raw, err := it.fetcher.FetchPage(ctx, url)
	if err != nil {
		it.state = StateDone
		return nil, fmt.Errorf("fetch page %d of %s: %w", it.pages+1, it.resource, err)
	}
	it.pages++
	pagesFetchedTotal.WithLabelValues(it.resource).Inc()

	page, err := ParsePage(raw)
	if err != nil {
		it.state = StateDone
		return nil, fmt.Errorf("page %d of %s: %w", it.pages, it.resource, err)
	}

	payload := raw
	if !it.config.KeepMetadata {
		field, ok := page.Resource(it.resource)
		if !ok {
			it.state = StateDone
			// The first page must carry the field unless the collection is
			// empty. Later pages only fail in strict mode.
			if page.Empty() || (it.pages > 1 && !it.config.Strict) {
				it.config.Logger.Debug().
					Str("resource", it.resource).
					Int("page", it.pages).
					Msg("Page has no resource field, stopping")
				return nil, ErrDone
			}
			return nil, fmt.Errorf("page %d of %s: %w", it.pages, it.resource, ErrResourceMissing)
		}
		payload = field
	}

	if page.Attributes.Next != "" {
		it.state = StateFetchingNext
		it.nextURL = page.Attributes.Next
	} else {
		it.state = StateDone
		it.nextURL = ""
		it.config.Logger.Debug().
			Str("resource", it.resource).
			Int("pages", it.pages).
			Msg("Pagination complete")
	}

	return payload, nil
}

// All resets the iterator and returns it as a sequence. Iteration stops
// after the first error, which is yielded with a nil payload.
func (it *Iterator) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		it.Reset()
		for {
			payload, err := it.Next(ctx)
			if errors.Is(err, ErrDone) {
				return
			}
			if !yield(payload, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the iterator from its first page. Array payloads are
// flattened into the result; object payloads are appended as they are.
// Page order and in-page order are preserved.
func Collect(ctx context.Context, it *Iterator) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for payload, err := range it.All(ctx) {
		if err != nil {
			return items, err
		}
		items, err = appendPayload(items, payload)
		if err != nil {
			return items, err
		}
	}
	return items, nil
}

// appendPayload flattens one payload into items.
func appendPayload(items []json.RawMessage, payload json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(payload)
	switch {
	case len(trimmed) == 0:
		return items, nil
	case trimmed[0] == '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return items, fmt.Errorf("decode page items: %w", err)
		}
		return append(items, elems...), nil
	case trimmed[0] == '{':
		return append(items, trimmed), nil
	default:
		// Scalars and null are neither list nor object pages.
		return items, nil
	}
}
