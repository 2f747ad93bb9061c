package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Sternrassler/lightspeed-client/pkg/pagination"
)

// Get fetches every page of resource and returns the items of all pages in
// order. With an id the single record is returned as a one-element slice.
func (c *Client) Get(ctx context.Context, resource, id string, query url.Values) ([]json.RawMessage, error) {
	return pagination.Collect(ctx, c.GetPaginated(resource, id, query, false))
}

// GetPaginated returns a lazy iterator over the pages of resource. With
// keepMetadata the whole page, @attributes included, is yielded; otherwise
// only the resource field.
func (c *Client) GetPaginated(resource, id string, query url.Values, keepMetadata bool) *pagination.Iterator {
	return pagination.New(c, c.BuildURL(resource, id, query), resource, pagination.Config{
		KeepMetadata: keepMetadata,
		Strict:       c.config.ErrorMode == ErrorModeStrict,
		Logger:       c.logger,
	})
}

// Post creates a record of resource. query is appended to the URL.
func (c *Client) Post(ctx context.Context, resource string, data any, query url.Values) (*Response, error) {
	body, err := marshalBody(data)
	if err != nil {
		return nil, err
	}
	return c.Dispatch(ctx, http.MethodPost, c.BuildURL(resource, "", query), body)
}

// Put updates record id of resource. A non-empty id takes precedence over
// query, as in BuildURL.
func (c *Client) Put(ctx context.Context, resource, id string, data any, query url.Values) (*Response, error) {
	body, err := marshalBody(data)
	if err != nil {
		return nil, err
	}
	return c.Dispatch(ctx, http.MethodPut, c.BuildURL(resource, id, query), body)
}

// Delete removes record id of resource.
func (c *Client) Delete(ctx context.Context, resource, id string, query url.Values) (*Response, error) {
	return c.Dispatch(ctx, http.MethodDelete, c.BuildURL(resource, id, query), nil)
}

// Create is an alias of Post.
//
// Deprecated: use Post.
func (c *Client) Create(ctx context.Context, resource string, data any, query url.Values) (*Response, error) {
	return c.Post(ctx, resource, data, query)
}

// Update is an alias of Put.
//
// Deprecated: use Put.
func (c *Client) Update(ctx context.Context, resource, id string, data any, query url.Values) (*Response, error) {
	return c.Put(ctx, resource, id, data, query)
}

// NextPage fetches the page linked by page's @attributes.next.
func (c *Client) NextPage(ctx context.Context, page json.RawMessage) (json.RawMessage, error) {
	return pagination.NextPage(ctx, c, page)
}

// PreviousPage fetches the page linked by page's @attributes.previous.
func (c *Client) PreviousPage(ctx context.Context, page json.RawMessage) (json.RawMessage, error) {
	return pagination.PreviousPage(ctx, c, page)
}

func marshalBody(data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return body, nil
}
