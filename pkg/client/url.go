package client

import (
	"net/url"
	"sort"
	"strings"
)

// BuildURL returns the endpoint URL of a resource:
//
//	Sale                       -> <base>Sale.json
//	Sale, id 42                -> <base>Sale/42.json
//	Sale, query load_relations -> <base>Sale.json?load_relations=...
//
// An id takes precedence over the query.
func (c *Client) BuildURL(resource, id string, query url.Values) string {
	switch {
	case id != "":
		return c.baseURL + resource + "/" + id + ".json"
	case len(query) > 0:
		return c.baseURL + resource + ".json?" + EncodeQuery(query)
	default:
		return c.baseURL + resource + ".json"
	}
}

// EncodeQuery form-encodes query sorted by key. Spaces become '+', and ':'
// and '-' are left unescaped so Lightspeed operators such as
// "timeStamp=>,2024-01-01T00:00:00-00:00" stay readable.
func EncodeQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf strings.Builder
	for _, k := range keys {
		for _, v := range query[k] {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(escape(k))
			buf.WriteByte('=')
			buf.WriteString(escape(v))
		}
	}
	return buf.String()
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "%3A", ":")
}
