// Package archive reads items from the Internet Archive advanced search and
// metadata APIs.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"sheet-etl/internal/fetch"
	"sheet-etl/internal/record"
	"sheet-etl/internal/sources/markup"
)

// PageSize is the number of search results requested per call.
const PageSize = 100

var searchFields = []string{
	"identifier", "title", "creator", "language", "publicdate", "uploader",
	"description", "mediatype", "downloads", "collection",
}

type Client struct {
	http *fetch.Client
	base string
}

// New returns a client for the archive at base, e.g. https://archive.org.
func New(http *fetch.Client, base string) *Client {
	return &Client{http: http, base: strings.TrimRight(base, "/")}
}

// ItemURL is the public details page of an item.
func (c *Client) ItemURL(id string) string { return c.base + "/details/" + id }

// MetadataURL is the metadata endpoint of an item.
func (c *Client) MetadataURL(id string) string { return c.base + "/metadata/" + id }

// DownloadURL points at one file of an item.
func (c *Client) DownloadURL(id, name string) string {
	return c.base + "/download/" + id + "/" + url.PathEscape(name)
}

type SearchQuery struct {
	Query     string
	Language  string
	MediaType string
	Max       int
}

// String renders the advanced search expression.
func (q SearchQuery) String() string {
	s := q.Query
	if q.Language != "" {
		s += " AND language:" + q.Language
	}
	if q.MediaType != "" {
		s += " AND mediatype:" + q.MediaType
	}
	return s
}

// Text decodes archive fields that come back either as a scalar or as a
// list of scalars. Lists are joined with "; ".
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Text(flatten(v))
	return nil
}

func flatten(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any:
		parts := make([]string, 0, len(x))
		for _, e := range x {
			if s := flatten(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	}
	return fmt.Sprint(v)
}

// List decodes a scalar-or-list field into a slice.
type List []string

func (l *List) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*l = nil
	case []any:
		out := make(List, 0, len(x))
		for _, e := range x {
			if s := flatten(e); s != "" {
				out = append(out, s)
			}
		}
		*l = out
	default:
		if s := flatten(x); s != "" {
			*l = List{s}
		}
	}
	return nil
}

// Doc is one advanced search result.
type Doc struct {
	Identifier  string `json:"identifier"`
	Title       Text   `json:"title"`
	Creator     Text   `json:"creator"`
	Language    Text   `json:"language"`
	PublicDate  Text   `json:"publicdate"`
	Uploader    Text   `json:"uploader"`
	Description Text   `json:"description"`
	MediaType   Text   `json:"mediatype"`
	Downloads   Text   `json:"downloads"`
	Collection  List   `json:"collection"`
}

type searchResponse struct {
	Response struct {
		NumFound int   `json:"numFound"`
		Docs     []Doc `json:"docs"`
	} `json:"response"`
}

// Record converts a search result into a source record keyed by identifier.
// A missing title falls back to the identifier.
func (c *Client) Record(d Doc) record.Source {
	title := strings.TrimSpace(string(d.Title))
	if title == "" {
		title = d.Identifier
	}
	return record.Source{
		Key: d.Identifier,
		Fields: record.Fields{
			"identifier":   record.String(d.Identifier),
			"title":        record.String(title),
			"creator":      record.StringOrNull(string(d.Creator)),
			"language":     record.StringOrNull(string(d.Language)),
			"publicdate":   record.DateFromString(string(d.PublicDate)),
			"uploader":     record.StringOrNull(string(d.Uploader)),
			"description":  record.StringOrNull(markup.StripHTML(string(d.Description))),
			"mediatype":    record.StringOrNull(string(d.MediaType)),
			"downloads":    record.NumberFromString(string(d.Downloads)),
			"item_url":     record.String(c.ItemURL(d.Identifier)),
			"metadata_url": record.String(c.MetadataURL(d.Identifier)),
		},
	}
}

// Search pages through advanced search results up to q.Max records. Pages
// are numbered, so every call asks for the same number of rows and the pager
// trims the last page.
func (c *Client) Search(q SearchQuery) fetch.Source {
	rows := PageSize
	if q.Max > 0 && q.Max < rows {
		rows = q.Max
	}
	return fetch.Pager{
		Endpoint: "archive search",
		PageSize: rows,
		Max:      q.Max,
		Fetch: func(ctx context.Context, req fetch.PageRequest) (fetch.Page, error) {
			docs, err := c.SearchPage(ctx, q, req.Index+1, rows)
			if err != nil {
				return fetch.Page{}, err
			}
			page := fetch.Page{Records: make([]record.Source, 0, len(docs))}
			for _, d := range docs {
				page.Records = append(page.Records, c.Record(d))
			}
			return page, nil
		},
	}
}

// SearchPage fetches one page of results. page is one-based.
func (c *Client) SearchPage(ctx context.Context, q SearchQuery, page, rows int) ([]Doc, error) {
	params := url.Values{
		"q":      {q.String()},
		"fl[]":   searchFields,
		"rows":   {strconv.Itoa(rows)},
		"page":   {strconv.Itoa(page)},
		"output": {"json"},
	}
	var res searchResponse
	if err := c.http.GetJSON(ctx, c.base+"/advancedsearch.php", params, &res); err != nil {
		return nil, err
	}
	return res.Response.Docs, nil
}
