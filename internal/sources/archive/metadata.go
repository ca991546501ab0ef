package archive

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoMetadata is returned for items the archive knows nothing about; the
// metadata endpoint answers those with an empty object.
var ErrNoMetadata = errors.New("no metadata")

type File struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Size   Text   `json:"size"`
}

// Metadata is the answer of the /metadata endpoint. Raw keeps the body for
// the long-text dump.
type Metadata struct {
	Files    []File          `json:"files"`
	Fields   map[string]Text `json:"-"`
	Raw      json.RawMessage `json:"-"`
	collects List
}

type metadataResponse struct {
	Files    []File                     `json:"files"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// Metadata fetches metadata by item identifier.
func (c *Client) Metadata(ctx context.Context, id string) (*Metadata, error) {
	return c.MetadataAt(ctx, c.MetadataURL(id))
}

// MetadataAt fetches metadata from a full metadata URL as stored in a row.
// A stray "$" in the URL is dropped.
func (c *Client) MetadataAt(ctx context.Context, metadataURL string) (*Metadata, error) {
	metadataURL = strings.TrimSpace(strings.ReplaceAll(metadataURL, "$", ""))

	var raw json.RawMessage
	if err := c.http.GetJSON(ctx, metadataURL, nil, &raw); err != nil {
		return nil, err
	}
	var res metadataResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	if len(res.Metadata) == 0 {
		return nil, ErrNoMetadata
	}

	md := &Metadata{Files: res.Files, Fields: make(map[string]Text, len(res.Metadata)), Raw: raw}
	for k, v := range res.Metadata {
		var t Text
		if err := json.Unmarshal(v, &t); err != nil {
			continue
		}
		md.Fields[k] = t
		if k == "collection" {
			_ = json.Unmarshal(v, &md.collects)
		}
	}
	return md, nil
}

// Get returns a metadata field, lists joined with "; ".
func (m *Metadata) Get(name string) string { return strings.TrimSpace(string(m.Fields[name])) }

func (m *Metadata) Identifier() string { return m.Get("identifier") }

func (m *Metadata) Collections() []string { return m.collects }

// PDF returns the first PDF file of the item.
func (m *Metadata) PDF() (File, bool) {
	for _, f := range m.Files {
		if f.Format == "PDF" || strings.HasSuffix(strings.ToLower(f.Name), ".pdf") {
			return f, true
		}
	}
	return File{}, false
}

// OCRText returns the plain text OCR file of the item.
func (m *Metadata) OCRText() (File, bool) {
	for _, f := range m.Files {
		if f.Format == "Text" || f.Format == "DjVuTXT" {
			return f, true
		}
	}
	return File{}, false
}

// Pretty renders the raw metadata indented for a long text field.
func (m *Metadata) Pretty() string {
	var v any
	if err := json.Unmarshal(m.Raw, &v); err != nil {
		return string(m.Raw)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(m.Raw)
	}
	return string(b)
}

// Download returns the text content of one of the item's files.
func (c *Client) Download(ctx context.Context, id string, f File) (string, error) {
	return c.http.GetText(ctx, c.DownloadURL(id, f.Name), nil)
}
