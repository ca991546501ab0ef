// Package cloudinary uploads generated images with an unsigned preset.
package cloudinary

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"sheet-etl/internal/fetch"
)

var ErrNotConfigured = errors.New("cloudinary cloud name and upload preset are required")

type Client struct {
	http   *fetch.Client
	base   string
	cloud  string
	preset string
}

// New returns a client for base (https://api.cloudinary.com/v1_1).
func New(http *fetch.Client, base, cloud, preset string) *Client {
	return &Client{http: http, base: strings.TrimRight(base, "/"), cloud: cloud, preset: preset}
}

func (c *Client) Configured() bool { return c.cloud != "" && c.preset != "" }

type Upload struct {
	File     string `json:"file"`
	Preset   string `json:"upload_preset"`
	Folder   string `json:"folder,omitempty"`
	PublicID string `json:"public_id,omitempty"`
	Tags     string `json:"tags,omitempty"`
}

type uploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Bytes     int64  `json:"bytes"`
}

// Result describes a stored image.
type Result struct {
	PublicID string
	URL      string
	Bytes    int64
}

var unsafeID = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// PublicID makes s safe for use as a Cloudinary public ID.
func PublicID(s string) string {
	return unsafeID.ReplaceAllString(strings.NewReplacer("/", "_", `\`, "_").Replace(s), "")
}

// Upload stores dataURL (a data: URL or remote URL) under folder.
func (c *Client) Upload(ctx context.Context, dataURL, folder, publicID string, tags []string) (Result, error) {
	if !c.Configured() {
		return Result{}, ErrNotConfigured
	}
	req := Upload{
		File:     dataURL,
		Preset:   c.preset,
		Folder:   folder,
		PublicID: publicID,
		Tags:     strings.Join(tags, ","),
	}
	var res uploadResponse
	endpoint := c.base + "/" + c.cloud + "/image/upload"
	if err := c.http.PostJSON(ctx, endpoint, nil, req, &res); err != nil {
		return Result{}, err
	}
	url := res.SecureURL
	if url == "" {
		url = res.URL
	}
	if url == "" {
		return Result{}, errors.New("cloudinary upload returned no url")
	}
	return Result{PublicID: res.PublicID, URL: url, Bytes: res.Bytes}, nil
}
