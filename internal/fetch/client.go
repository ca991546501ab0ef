package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"sheet-etl/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
)

// StatusError is returned for any non-success HTTP status.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "…"
	}
	if body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Endpoint, e.Status, body)
}

// Client wraps a resty client. Every call is attempted exactly once.
type Client struct {
	http *resty.Client
}

// NewClient builds a client honouring the configured timeout and user agent.
func NewClient(cfg config.HTTPConfig) *Client {
	cli := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent)
	return &Client{http: cli}
}

// Request starts a request bound to ctx. Callers add headers, query
// parameters and bodies before handing it to Do.
func (c *Client) Request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx)
}

// Do executes req once and fails on any non-2xx status.
func (c *Client) Do(req *resty.Request, method, endpoint string) (*resty.Response, error) {
	res, err := req.Execute(method, endpoint)
	shown := Redact(endpoint, req.QueryParam)
	if err != nil {
		// url.Error carries the full request URL, credentials included.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("%s %s: %w", method, shown, err)
	}
	logrus.Debugf("%s %s -> %d", method, shown, res.StatusCode())
	if res.IsError() || res.StatusCode() < 200 || res.StatusCode() > 299 {
		return res, &StatusError{Endpoint: shown, Status: res.StatusCode(), Body: res.String()}
	}
	return res, nil
}

// GetJSON issues a GET and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, out any) error {
	req := c.Request(ctx).SetQueryParamsFromValues(query)
	res, err := c.Do(req, resty.MethodGet, endpoint)
	if err != nil {
		return err
	}
	return decode(res, Redact(endpoint, query), out)
}

// PostJSON sends body as JSON and decodes the JSON answer into out.
func (c *Client) PostJSON(ctx context.Context, endpoint string, headers map[string]string, body, out any) error {
	req := c.Request(ctx).
		SetHeaders(headers).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	res, err := c.Do(req, resty.MethodPost, endpoint)
	if err != nil {
		return err
	}
	return decode(res, Redact(endpoint, nil), out)
}

// GetText returns the response body decoded to UTF-8 from the charset the
// server declares, or sniffed from the body when none is declared.
func (c *Client) GetText(ctx context.Context, endpoint string, query url.Values) (string, error) {
	req := c.Request(ctx).SetQueryParamsFromValues(query)
	res, err := c.Do(req, resty.MethodGet, endpoint)
	if err != nil {
		return "", err
	}
	r, err := charset.NewReader(bytes.NewReader(res.Body()), res.Header().Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("%s: %w", Redact(endpoint, query), err)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%s: %w", Redact(endpoint, query), err)
	}
	return string(b), nil
}

// GetBytes returns the raw response body.
func (c *Client) GetBytes(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	req := c.Request(ctx).SetQueryParamsFromValues(query)
	res, err := c.Do(req, resty.MethodGet, endpoint)
	if err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func decode(res *resty.Response, endpoint string, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(res.Body(), out); err != nil {
		return fmt.Errorf("%s: malformed JSON: %w", endpoint, err)
	}
	return nil
}

var secretParams = regexp.MustCompile(`(?i)^(key|api_key|apikey|token|access_token)$`)

// Redact renders endpoint with its query, hiding credential parameters so
// errors and logs can name the URL safely.
func Redact(endpoint string, query url.Values) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	for k := range q {
		if secretParams.MatchString(k) {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
