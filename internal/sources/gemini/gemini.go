// Package gemini generates images with the Gemini generateContent API.
package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"sheet-etl/internal/fetch"
)

var ErrNoImage = errors.New("no image in response")

type Client struct {
	http *fetch.Client
	base string
	key  string
}

// New returns a client for base (https://generativelanguage.googleapis.com/v1beta).
func New(http *fetch.Client, base, key string) *Client {
	return &Client{http: http, base: strings.TrimRight(base, "/"), key: key}
}

// Image is an input or output image.
type Image struct {
	MIMEType string
	Data     []byte
}

type ImageRequest struct {
	Model  string
	Prompt string
	// Style is the base image whose style is kept; Reference is optional.
	Style     Image
	Reference *Image
	// Ratio is "auto" or an aspect ratio like "16:9".
	Ratio string
	// Resolution is only honored by the pro models.
	Resolution string
}

type inlineData struct {
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type generateRequest struct {
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	Temperature        float64      `json:"temperature"`
	TopK               int          `json:"topK"`
	TopP               float64      `json:"topP"`
	CandidateCount     int          `json:"candidateCount"`
	ResponseModalities []string     `json:"responseModalities"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	ImageSize   string `json:"imageSize,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text       string `json:"text"`
				InlineData *struct {
					MIMEType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// IsPro reports whether model accepts an explicit image size.
func IsPro(model string) bool { return strings.Contains(model, "pro") }

func prompt(req ImageRequest) string {
	var b strings.Builder
	b.WriteString("Expert 2D illustrator task:\n")
	b.WriteString("Input 1: Base style to maintain\n")
	if req.Reference != nil {
		b.WriteString("Input 2: Reference for details\n")
	}
	b.WriteString(req.Prompt)
	b.WriteString("\n")
	if req.Ratio != "" && req.Ratio != "auto" {
		fmt.Fprintf(&b, "Use %s aspect ratio.\n", req.Ratio)
	}
	b.WriteString("Maintain base style exactly. Clean vector art.")
	return b.String()
}

func inline(img Image) part {
	mime := img.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return part{InlineData: &inlineData{MIMEType: mime, Data: base64.StdEncoding.EncodeToString(img.Data)}}
}

// GenerateImage returns the first image of the first candidate.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (Image, error) {
	parts := []part{inline(req.Style)}
	if req.Reference != nil {
		parts = append(parts, inline(*req.Reference))
	}
	parts = append(parts, part{Text: prompt(req)})

	var body generateRequest
	body.Contents = append(body.Contents, struct {
		Parts []part `json:"parts"`
	}{Parts: parts})
	body.GenerationConfig = generationConfig{
		Temperature:        0.4,
		TopK:               32,
		TopP:               1,
		CandidateCount:     1,
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if IsPro(req.Model) {
		cfg := &imageConfig{ImageSize: req.Resolution}
		if req.Ratio != "auto" {
			cfg.AspectRatio = req.Ratio
		}
		body.GenerationConfig.ImageConfig = cfg
	}

	var res generateResponse
	endpoint := c.base + "/models/" + url.PathEscape(req.Model) + ":generateContent"
	headers := map[string]string{"x-goog-api-key": c.key}
	if err := c.http.PostJSON(ctx, endpoint, headers, body, &res); err != nil {
		return Image{}, err
	}
	for _, cand := range res.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return Image{}, fmt.Errorf("decode image: %w", err)
			}
			mime := p.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return Image{MIMEType: mime, Data: data}, nil
		}
	}
	return Image{}, ErrNoImage
}
