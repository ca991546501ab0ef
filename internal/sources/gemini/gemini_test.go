package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sheet-etl/internal/config"
	"sheet-etl/internal/fetch"

	"github.com/stretchr/testify/require"
)

func TestGenerateImage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models/gemini-3-pro-image-preview:generateContent", r.URL.Path)
		require.Equal(t, "AIza-test", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		out := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
		w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "here"}, {"inlineData": {"mimeType": "image/png", "data": "` + out + `"}}]}}]}`))
	}))
	defer srv.Close()

	c := New(fetch.NewClient(config.HTTPConfig{Timeout: 5 * time.Second}), srv.URL, "AIza-test")
	img, err := c.GenerateImage(context.Background(), ImageRequest{
		Model:      "gemini-3-pro-image-preview",
		Prompt:     "a steam engine",
		Style:      Image{Data: []byte("style")},
		Ratio:      "16:9",
		Resolution: "2K",
	})
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(img.Data))
	require.Equal(t, "image/png", img.MIMEType)

	cfg := body["generationConfig"].(map[string]any)
	require.Equal(t, map[string]any{"imageSize": "2K", "aspectRatio": "16:9"}, cfg["imageConfig"])
}

func TestGenerateImageWithoutImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "sorry"}]}}]}`))
	}))
	defer srv.Close()

	c := New(fetch.NewClient(config.HTTPConfig{Timeout: 5 * time.Second}), srv.URL, "k")
	_, err := c.GenerateImage(context.Background(), ImageRequest{Model: "gemini-2.5-flash-image", Style: Image{Data: []byte("s")}})
	require.ErrorIs(t, err, ErrNoImage)
}
