package linkpreview

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wacompose/internal/models"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestExtractURL(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantLink    string
		wantMatched string
		wantOK      bool
	}{
		{"none", "just text", "", "", false},
		{"https", "see https://example.com/a?b=1 now", "https://example.com/a?b=1", "https://example.com/a?b=1", true},
		{"trailing punctuation", "go to http://example.com.", "http://example.com", "http://example.com", true},
		{"www", "visit www.example.org", "https://www.example.org", "www.example.org", true},
		{"first wins", "https://a.com and https://b.com", "https://a.com", "https://a.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, matched, ok := ExtractURL(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantLink, link)
			assert.Equal(t, tt.wantMatched, matched)
		})
	}
}

func TestResolver_BestEffort(t *testing.T) {
	ctx := context.Background()

	failing := NewResolver(ProviderFunc(func(context.Context, string) (*types.URLInfo, error) {
		return nil, assert.AnError
	}), time.Second, quietLogger())
	assert.Nil(t, failing.Resolve(ctx, "see https://example.com"))

	var nilResolver *Resolver
	assert.Nil(t, nilResolver.Resolve(ctx, "see https://example.com"))

	called := false
	noLink := NewResolver(ProviderFunc(func(context.Context, string) (*types.URLInfo, error) {
		called = true
		return &types.URLInfo{}, nil
	}), time.Second, quietLogger())
	assert.Nil(t, noLink.Resolve(ctx, "nothing here"))
	assert.False(t, called)
}

func TestResolver_FillsMatchedText(t *testing.T) {
	r := NewResolver(ProviderFunc(func(_ context.Context, link string) (*types.URLInfo, error) {
		return &types.URLInfo{Title: "Example"}, nil
	}), time.Second, quietLogger())

	info := r.Resolve(context.Background(), "visit www.example.org today")
	require.NotNil(t, info)
	assert.Equal(t, "www.example.org", info.MatchedText)
	assert.Equal(t, "https://www.example.org", info.CanonicalURL)
	assert.Equal(t, "Example", info.Title)
}

func TestResolver_SetEnabled(t *testing.T) {
	calls := 0
	r := NewResolver(ProviderFunc(func(context.Context, string) (*types.URLInfo, error) {
		calls++
		return &types.URLInfo{Title: "Example"}, nil
	}), time.Second, quietLogger())

	r.SetEnabled(false)
	assert.Nil(t, r.Resolve(context.Background(), "https://example.org"))
	assert.Equal(t, 0, calls)

	r.SetEnabled(true)
	assert.NotNil(t, r.Resolve(context.Background(), "https://example.org"))
	assert.Equal(t, 1, calls)
}

func TestHTTPProvider(t *testing.T) {
	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, `<!doctype html><html><head>
				<title> Plain title </title>
				<meta property="og:title" content="OG title">
				<meta name="description" content="Plain description">
				<meta property="og:description" content="OG description">
				<meta property="og:url" content="/canonical">
				<meta property="og:image" content="/thumb.jpg">
				</head><body><meta property="og:title" content="ignored"></body></html>`)
		case "/thumb.jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(jpeg)
		case "/untitled":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, `<html><head></head></html>`)
		case "/binary":
			w.Header().Set("Content-Type", "application/zip")
			_, _ = w.Write([]byte("PK"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	p := NewHTTPProvider(models.LinkPreviewConfig{FetchThumbnail: true})

	info, err := p.GetURLInfo(ctx, server.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, "OG title", info.Title)
	assert.Equal(t, "OG description", info.Description)
	assert.Equal(t, server.URL+"/canonical", info.CanonicalURL)
	assert.Equal(t, jpeg, info.JPEGThumbnail)

	noThumb := NewHTTPProvider(models.LinkPreviewConfig{})
	info, err = noThumb.GetURLInfo(ctx, server.URL+"/article")
	require.NoError(t, err)
	assert.Nil(t, info.JPEGThumbnail)

	for _, path := range []string{"/untitled", "/binary", "/missing"} {
		_, err := p.GetURLInfo(ctx, server.URL+path)
		assert.Error(t, err, path)
	}
}

func TestParseHead_TitleFallback(t *testing.T) {
	meta, err := parseHead(strings.NewReader(`<head><title>Only title</title><meta name="description" content="d"></head>`))
	require.NoError(t, err)
	assert.Equal(t, "Only title", meta.title)
	assert.Equal(t, "d", meta.description)
	assert.Equal(t, "", meta.ogTitle)
}
