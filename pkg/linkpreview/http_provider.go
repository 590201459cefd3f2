package linkpreview

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/models"
	"wacompose/pkg/whatsapp/types"

	"golang.org/x/net/html"
)

// HTTPProvider fetches a page and reads its title and Open Graph tags
type HTTPProvider struct {
	httpClient     *http.Client
	maxBodyBytes   int64
	fetchThumbnail bool
	thumbnailBytes int64
}

func NewHTTPProvider(cfg models.LinkPreviewConfig) *HTTPProvider {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultLinkPreviewTimeoutSec * time.Second
	}
	maxKB := cfg.MaxBodyKB
	if maxKB <= 0 {
		maxKB = constants.DefaultLinkPreviewMaxBodyKB
	}
	return &HTTPProvider{
		httpClient:     &http.Client{Timeout: timeout},
		maxBodyBytes:   int64(maxKB) * 1024,
		fetchThumbnail: cfg.FetchThumbnail,
		thumbnailBytes: constants.DefaultThumbnailMaxKB * 1024,
	}
}

// pageMeta is what the HTML head yields
type pageMeta struct {
	title       string
	ogTitle     string
	description string
	ogURL       string
	ogImage     string
}

func (p *HTTPProvider) GetURLInfo(ctx context.Context, link string) (*types.URLInfo, error) {
	base, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("invalid link: %w", err)
	}

	body, contentType, err := p.get(ctx, link, p.maxBodyBytes)
	if err != nil {
		return nil, err
	}
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType != "" && mediaType != "text/html" {
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}

	meta, err := parseHead(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	info := &types.URLInfo{
		CanonicalURL: link,
		Title:        firstNonEmpty(meta.ogTitle, meta.title),
		Description:  meta.description,
	}
	if info.Title == "" {
		return nil, fmt.Errorf("page has no title")
	}
	if meta.ogURL != "" {
		if canonical, err := base.Parse(meta.ogURL); err == nil {
			info.CanonicalURL = canonical.String()
		}
	}

	if p.fetchThumbnail && meta.ogImage != "" {
		if imageURL, err := base.Parse(meta.ogImage); err == nil {
			info.JPEGThumbnail = p.thumbnail(ctx, imageURL.String())
		}
	}
	return info, nil
}

// thumbnail returns a small JPEG or nil
func (p *HTTPProvider) thumbnail(ctx context.Context, link string) []byte {
	data, contentType, err := p.get(ctx, link, p.thumbnailBytes+1)
	if err != nil || int64(len(data)) > p.thumbnailBytes {
		return nil
	}
	if mediaType, _, _ := mime.ParseMediaType(contentType); mediaType != "image/jpeg" {
		return nil
	}
	return data
}

func (p *HTTPProvider) get(ctx context.Context, link string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "WhatsApp/2")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// parseHead tokenizes until </head> or <body>, collecting metadata
func parseHead(r io.Reader) (pageMeta, error) {
	var meta pageMeta
	z := html.NewTokenizer(r)
	inTitle := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return meta, nil
			}
			return meta, z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = true
			case "body":
				return meta, nil
			case "meta":
				applyMeta(&meta, tok.Attr)
			}

		case html.EndTagToken:
			tok := z.Token()
			switch tok.Data {
			case "title":
				inTitle = false
			case "head":
				return meta, nil
			}

		case html.TextToken:
			if inTitle && meta.title == "" {
				meta.title = strings.TrimSpace(string(z.Text()))
			}
		}
	}
}

func applyMeta(meta *pageMeta, attrs []html.Attribute) {
	var key, content string
	for _, a := range attrs {
		switch strings.ToLower(a.Key) {
		case "property", "name":
			key = strings.ToLower(a.Val)
		case "content":
			content = strings.TrimSpace(a.Val)
		}
	}
	switch key {
	case "og:title":
		meta.ogTitle = content
	case "og:description":
		meta.description = content
	case "description":
		if meta.description == "" {
			meta.description = content
		}
	case "og:url":
		meta.ogURL = content
	case "og:image":
		meta.ogImage = content
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
