package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/internal/models"
	"wacompose/internal/security"
	"wacompose/pkg/whatsapp/types"
)

// Fetcher turns a MediaUpload into a byte stream, downloading URL sources
type Fetcher struct {
	httpClient    *http.Client
	allowFileURLs bool
	fileRoot      string
}

func NewFetcher(cfg models.MediaConfig) *Fetcher {
	timeout := time.Duration(cfg.FetchTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultFetchTimeoutSec * time.Second
	}
	return &Fetcher{
		httpClient:    &http.Client{Timeout: timeout},
		allowFileURLs: cfg.AllowFileURLs,
		fileRoot:      cfg.FileRoot,
	}
}

// Open consumes upload and returns its content. The caller closes the
// stream. A second Open of the same upload fails.
func (f *Fetcher) Open(ctx context.Context, upload *types.MediaUpload) (io.ReadCloser, error) {
	kind, err := upload.Source()
	if err != nil {
		return nil, errors.NewInvalidContentError("media", err.Error())
	}
	if err := upload.Consume(); err != nil {
		return nil, errors.NewInvalidContentError("media", err.Error())
	}

	switch kind {
	case types.UploadSourceBytes:
		return io.NopCloser(bytes.NewReader(upload.Data)), nil
	case types.UploadSourceStream:
		if rc, ok := upload.Stream.(io.ReadCloser); ok {
			return rc, nil
		}
		return io.NopCloser(upload.Stream), nil
	default:
		return f.openURL(ctx, upload.URL)
	}
}

func (f *Fetcher) openURL(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.NewMediaFetchError(rawURL, fmt.Errorf("invalid media URL: %w", err))
	}

	switch u.Scheme {
	case "http", "https":
		return f.download(ctx, u)
	case "file":
		return f.openFile(u)
	default:
		return nil, errors.NewMediaFetchError(u.Redacted(), fmt.Errorf("unsupported URL scheme: %s", u.Scheme))
	}
}

func (f *Fetcher) download(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.NewMediaFetchError(u.Redacted(), fmt.Errorf("failed to create request: %w", err))
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewMediaFetchError(u.Redacted(), fmt.Errorf("failed to download media: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.NewMediaFetchError(u.Redacted(), fmt.Errorf("download failed with status: %d", resp.StatusCode))
	}
	return resp.Body, nil
}

func (f *Fetcher) openFile(u *url.URL) (io.ReadCloser, error) {
	if !f.allowFileURLs {
		return nil, errors.NewMediaFetchError(u.String(), fmt.Errorf("file URLs are disabled"))
	}

	path := u.Path
	var err error
	if f.fileRoot != "" {
		path, err = security.ResolveWithinBase(path, f.fileRoot)
	} else {
		err = security.ValidateFilePath(path)
	}
	if err != nil {
		return nil, errors.NewMediaFetchError(u.String(), fmt.Errorf("invalid media path: %w", err))
	}

	file, err := os.Open(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, errors.NewMediaFetchError(u.String(), fmt.Errorf("failed to open file: %w", err))
	}
	return file, nil
}
