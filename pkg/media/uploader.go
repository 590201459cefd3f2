package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	internalmedia "wacompose/internal/media"
	"wacompose/pkg/whatsapp/types"
)

// UploadRequest describes one payload handed to an Uploader
type UploadRequest struct {
	Fingerprint []byte
	MediaType   types.MediaType
	// Timeout is advisory; the orchestrator enforces it independently
	Timeout time.Duration
	Size    int64
}

// Uploader is the capability that hosts media. Any error is terminal for
// the call.
type Uploader interface {
	Upload(ctx context.Context, r io.Reader, req UploadRequest) (*types.UploadResult, error)
}

// UploaderFunc adapts a function to Uploader
type UploaderFunc func(ctx context.Context, r io.Reader, req UploadRequest) (*types.UploadResult, error)

func (f UploaderFunc) Upload(ctx context.Context, r io.Reader, req UploadRequest) (*types.UploadResult, error) {
	return f(ctx, r, req)
}

// HTTPUploader posts media to a host chosen from the session's connection info
type HTTPUploader struct {
	conns      *ConnCache
	router     internalmedia.Router
	httpClient *http.Client
	scheme     string
}

func NewHTTPUploader(conns *ConnCache, router internalmedia.Router) *HTTPUploader {
	return &HTTPUploader{
		conns:      conns,
		router:     router,
		httpClient: &http.Client{},
		scheme:     "https",
	}
}

func (u *HTTPUploader) Upload(ctx context.Context, r io.Reader, req UploadRequest) (*types.UploadResult, error) {
	path, err := u.router.UploadPath(req.MediaType)
	if err != nil {
		return nil, err
	}
	info, err := u.conns.Get(ctx)
	if err != nil {
		return nil, err
	}
	host, err := SelectHost(info, req.Size)
	if err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	token := base64.URLEncoding.EncodeToString(req.Fingerprint)
	target := fmt.Sprintf("%s://%s%s/%s?auth=%s&token=%s",
		u.scheme, host.Hostname, path, token, url.QueryEscape(info.Auth), token)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.ContentLength = req.Size
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Origin", "https://web.whatsapp.com")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		// the call still fails; the next upload uses the new auth
		if _, err := u.conns.Refresh(ctx); err != nil {
			u.conns.Invalidate()
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload host %s returned status %d", host.Hostname, resp.StatusCode)
	}

	var result types.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	if result.MediaURL == "" && result.DirectPath == "" {
		return nil, fmt.Errorf("upload response has neither url nor direct_path")
	}
	return &result, nil
}
