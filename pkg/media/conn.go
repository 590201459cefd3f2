package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/metrics"
	"wacompose/internal/models"
	"wacompose/pkg/circuitbreaker"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ConnFetcher retrieves fresh media connection info
type ConnFetcher interface {
	FetchMediaConn(ctx context.Context) (*types.MediaConnInfo, error)
}

// ConnCache holds the media connection info of one session. It is created
// empty, fetched on first use and refreshed once expired; concurrent
// callers share a single in-flight refresh.
type ConnCache struct {
	fetcher ConnFetcher
	logger  *logrus.Logger
	now     func() time.Time

	mu    sync.RWMutex
	info  *types.MediaConnInfo
	group singleflight.Group
}

func NewConnCache(fetcher ConnFetcher, logger *logrus.Logger) *ConnCache {
	return &ConnCache{fetcher: fetcher, logger: logger, now: time.Now}
}

// Get returns valid connection info, refreshing it when absent or expired
func (c *ConnCache) Get(ctx context.Context) (*types.MediaConnInfo, error) {
	c.mu.RLock()
	info := c.info
	c.mu.RUnlock()
	if info != nil && info.ValidAt(c.now()) {
		return info, nil
	}
	return c.refresh(ctx, false)
}

// Refresh fetches new connection info even if the current one is valid
func (c *ConnCache) Refresh(ctx context.Context) (*types.MediaConnInfo, error) {
	return c.refresh(ctx, true)
}

// Invalidate drops the cached info, e.g. after the upload host rejected its auth
func (c *ConnCache) Invalidate() {
	c.mu.Lock()
	c.info = nil
	c.mu.Unlock()
}

func (c *ConnCache) refresh(ctx context.Context, force bool) (*types.MediaConnInfo, error) {
	ch := c.group.DoChan("media-conn", func() (any, error) {
		if !force {
			c.mu.RLock()
			current := c.info
			c.mu.RUnlock()
			if current != nil && current.ValidAt(c.now()) {
				return current, nil
			}
		}

		info, err := c.fetcher.FetchMediaConn(context.WithoutCancel(ctx))
		if err != nil {
			metrics.RecordConnRefresh("error")
			return nil, err
		}
		if info.FetchDate.IsZero() {
			info.FetchDate = c.now()
		}

		c.mu.Lock()
		c.info = info
		c.mu.Unlock()

		metrics.RecordConnRefresh("ok")
		c.logger.WithFields(logrus.Fields{
			"hosts":      len(info.Hosts),
			"expires_at": info.ExpiresAt(),
		}).Debug("Media connection info refreshed")
		return info, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("refresh media connection: %w", res.Err)
		}
		return res.Val.(*types.MediaConnInfo), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SelectHost returns the first host that accepts a payload of size bytes.
// A host without a limit accepts any size.
func SelectHost(info *types.MediaConnInfo, size int64) (types.MediaHost, error) {
	for _, host := range info.Hosts {
		if host.MaxContentLengthBytes <= 0 || size <= host.MaxContentLengthBytes {
			return host, nil
		}
	}
	return types.MediaHost{}, fmt.Errorf("no upload host accepts %d bytes", size)
}

type connResponse struct {
	Auth  string            `json:"auth"`
	TTL   int64             `json:"ttl"`
	Hosts []types.MediaHost `json:"hosts"`
}

// HTTPConnFetcher loads connection info as JSON from an endpoint, behind a
// circuit breaker so a dead endpoint is not hammered by every upload
type HTTPConnFetcher struct {
	endpoint   string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	now        func() time.Time
}

func NewHTTPConnFetcher(cfg models.MediaConfig, logger *logrus.Logger) *HTTPConnFetcher {
	timeout := time.Duration(cfg.ConnTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultConnTimeoutSec * time.Second
	}
	return &HTTPConnFetcher{
		endpoint:   cfg.ConnEndpoint,
		httpClient: &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:         "media-conn",
			MaxFailures:  constants.DefaultConnFailureLimit,
			ResetTimeout: constants.DefaultConnBreakerResetSec * time.Second,
		}, logger),
		now: time.Now,
	}
}

func (f *HTTPConnFetcher) FetchMediaConn(ctx context.Context) (*types.MediaConnInfo, error) {
	if f.endpoint == "" {
		return nil, fmt.Errorf("media connection endpoint is not configured")
	}

	var info *types.MediaConnInfo
	err := f.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch media connection: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("media connection endpoint returned status %d", resp.StatusCode)
		}

		var body connResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("failed to decode media connection: %w", err)
		}
		if body.Auth == "" || len(body.Hosts) == 0 {
			return fmt.Errorf("media connection response is missing auth or hosts")
		}

		info = &types.MediaConnInfo{
			Auth:      body.Auth,
			TTL:       body.TTL,
			Hosts:     body.Hosts,
			FetchDate: f.now(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}
