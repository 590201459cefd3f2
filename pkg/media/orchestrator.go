package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"wacompose/internal/errors"
	internalmedia "wacompose/internal/media"
	"wacompose/internal/metrics"
	"wacompose/internal/tracing"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Opener turns a MediaUpload into a readable stream
type Opener interface {
	Open(ctx context.Context, upload *types.MediaUpload) (io.ReadCloser, error)
}

// Uploaded is hosted media together with the digest and size of its bytes
type Uploaded struct {
	types.UploadResult
	FileSHA256 []byte
	FileLength uint64
}

// Orchestrator hosts raw media. Identical content of the same media type is
// uploaded at most once while cached, and concurrent requests for it share
// one upload.
type Orchestrator struct {
	opener   Opener
	uploader Uploader
	cache    UploadCache
	router   internalmedia.Router
	tempDir  string
	logger   *logrus.Logger
	inflight singleflight.Group
}

func NewOrchestrator(opener Opener, uploader Uploader, cache UploadCache, router internalmedia.Router, tempDir string, logger *logrus.Logger) *Orchestrator {
	if cache == nil {
		cache = NoopUploadCache{}
	}
	return &Orchestrator{
		opener:   opener,
		uploader: uploader,
		cache:    cache,
		router:   router,
		tempDir:  tempDir,
		logger:   logger,
	}
}

// Upload hosts upload as mediaType. The upload capability is called at most
// once per call; a timeout of zero waits for it indefinitely.
func (o *Orchestrator) Upload(ctx context.Context, upload *types.MediaUpload, mediaType types.MediaType, timeout time.Duration) (*Uploaded, error) {
	ctx, span := tracing.StartSpan(ctx, "media.upload", attribute.String("media_type", string(mediaType)))
	defer span.End()

	if upload == nil {
		return nil, errors.NewInvalidContentError(string(mediaType), "missing media")
	}
	kind, err := upload.Source()
	if err != nil {
		return nil, errors.NewInvalidContentError(string(mediaType), err.Error())
	}

	rc, err := o.opener.Open(ctx, upload)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	payload, err := o.stage(rc, kind, mediaType)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer payload.release()

	key := CacheKey(mediaType, payload.sha)
	uploaded := &Uploaded{FileSHA256: payload.sha, FileLength: uint64(payload.size)}
	tracing.AddSpanAttributes(ctx, attribute.Int64("size", payload.size))

	if cached, ok := o.lookup(ctx, key); ok {
		metrics.RecordUpload(string(mediaType), metrics.OutcomeCached)
		tracing.AddSpanAttributes(ctx, attribute.Bool("cache_hit", true))
		uploaded.UploadResult = *cached
		return uploaded, nil
	}

	req := UploadRequest{
		Fingerprint: payload.sha,
		MediaType:   mediaType,
		Timeout:     timeout,
		Size:        payload.size,
	}
	var led, cachedInFlight atomic.Bool
	ch := o.inflight.DoChan(key, func() (any, error) {
		led.Store(true)
		flightCtx := context.WithoutCancel(ctx)
		// a flight for the same key may have finished since the lookup above
		if cached, ok := o.lookup(flightCtx, key); ok {
			cachedInFlight.Store(true)
			return cached, nil
		}
		return o.dispatch(flightCtx, key, payload, req)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			outcome := metrics.OutcomeFailed
			if errors.IsCode(res.Err, errors.ErrCodeUploadTimeout) {
				outcome = metrics.OutcomeTimeout
			}
			metrics.RecordUpload(string(mediaType), outcome)
			tracing.RecordError(ctx, res.Err)
			return nil, res.Err
		}
		outcome := metrics.OutcomeUploaded
		switch {
		case !led.Load():
			outcome = metrics.OutcomeShared
		case cachedInFlight.Load():
			outcome = metrics.OutcomeCached
		}
		metrics.RecordUpload(string(mediaType), outcome)
		uploaded.UploadResult = *res.Val.(*types.UploadResult)
		return uploaded, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) lookup(ctx context.Context, key string) (*types.UploadResult, bool) {
	result, err := o.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.RecordCacheLookup(o.cache.Name(), "hit")
		return result, true
	case stderrors.Is(err, errors.ErrCacheMiss):
		metrics.RecordCacheLookup(o.cache.Name(), "miss")
	default:
		metrics.RecordCacheLookup(o.cache.Name(), "error")
		o.logger.WithError(err).WithField("cache", o.cache.Name()).Warn("Upload cache lookup failed")
	}
	return nil, false
}

type uploadOutcome struct {
	result *types.UploadResult
	err    error
}

// dispatch makes the single upload attempt for a flight. The attempt runs
// to completion even after the timeout fires, and a late success is still
// cached.
func (o *Orchestrator) dispatch(ctx context.Context, key string, payload *staged, req UploadRequest) (*types.UploadResult, error) {
	if !payload.acquire() {
		return nil, errors.NewUploadError(string(req.MediaType), fmt.Errorf("upload abandoned before dispatch"))
	}
	r, err := payload.reader()
	if err != nil {
		payload.release()
		return nil, errors.NewUploadError(string(req.MediaType), err)
	}

	done := make(chan uploadOutcome, 1)
	go func() {
		defer payload.release()
		start := time.Now()
		result, err := o.uploader.Upload(ctx, r, req)
		metrics.ObserveUploadDuration(string(req.MediaType), time.Since(start))
		if err == nil && result != nil {
			if setErr := o.cache.Set(ctx, key, result); setErr != nil {
				o.logger.WithError(setErr).WithField("cache", o.cache.Name()).Warn("Failed to cache upload result")
			}
		}
		if err == nil && result == nil {
			err = fmt.Errorf("uploader returned no result")
		}
		done <- uploadOutcome{result: result, err: err}
	}()

	var timer <-chan time.Time
	if req.Timeout > 0 {
		t := time.NewTimer(req.Timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case out := <-done:
		if out.err != nil {
			if errors.IsCode(out.err, errors.ErrCodeUpload) || errors.IsCode(out.err, errors.ErrCodeUploadTimeout) {
				return nil, out.err
			}
			return nil, errors.NewUploadError(string(req.MediaType), out.err)
		}
		return out.result, nil
	case <-timer:
		o.logger.WithFields(logrus.Fields{
			"media_type": req.MediaType,
			"timeout":    req.Timeout.String(),
		}).Warn("Media upload timed out")
		return nil, errors.NewUploadTimeoutError(string(req.MediaType), req.Timeout)
	}
}

// stage reads the source once, computing its digest on the way. Streamed
// and downloaded sources are spooled to a temp file rather than memory.
func (o *Orchestrator) stage(rc io.ReadCloser, kind types.UploadSource, mediaType types.MediaType) (*staged, error) {
	defer rc.Close()

	limit := o.router.MaxSize(mediaType)
	hasher := sha256.New()
	s := &staged{refs: 1}

	var src io.Reader = rc
	if limit > 0 {
		src = io.LimitReader(rc, limit+1)
	}

	if kind == types.UploadSourceBytes {
		var buf bytes.Buffer
		n, err := io.Copy(io.MultiWriter(&buf, hasher), src)
		if err != nil {
			return nil, errors.NewMediaFetchError(string(kind), err)
		}
		s.data, s.size = buf.Bytes(), n
	} else {
		file, err := os.CreateTemp(o.tempDir, "wacompose-upload-*")
		if err != nil {
			return nil, errors.NewMediaFetchError(string(kind), fmt.Errorf("failed to create temp file: %w", err))
		}
		n, err := io.Copy(io.MultiWriter(file, hasher), src)
		if err != nil {
			_ = file.Close()
			_ = os.Remove(file.Name())
			return nil, errors.NewMediaFetchError(string(kind), err)
		}
		s.file, s.size = file, n
	}

	if limit > 0 && s.size > limit {
		s.release()
		return nil, errors.NewInvalidContentError(string(mediaType),
			fmt.Sprintf("%s exceeds the %d byte limit", mediaType, limit))
	}
	s.sha = hasher.Sum(nil)
	return s, nil
}

// staged is a payload read from its source. It is reference counted so the
// caller can stop waiting while the upload it leads keeps reading.
type staged struct {
	data []byte
	file *os.File
	sha  []byte
	size int64

	mu   sync.Mutex
	refs int
}

func (s *staged) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return false
	}
	s.refs++
	return true
}

func (s *staged) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs == 0 {
		return
	}
	s.refs--
	if s.refs == 0 && s.file != nil {
		_ = s.file.Close()
		_ = os.Remove(s.file.Name())
	}
}

func (s *staged) reader() (io.Reader, error) {
	if s.file == nil {
		return bytes.NewReader(s.data), nil
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind staged media: %w", err)
	}
	return s.file, nil
}
