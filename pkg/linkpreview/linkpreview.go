package linkpreview

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"wacompose/internal/privacy"
	"wacompose/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
)

var urlPattern = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)

// ExtractURL returns the first link in text and the exact text it matched.
// Bare www. links are returned with an https scheme.
func ExtractURL(text string) (link, matched string, ok bool) {
	matched = urlPattern.FindString(text)
	if matched == "" {
		return "", "", false
	}
	matched = strings.TrimRight(matched, ".,;:!?)]}")
	link = matched
	if strings.HasPrefix(strings.ToLower(link), "www.") {
		link = "https://" + link
	}
	return link, matched, true
}

// Provider looks up metadata for a link
type Provider interface {
	GetURLInfo(ctx context.Context, link string) (*types.URLInfo, error)
}

// ProviderFunc adapts a function to Provider
type ProviderFunc func(ctx context.Context, link string) (*types.URLInfo, error)

func (f ProviderFunc) GetURLInfo(ctx context.Context, link string) (*types.URLInfo, error) {
	return f(ctx, link)
}

// Resolver enriches text with a preview on a best-effort basis
type Resolver struct {
	provider Provider
	timeout  time.Duration
	logger   *logrus.Logger
	disabled atomic.Bool
}

func NewResolver(provider Provider, timeout time.Duration, logger *logrus.Logger) *Resolver {
	return &Resolver{provider: provider, timeout: timeout, logger: logger}
}

// SetEnabled turns lookups on or off at runtime
func (r *Resolver) SetEnabled(enabled bool) {
	r.disabled.Store(!enabled)
}

// Resolve returns preview metadata for the first link in text, or nil when
// there is no link or the lookup failed. Failures are logged, never returned.
func (r *Resolver) Resolve(ctx context.Context, text string) *types.URLInfo {
	if r == nil || r.provider == nil || r.disabled.Load() {
		return nil
	}
	link, matched, ok := ExtractURL(text)
	if !ok {
		return nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	info, err := r.provider.GetURLInfo(ctx, link)
	if err != nil || info == nil {
		entry := r.logger.WithField("url", privacy.MaskURL(link))
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("Link preview unavailable")
		return nil
	}

	if info.MatchedText == "" {
		info.MatchedText = matched
	}
	if info.CanonicalURL == "" {
		info.CanonicalURL = link
	}
	return info
}
