package service

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"wacompose/internal/constants"
	"wacompose/internal/errors"
	"wacompose/pkg/whatsapp/types"

	"github.com/google/uuid"
)

// GroupMetadataFunc returns the participants of a group chat. A nil result
// or an error means the metadata is unavailable.
type GroupMetadataFunc func(ctx context.Context, jid string) (*types.GroupMetadataParticipants, error)

// GenerationOptions are per-request overrides. Unset fields fall back to
// the process Defaults.
type GenerationOptions struct {
	UserJID              string                     `json:"userJid,omitempty"`
	Timestamp            *time.Time                 `json:"timestamp,omitempty"`
	MessageID            string                     `json:"messageId,omitempty"`
	Quoted               *types.WebMessageInfo      `json:"quoted,omitempty"`
	EphemeralExpiration  *types.EphemeralExpiration `json:"ephemeralExpiration,omitempty"`
	MediaUploadTimeoutMs *int                       `json:"mediaUploadTimeoutMs,omitempty"`

	CachedGroupMetadata GroupMetadataFunc `json:"-"`
}

// Defaults are the generation settings of the running session
type Defaults struct {
	UserJID             string
	MediaUploadTimeout  time.Duration
	EphemeralExpiration *uint32
	CachedGroupMetadata GroupMetadataFunc
}

// ResolvedOptions is the merge of request options over Defaults
type ResolvedOptions struct {
	UserJID             string
	Timestamp           time.Time
	MessageID           string
	Quoted              *types.WebMessageInfo
	EphemeralExpiration *uint32
	MediaUploadTimeout  time.Duration

	groupMetadata GroupMetadataFunc
	groupMu       sync.Mutex
	groups        map[string]*types.GroupMetadataParticipants
}

// ResolveOptions merges opts onto d. userJid is mandatory and must name an
// individual account.
func ResolveOptions(d Defaults, opts *GenerationOptions, now time.Time) (*ResolvedOptions, error) {
	if opts == nil {
		opts = &GenerationOptions{}
	}

	r := &ResolvedOptions{
		UserJID:             d.UserJID,
		Timestamp:           now,
		MessageID:           opts.MessageID,
		Quoted:              opts.Quoted,
		EphemeralExpiration: d.EphemeralExpiration,
		MediaUploadTimeout:  d.MediaUploadTimeout,
		groupMetadata:       d.CachedGroupMetadata,
	}

	if opts.UserJID != "" {
		r.UserJID = opts.UserJID
	}
	if r.UserJID == "" {
		return nil, errors.NewInvalidContentError("userJid", "userJid is required")
	}
	if !types.IsUserJID(r.UserJID) {
		return nil, errors.NewInvalidContentError("userJid", "userJid must be an individual account JID")
	}

	if opts.Timestamp != nil {
		r.Timestamp = *opts.Timestamp
	}
	if r.MessageID == "" {
		r.MessageID = GenerateMessageID()
	}
	if opts.EphemeralExpiration != nil {
		seconds := opts.EphemeralExpiration.Seconds
		r.EphemeralExpiration = &seconds
	}
	if opts.MediaUploadTimeoutMs != nil {
		if *opts.MediaUploadTimeoutMs < 0 {
			return nil, errors.NewInvalidContentError("mediaUploadTimeoutMs", "mediaUploadTimeoutMs must not be negative")
		}
		r.MediaUploadTimeout = time.Duration(*opts.MediaUploadTimeoutMs) * time.Millisecond
	}
	if opts.CachedGroupMetadata != nil {
		r.groupMetadata = opts.CachedGroupMetadata
	}
	if r.Quoted != nil && r.Quoted.Key.ID == "" {
		return nil, errors.NewInvalidContentError("quoted", "quoted message has no key id")
	}

	return r, nil
}

// GroupParticipants looks up the participants of jid on first use and
// reuses the answer for the rest of the request. ok is false when the
// metadata is unavailable.
func (r *ResolvedOptions) GroupParticipants(ctx context.Context, jid string) (participants *types.GroupMetadataParticipants, ok bool) {
	if r.groupMetadata == nil {
		return nil, false
	}

	r.groupMu.Lock()
	defer r.groupMu.Unlock()
	if cached, seen := r.groups[jid]; seen {
		return cached, cached != nil
	}

	got, err := r.groupMetadata(ctx, jid)
	if err != nil {
		got = nil
	}
	if r.groups == nil {
		r.groups = make(map[string]*types.GroupMetadataParticipants)
	}
	r.groups[jid] = got
	return got, got != nil
}

// GenerateMessageID returns "3EB0" followed by 16 uppercase hex characters
func GenerateMessageID() string {
	id := uuid.New()
	return constants.MessageIDPrefix + strings.ToUpper(hex.EncodeToString(id[:8]))
}
