package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

// DefaultEphemeralSeconds is the expiration used when disappearing
// messages are switched on without an explicit duration (7 days).
const DefaultEphemeralSeconds uint32 = 7 * 24 * 60 * 60

// UploadSource tells which representation a MediaUpload carries
type UploadSource string

const (
	UploadSourceBytes  UploadSource = "bytes"
	UploadSourceURL    UploadSource = "url"
	UploadSourceStream UploadSource = "stream"
)

// MediaUpload is raw media in exactly one representation. It may be
// consumed once; a second Consume fails.
type MediaUpload struct {
	Data   []byte    `json:"data,omitempty"`
	URL    string    `json:"url,omitempty"`
	Stream io.Reader `json:"-"`

	consumed atomic.Bool
}

// MediaFromBytes wraps an in-memory payload
func MediaFromBytes(data []byte) *MediaUpload {
	return &MediaUpload{Data: data}
}

// MediaFromURL references remote (http, https) or local (file) media
func MediaFromURL(url string) *MediaUpload {
	return &MediaUpload{URL: url}
}

// MediaFromStream wraps a reader that is read at most once
func MediaFromStream(r io.Reader) *MediaUpload {
	return &MediaUpload{Stream: r}
}

// Source returns the populated representation or an error if zero or
// several are set
func (u *MediaUpload) Source() (UploadSource, error) {
	var found []UploadSource
	if u.Data != nil {
		found = append(found, UploadSourceBytes)
	}
	if u.URL != "" {
		found = append(found, UploadSourceURL)
	}
	if u.Stream != nil {
		found = append(found, UploadSourceStream)
	}
	if len(found) != 1 {
		return "", fmt.Errorf("media upload must have exactly one of data, url or stream (has %d)", len(found))
	}
	return found[0], nil
}

// Consume marks the upload as used
func (u *MediaUpload) Consume() error {
	if !u.consumed.CompareAndSwap(false, true) {
		return fmt.Errorf("media upload already consumed")
	}
	return nil
}

// Consumed reports whether Consume has been called
func (u *MediaUpload) Consumed() bool {
	return u.consumed.Load()
}

// DisappearingToggle is either a boolean switch or an explicit number of
// seconds. The zero value is not meaningful; callers hold a pointer so that
// absence stays distinct from an explicit false or 0.
type DisappearingToggle struct {
	Enabled *bool
	Seconds *uint32
}

// DisappearingOn returns a toggle that enables or disables the default expiration
func DisappearingOn(enabled bool) *DisappearingToggle {
	return &DisappearingToggle{Enabled: &enabled}
}

// DisappearingAfter returns a toggle with an explicit expiration
func DisappearingAfter(seconds uint32) *DisappearingToggle {
	return &DisappearingToggle{Seconds: &seconds}
}

// Expiration resolves the toggle to seconds; 0 turns disappearing messages off
func (d DisappearingToggle) Expiration() uint32 {
	if d.Seconds != nil {
		return *d.Seconds
	}
	if d.Enabled != nil && *d.Enabled {
		return DefaultEphemeralSeconds
	}
	return 0
}

func (d DisappearingToggle) MarshalJSON() ([]byte, error) {
	if d.Seconds != nil {
		return json.Marshal(*d.Seconds)
	}
	if d.Enabled != nil {
		return json.Marshal(*d.Enabled)
	}
	return []byte("null"), nil
}

func (d *DisappearingToggle) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true", "false":
		b := string(data) == "true"
		d.Enabled, d.Seconds = &b, nil
		return nil
	}
	var seconds uint32
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("disappearingMessagesInChat must be a boolean or a number of seconds: %w", err)
	}
	d.Enabled, d.Seconds = nil, &seconds
	return nil
}

// EphemeralExpiration accepts a number of seconds or a numeric string
type EphemeralExpiration struct {
	Seconds uint32
}

// ParseEphemeralExpiration parses the string form
func ParseEphemeralExpiration(s string) (EphemeralExpiration, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return EphemeralExpiration{}, fmt.Errorf("invalid ephemeral expiration %q: %w", s, err)
	}
	return EphemeralExpiration{Seconds: uint32(v)}, nil
}

func (e EphemeralExpiration) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Seconds)
}

func (e *EphemeralExpiration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseEphemeralExpiration(s)
		if err != nil {
			return err
		}
		*e = parsed
		return nil
	}
	return json.Unmarshal(data, &e.Seconds)
}

// ContactsContent shares one or more contacts
type ContactsContent struct {
	DisplayName *string       `json:"displayName,omitempty"`
	Contacts    []ContactCard `json:"contacts"`
}

// ButtonReplyInfo answers a buttons or template message
type ButtonReplyInfo struct {
	DisplayText string `json:"displayText"`
	ID          string `json:"id"`
	Index       uint32 `json:"index"`
}

// ForwardContent re-sends an existing message
type ForwardContent struct {
	Message *WebMessageInfo `json:"message"`
	Force   bool            `json:"force,omitempty"`
}

// Content is a send request: exactly one primary variant key plus
// variant options and trait bundles.
type Content struct {
	// Primary variants
	Text                       *string             `json:"text,omitempty"`
	Image                      *MediaUpload        `json:"image,omitempty"`
	Video                      *MediaUpload        `json:"video,omitempty"`
	Audio                      *MediaUpload        `json:"audio,omitempty"`
	Sticker                    *MediaUpload        `json:"sticker,omitempty"`
	Document                   *MediaUpload        `json:"document,omitempty"`
	Contacts                   *ContactsContent    `json:"contacts,omitempty"`
	Location                   *LocationMessage    `json:"location,omitempty"`
	React                      *ReactionMessage    `json:"react,omitempty"`
	ButtonReply                *ButtonReplyInfo    `json:"buttonReply,omitempty"`
	Forward                    *ForwardContent     `json:"forward,omitempty"`
	Delete                     *MessageKey         `json:"delete,omitempty"`
	DisappearingMessagesInChat *DisappearingToggle `json:"disappearingMessagesInChat,omitempty"`

	// Variant options
	LinkPreview     *URLInfo        `json:"linkPreview,omitempty"`
	Caption         *string         `json:"caption,omitempty"`
	JPEGThumbnail   []byte          `json:"jpegThumbnail,omitempty"`
	GifPlayback     *bool           `json:"gifPlayback,omitempty"`
	PTT             *bool           `json:"ptt,omitempty"`
	Seconds         *uint32         `json:"seconds,omitempty"`
	IsAnimated      *bool           `json:"isAnimated,omitempty"`
	Mimetype        *string         `json:"mimetype,omitempty"`
	FileName        *string         `json:"fileName,omitempty"`
	ButtonReplyType ButtonReplyType `json:"type,omitempty"`

	// Trait bundles
	Mentions        []string         `json:"mentions,omitempty"`
	Buttons         []Button         `json:"buttons,omitempty"`
	TemplateButtons []TemplateButton `json:"templateButtons,omitempty"`
	Footer          *string          `json:"footer,omitempty"`
	Sections        []Section        `json:"sections,omitempty"`
	Title           *string          `json:"title,omitempty"`
	ButtonText      *string          `json:"buttonText,omitempty"`
	Width           *uint32          `json:"width,omitempty"`
	Height          *uint32          `json:"height,omitempty"`
	ViewOnce        *bool            `json:"viewOnce,omitempty"`
}

// Variants returns every primary variant key set on the request
func (c *Content) Variants() []ContentType {
	var out []ContentType
	add := func(set bool, t ContentType) {
		if set {
			out = append(out, t)
		}
	}
	add(c.Text != nil, ContentText)
	add(c.Image != nil, ContentImage)
	add(c.Video != nil, ContentVideo)
	add(c.Audio != nil, ContentAudio)
	add(c.Sticker != nil, ContentSticker)
	add(c.Document != nil, ContentDocument)
	add(c.Contacts != nil, ContentContacts)
	add(c.Location != nil, ContentLocation)
	add(c.React != nil, ContentReaction)
	add(c.ButtonReply != nil, ContentButtonReply)
	add(c.Forward != nil, ContentForward)
	add(c.Delete != nil, ContentDelete)
	add(c.DisappearingMessagesInChat != nil, ContentDisappearingToggle)
	return out
}

// MediaSource returns the upload for media variants
func (c *Content) MediaSource() *MediaUpload {
	switch {
	case c.Image != nil:
		return c.Image
	case c.Video != nil:
		return c.Video
	case c.Audio != nil:
		return c.Audio
	case c.Sticker != nil:
		return c.Sticker
	case c.Document != nil:
		return c.Document
	}
	return nil
}
