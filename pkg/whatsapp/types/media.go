package types

import (
	"fmt"
	"time"
)

// MediaType scopes uploads and upload-cache entries
type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeSticker  MediaType = "sticker"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
	MediaTypeHistory  MediaType = "history"
	MediaTypeAppState MediaType = "md-app-state"
)

// Valid reports whether t is a known media type
func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeImage, MediaTypeVideo, MediaTypeSticker, MediaTypeAudio,
		MediaTypeDocument, MediaTypeHistory, MediaTypeAppState:
		return true
	}
	return false
}

// DownloadableMessage locates hosted media
type DownloadableMessage struct {
	MediaKey   []byte  `json:"mediaKey,omitempty"`
	DirectPath *string `json:"directPath,omitempty"`
	URL        *string `json:"url,omitempty"`
}

// Validate enforces that a media key is always accompanied by a location
func (d DownloadableMessage) Validate() error {
	if len(d.MediaKey) > 0 && d.DirectPath == nil && d.URL == nil {
		return fmt.Errorf("media key present without directPath or url")
	}
	return nil
}

// MediaHost is an upload host and the largest payload it accepts
type MediaHost struct {
	Hostname              string `json:"hostname"`
	MaxContentLengthBytes int64  `json:"maxContentLengthBytes"`
}

// MediaConnInfo holds upload auth and hosts. It is valid while
// now < FetchDate + TTL.
type MediaConnInfo struct {
	Auth string `json:"auth"`
	// TTL in seconds
	TTL       int64       `json:"ttl"`
	Hosts     []MediaHost `json:"hosts"`
	FetchDate time.Time   `json:"fetchDate"`
}

// ExpiresAt returns the first instant at which the info is no longer valid
func (c *MediaConnInfo) ExpiresAt() time.Time {
	return c.FetchDate.Add(time.Duration(c.TTL) * time.Second)
}

// ValidAt reports whether the info may be used at now
func (c *MediaConnInfo) ValidAt(now time.Time) bool {
	return now.Before(c.ExpiresAt())
}

// UploadResult is what the upload capability returns for hosted media
type UploadResult struct {
	MediaURL   string `json:"url"`
	DirectPath string `json:"direct_path"`
}

// URLInfo is link preview metadata for a text message
type URLInfo struct {
	CanonicalURL  string `json:"canonical-url"`
	MatchedText   string `json:"matched-text"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	JPEGThumbnail []byte `json:"jpegThumbnail,omitempty"`
}

// GroupParticipant is a member of a group chat
type GroupParticipant struct {
	ID    string  `json:"id"`
	Admin *string `json:"admin,omitempty"`
}

// GroupMetadataParticipants is the slice of group metadata needed for mention validation
type GroupMetadataParticipants struct {
	Participants []GroupParticipant `json:"participants"`
}

// HasParticipant reports whether jid is a member, ignoring device suffixes
func (g *GroupMetadataParticipants) HasParticipant(jid string) bool {
	want := NormalizeUserJID(jid)
	for _, p := range g.Participants {
		if NormalizeUserJID(p.ID) == want {
			return true
		}
	}
	return false
}
