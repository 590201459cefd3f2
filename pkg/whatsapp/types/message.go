package types

import (
	"fmt"
)

// ContentType discriminates the primary variant carried by a Message
type ContentType string

const (
	ContentText               ContentType = "text"
	ContentImage              ContentType = "image"
	ContentVideo              ContentType = "video"
	ContentAudio              ContentType = "audio"
	ContentSticker            ContentType = "sticker"
	ContentDocument           ContentType = "document"
	ContentContacts           ContentType = "contacts"
	ContentLocation           ContentType = "location"
	ContentReaction           ContentType = "reaction"
	ContentButtonReply        ContentType = "buttonReply"
	ContentForward            ContentType = "forward"
	ContentDelete             ContentType = "delete"
	ContentDisappearingToggle ContentType = "disappearingToggle"
)

// IsMedia reports whether the variant carries an uploadable payload
func (t ContentType) IsMedia() bool {
	switch t {
	case ContentImage, ContentVideo, ContentAudio, ContentSticker, ContentDocument:
		return true
	}
	return false
}

// IsProtocol reports whether the variant is a protocol (control) message
func (t ContentType) IsProtocol() bool {
	return t == ContentDelete || t == ContentDisappearingToggle
}

// MediaType returns the upload media type for media variants
func (t ContentType) MediaType() MediaType {
	switch t {
	case ContentImage:
		return MediaTypeImage
	case ContentVideo:
		return MediaTypeVideo
	case ContentAudio:
		return MediaTypeAudio
	case ContentSticker:
		return MediaTypeSticker
	case ContentDocument:
		return MediaTypeDocument
	}
	return ""
}

// MessageStatus tracks the delivery state of a message
type MessageStatus int

const (
	StatusError MessageStatus = iota
	StatusPending
	StatusServerAck
	StatusDeliveryAck
	StatusRead
	StatusPlayed
)

func (s MessageStatus) String() string {
	switch s {
	case StatusError:
		return "ERROR"
	case StatusPending:
		return "PENDING"
	case StatusServerAck:
		return "SERVER_ACK"
	case StatusDeliveryAck:
		return "DELIVERY_ACK"
	case StatusRead:
		return "READ"
	case StatusPlayed:
		return "PLAYED"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// Message is the canonical outgoing message: exactly one primary payload,
// selected by Type, plus optional trait fields validated against it.
type Message struct {
	Type ContentType `json:"type"`

	Text        *TextMessage        `json:"text,omitempty"`
	Image       *ImageMessage       `json:"image,omitempty"`
	Video       *VideoMessage       `json:"video,omitempty"`
	Audio       *AudioMessage       `json:"audio,omitempty"`
	Sticker     *StickerMessage     `json:"sticker,omitempty"`
	Document    *DocumentMessage    `json:"document,omitempty"`
	Contacts    *ContactsMessage    `json:"contacts,omitempty"`
	Location    *LocationMessage    `json:"location,omitempty"`
	Reaction    *ReactionMessage    `json:"reaction,omitempty"`
	ButtonReply *ButtonReplyMessage `json:"buttonReply,omitempty"`
	Protocol    *ProtocolMessage    `json:"protocol,omitempty"`

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

	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// payloadCount returns how many primary payload pointers are populated
func (m *Message) payloadCount() int {
	n := 0
	for _, set := range []bool{
		m.Text != nil, m.Image != nil, m.Video != nil, m.Audio != nil,
		m.Sticker != nil, m.Document != nil, m.Contacts != nil,
		m.Location != nil, m.Reaction != nil, m.ButtonReply != nil,
		m.Protocol != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that exactly one payload is populated, that it matches Type
// and that hosted media carries a location for its media key
func (m *Message) Validate() error {
	if n := m.payloadCount(); n != 1 {
		return fmt.Errorf("message must carry exactly one payload, has %d", n)
	}
	var ok bool
	switch m.Type {
	case ContentText:
		ok = m.Text != nil
	case ContentImage:
		ok = m.Image != nil
	case ContentVideo:
		ok = m.Video != nil
	case ContentAudio:
		ok = m.Audio != nil
	case ContentSticker:
		ok = m.Sticker != nil
	case ContentDocument:
		ok = m.Document != nil
	case ContentContacts:
		ok = m.Contacts != nil
	case ContentLocation:
		ok = m.Location != nil
	case ContentReaction:
		ok = m.Reaction != nil
	case ContentButtonReply:
		ok = m.ButtonReply != nil
	case ContentDelete, ContentDisappearingToggle:
		ok = m.Protocol != nil
	}
	if !ok {
		return fmt.Errorf("payload does not match message type %q", m.Type)
	}
	if media := m.Media(); media != nil {
		return media.Validate()
	}
	return nil
}

// Media returns the hosted-media descriptor of a media variant, or nil
func (m *Message) Media() *MediaInfo {
	switch {
	case m.Image != nil:
		return &m.Image.MediaInfo
	case m.Video != nil:
		return &m.Video.MediaInfo
	case m.Audio != nil:
		return &m.Audio.MediaInfo
	case m.Sticker != nil:
		return &m.Sticker.MediaInfo
	case m.Document != nil:
		return &m.Document.MediaInfo
	}
	return nil
}

// EnsureContextInfo returns the message's context info, creating it if absent
func (m *Message) EnsureContextInfo() *ContextInfo {
	if m.ContextInfo == nil {
		m.ContextInfo = &ContextInfo{}
	}
	return m.ContextInfo
}

// TextMessage is a text body with optional link preview metadata
type TextMessage struct {
	Text        string   `json:"text"`
	LinkPreview *URLInfo `json:"linkPreview,omitempty"`
}

// MediaInfo is shared by every media variant
type MediaInfo struct {
	DownloadableMessage
	Mimetype          string  `json:"mimetype,omitempty"`
	FileSHA256        []byte  `json:"fileSha256,omitempty"`
	FileLength        *uint64 `json:"fileLength,omitempty"`
	MediaKeyTimestamp *int64  `json:"mediaKeyTimestamp,omitempty"`

	// Source is the pending raw media. It is consumed and cleared by the
	// upload step and never persisted.
	Source *MediaUpload `json:"-" cbor:"-"`
}

// IsHosted reports whether the media has been uploaded
func (m *MediaInfo) IsHosted() bool {
	return m.URL != nil || m.DirectPath != nil
}

type ImageMessage struct {
	MediaInfo
	Caption       *string `json:"caption,omitempty"`
	JPEGThumbnail []byte  `json:"jpegThumbnail,omitempty"`
}

type VideoMessage struct {
	MediaInfo
	Caption       *string `json:"caption,omitempty"`
	GifPlayback   *bool   `json:"gifPlayback,omitempty"`
	JPEGThumbnail []byte  `json:"jpegThumbnail,omitempty"`
}

type AudioMessage struct {
	MediaInfo
	// PTT marks the audio as a voice note
	PTT     *bool   `json:"ptt,omitempty"`
	Seconds *uint32 `json:"seconds,omitempty"`
}

type StickerMessage struct {
	MediaInfo
	IsAnimated *bool `json:"isAnimated,omitempty"`
}

type DocumentMessage struct {
	MediaInfo
	FileName *string `json:"fileName,omitempty"`
}

// ContactCard is a single shared contact
type ContactCard struct {
	DisplayName string `json:"displayName,omitempty"`
	VCard       string `json:"vcard"`
}

// ContactsMessage carries one or more contact cards
type ContactsMessage struct {
	DisplayName *string       `json:"displayName,omitempty"`
	Contacts    []ContactCard `json:"contacts"`
}

type LocationMessage struct {
	DegreesLatitude  float64 `json:"degreesLatitude"`
	DegreesLongitude float64 `json:"degreesLongitude"`
	Name             *string `json:"name,omitempty"`
	Address          *string `json:"address,omitempty"`
}

// ReactionMessage reacts to the message identified by Key. An empty Text
// removes an existing reaction.
type ReactionMessage struct {
	Key               MessageKey `json:"key"`
	Text              string     `json:"text"`
	SenderTimestampMs *int64     `json:"senderTimestampMs,omitempty"`
}

// ButtonReplyType selects how a button reply is encoded
type ButtonReplyType string

const (
	ButtonReplyTemplate ButtonReplyType = "template"
	ButtonReplyPlain    ButtonReplyType = "plain"
)

type ButtonReplyMessage struct {
	Type        ButtonReplyType `json:"type"`
	DisplayText string          `json:"displayText"`
	ID          string          `json:"id"`
	Index       uint32          `json:"index"`
}

// ProtocolType identifies a control message
type ProtocolType string

const (
	ProtocolRevoke           ProtocolType = "REVOKE"
	ProtocolEphemeralSetting ProtocolType = "EPHEMERAL_SETTING"
)

type ProtocolMessage struct {
	Type                ProtocolType `json:"type"`
	Key                 *MessageKey  `json:"key,omitempty"`
	EphemeralExpiration *uint32      `json:"ephemeralExpiration,omitempty"`
}

type Button struct {
	ID   string `json:"buttonId"`
	Text string `json:"buttonText"`
}

type TemplateButton struct {
	Index      uint32              `json:"index"`
	QuickReply *QuickReplyButton   `json:"quickReplyButton,omitempty"`
	URL        *URLTemplateButton  `json:"urlButton,omitempty"`
	Call       *CallTemplateButton `json:"callButton,omitempty"`
}

type QuickReplyButton struct {
	DisplayText string `json:"displayText"`
	ID          string `json:"id"`
}

type URLTemplateButton struct {
	DisplayText string `json:"displayText"`
	URL         string `json:"url"`
}

type CallTemplateButton struct {
	DisplayText string `json:"displayText"`
	PhoneNumber string `json:"phoneNumber"`
}

// Section is one group of rows in a list message
type Section struct {
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}

type Row struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	RowID       string `json:"rowId"`
}

// ContextInfo carries quoting, forwarding and expiry metadata
type ContextInfo struct {
	StanzaID        *string  `json:"stanzaId,omitempty"`
	Participant     *string  `json:"participant,omitempty"`
	RemoteJID       *string  `json:"remoteJid,omitempty"`
	QuotedMessage   *Message `json:"quotedMessage,omitempty"`
	Expiration      *uint32  `json:"expiration,omitempty"`
	ForwardingScore *uint32  `json:"forwardingScore,omitempty"`
	IsForwarded     *bool    `json:"isForwarded,omitempty"`
}

// WebMessageInfo is a message together with its envelope
type WebMessageInfo struct {
	Key              MessageKey    `json:"key"`
	Message          *Message      `json:"message,omitempty"`
	MessageTimestamp int64         `json:"messageTimestamp"`
	Status           MessageStatus `json:"status"`
	Participant      *string       `json:"participant,omitempty"`
	PushName         *string       `json:"pushName,omitempty"`
	UserReceipts     []UserReceipt `json:"userReceipt,omitempty"`
}
