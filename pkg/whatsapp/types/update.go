package types

import (
	"fmt"
)

// MessageUpdateType selects how an inbound update is applied to history
type MessageUpdateType string

const (
	// UpdateAppend inserts the message if it is not stored yet
	UpdateAppend MessageUpdateType = "append"
	// UpdateNotify forwards the delta to subscribers without touching the store
	UpdateNotify MessageUpdateType = "notify"
	// UpdateReplace overwrites the stored record, creating it if absent
	UpdateReplace MessageUpdateType = "replace"
)

// ParseMessageUpdateType validates an update type name
func ParseMessageUpdateType(s string) (MessageUpdateType, error) {
	switch t := MessageUpdateType(s); t {
	case UpdateAppend, UpdateNotify, UpdateReplace:
		return t, nil
	}
	return "", fmt.Errorf("unknown message update type %q", s)
}

// MessageInfoPatch is a partial WebMessageInfo; nil fields are left untouched
type MessageInfoPatch struct {
	Message          *Message       `json:"message,omitempty"`
	MessageTimestamp *int64         `json:"messageTimestamp,omitempty"`
	Status           *MessageStatus `json:"status,omitempty"`
	Participant      *string        `json:"participant,omitempty"`
	PushName         *string        `json:"pushName,omitempty"`
}

// ApplyTo merges the present fields onto info
func (p MessageInfoPatch) ApplyTo(info *WebMessageInfo) {
	if p.Message != nil {
		info.Message = p.Message
	}
	if p.MessageTimestamp != nil {
		info.MessageTimestamp = *p.MessageTimestamp
	}
	if p.Status != nil {
		info.Status = *p.Status
	}
	if p.Participant != nil {
		info.Participant = p.Participant
	}
	if p.PushName != nil {
		info.PushName = p.PushName
	}
}

// MessageUpdate is an inbound change for the message identified by Key
type MessageUpdate struct {
	Key    MessageKey       `json:"key"`
	Update MessageInfoPatch `json:"update"`
}

// ReceiptKind names one acknowledgement timestamp of a UserReceipt
type ReceiptKind string

const (
	ReceiptDelivered ReceiptKind = "receipt"
	ReceiptRead      ReceiptKind = "read"
	ReceiptPlayed    ReceiptKind = "played"
)

// UserReceipt holds per-user acknowledgement timestamps (unix seconds)
type UserReceipt struct {
	UserJID          string `json:"userJid"`
	ReceiptTimestamp *int64 `json:"receiptTimestamp,omitempty"`
	ReadTimestamp    *int64 `json:"readTimestamp,omitempty"`
	PlayedTimestamp  *int64 `json:"playedTimestamp,omitempty"`
}

// Timestamp returns the field for kind
func (r *UserReceipt) Timestamp(kind ReceiptKind) *int64 {
	switch kind {
	case ReceiptDelivered:
		return r.ReceiptTimestamp
	case ReceiptRead:
		return r.ReadTimestamp
	case ReceiptPlayed:
		return r.PlayedTimestamp
	}
	return nil
}

// SetTimestamp sets the field for kind
func (r *UserReceipt) SetTimestamp(kind ReceiptKind, ts int64) {
	switch kind {
	case ReceiptDelivered:
		r.ReceiptTimestamp = &ts
	case ReceiptRead:
		r.ReadTimestamp = &ts
	case ReceiptPlayed:
		r.PlayedTimestamp = &ts
	}
}

// ReceiptKinds lists every kind in a fixed order
var ReceiptKinds = []ReceiptKind{ReceiptDelivered, ReceiptRead, ReceiptPlayed}

// MessageUserReceiptUpdate delivers a receipt for the message identified by Key
type MessageUserReceiptUpdate struct {
	Key     MessageKey  `json:"key"`
	Receipt UserReceipt `json:"receipt"`
}

// CursorDirection is the side of the referenced key a page is read from
type CursorDirection string

const (
	CursorBefore CursorDirection = "before"
	CursorAfter  CursorDirection = "after"
)

// Cursor positions a history read. A nil Key means the newest edge for
// CursorBefore and the oldest edge for CursorAfter. The zero value reads the
// newest page.
type Cursor struct {
	Direction CursorDirection
	Key       *MessageKey
}

// Before reads messages strictly older than key (newest page when nil)
func Before(key *MessageKey) Cursor {
	return Cursor{Direction: CursorBefore, Key: key}
}

// After reads messages strictly newer than key (oldest page when nil)
func After(key *MessageKey) Cursor {
	return Cursor{Direction: CursorAfter, Key: key}
}

// IsAfter reports whether the cursor reads forward in time
func (c Cursor) IsAfter() bool {
	return c.Direction == CursorAfter
}
