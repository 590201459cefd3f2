package types

import (
	"strconv"
	"strings"
)

const (
	// UserServer is the JID domain of individual accounts
	UserServer = "s.whatsapp.net"
	// GroupServer is the JID domain of group chats
	GroupServer = "g.us"
	// LIDServer is the JID domain of linked identities
	LIDServer = "lid"
)

// MessageKey uniquely identifies a message within a chat
type MessageKey struct {
	RemoteJID   string  `json:"remoteJid"`
	FromMe      bool    `json:"fromMe"`
	ID          string  `json:"id"`
	Participant *string `json:"participant,omitempty"`
}

// String returns a stable identity string suitable for map keys and logs.
func (k MessageKey) String() string {
	var b strings.Builder
	b.WriteString(k.RemoteJID)
	b.WriteByte('/')
	b.WriteString(strconv.FormatBool(k.FromMe))
	b.WriteByte('/')
	b.WriteString(k.ID)
	if k.Participant != nil {
		b.WriteByte('/')
		b.WriteString(*k.Participant)
	}
	return b.String()
}

// ParticipantOrEmpty returns the participant JID or "" when absent
func (k MessageKey) ParticipantOrEmpty() string {
	if k.Participant == nil {
		return ""
	}
	return *k.Participant
}

// Equal reports whether two keys identify the same message
func (k MessageKey) Equal(other MessageKey) bool {
	return k.RemoteJID == other.RemoteJID &&
		k.FromMe == other.FromMe &&
		k.ID == other.ID &&
		k.ParticipantOrEmpty() == other.ParticipantOrEmpty()
}

// IsGroupJID returns true if the JID addresses a group chat
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+GroupServer)
}

// IsUserJID returns true for individual account or linked identity JIDs
func IsUserJID(jid string) bool {
	return strings.HasSuffix(jid, "@"+UserServer) || strings.HasSuffix(jid, "@"+LIDServer)
}

// NormalizeUserJID strips the device suffix, "123:4@s.whatsapp.net" -> "123@s.whatsapp.net"
func NormalizeUserJID(jid string) string {
	at := strings.IndexByte(jid, '@')
	if at < 0 {
		return jid
	}
	user, server := jid[:at], jid[at:]
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		user = user[:colon]
	}
	return user + server
}

// StringPtr is a convenience for optional string fields
func StringPtr(s string) *string {
	return &s
}

// BoolPtr is a convenience for optional bool fields
func BoolPtr(b bool) *bool {
	return &b
}

// Uint32Ptr is a convenience for optional uint32 fields
func Uint32Ptr(v uint32) *uint32 {
	return &v
}

// Int64Ptr is a convenience for optional int64 fields
func Int64Ptr(v int64) *int64 {
	return &v
}
