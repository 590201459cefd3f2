package events

import (
	"time"

	"wacompose/pkg/whatsapp/types"

	"github.com/google/uuid"
)

// Kind names what happened to a message
type Kind string

const (
	// KindUpsert is emitted when a record is inserted or overwritten
	KindUpsert Kind = "messages.upsert"
	// KindUpdate carries a delta without a stored record behind it
	KindUpdate Kind = "messages.update"
	// KindReceipt is emitted when a receipt was merged
	KindReceipt Kind = "message-receipt.update"
)

// Event is what subscribers receive from the bus
type Event struct {
	ID         string                  `json:"id"`
	Kind       Kind                    `json:"kind"`
	UpdateType types.MessageUpdateType `json:"updateType,omitempty"`
	Time       time.Time               `json:"time"`
	Key        types.MessageKey        `json:"key"`
	Message    *types.WebMessageInfo   `json:"message,omitempty"`
	Update     *types.MessageInfoPatch `json:"update,omitempty"`
	Receipt    *types.UserReceipt      `json:"receipt,omitempty"`
}

// NewEvent stamps an event with a fresh ID
func NewEvent(kind Kind, key types.MessageKey, now time.Time) Event {
	return Event{
		ID:   uuid.NewString(),
		Kind: kind,
		Time: now.UTC(),
		Key:  key,
	}
}

// RoutingKey is the broker routing key, e.g. "messages.upsert.append"
func (e Event) RoutingKey() string {
	if e.UpdateType == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + "." + string(e.UpdateType)
}

// Matches reports whether the event concerns chat jid; an empty jid matches all
func (e Event) Matches(jid string) bool {
	return jid == "" || e.Key.RemoteJID == jid
}
