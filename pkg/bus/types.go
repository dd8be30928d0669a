package bus

import (
	"context"
	"time"

	"clipbot/pkg/media"

	"github.com/google/uuid"
)

// EventKind selects the handler an inbound event is routed to.
type EventKind string

const (
	KindMessage  EventKind = "message"
	KindCallback EventKind = "callback"
	KindCommand  EventKind = "command"
)

// InboundEvent is one update from a transport, already normalized.
type InboundEvent struct {
	ID         string           `json:"id"`
	Kind       EventKind        `json:"kind"`
	Channel    string           `json:"channel"`
	ChatID     int64            `json:"chat_id"`
	MessageID  int              `json:"message_id"`
	SenderID   int64            `json:"sender_id"`
	Descriptor media.Descriptor `json:"descriptor"`
	Command    string           `json:"command,omitempty"`
	Args       string           `json:"args,omitempty"`
	CallbackID string           `json:"callback_id,omitempty"`
	// CallbackData is the raw button token.
	CallbackData string    `json:"callback_data,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// Handler processes one inbound event. Handlers own their failures.
type Handler func(context.Context, InboundEvent)

// NewEventID returns a fresh correlation id for an inbound event.
func NewEventID() string {
	return uuid.NewString()
}
