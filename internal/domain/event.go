package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventSessionConnected    EventType = "session.connected"
	EventSessionDisconnected EventType = "session.disconnected"
	EventSessionQRUpdated    EventType = "session.qr_updated"
	EventSessionStatus       EventType = "session.status"
	EventMessageReceived     EventType = "message.received"
	EventMessageSent         EventType = "message.sent"
	EventMessageDelivered    EventType = "message.delivered"
	EventMessageRead         EventType = "message.read"
)

// Event is the closed union of gateway notifications. The gateway delivers
// events at-least-once and possibly out of order; every variant must be safe
// to re-apply.
type Event interface {
	EventType() EventType
}

type SessionConnectedEvent struct {
	SessionID   string `json:"session_id"`
	PhoneNumber string `json:"phone_number"`
}

func (SessionConnectedEvent) EventType() EventType { return EventSessionConnected }

type SessionDisconnectedEvent struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (SessionDisconnectedEvent) EventType() EventType { return EventSessionDisconnected }

type SessionQRUpdatedEvent struct {
	SessionID string `json:"session_id"`
	QRCode    string `json:"qr_code"`
}

func (SessionQRUpdatedEvent) EventType() EventType { return EventSessionQRUpdated }

// SessionStatusEvent carries the gateway-side lifecycle statuses that have
// no dedicated event: reconnecting, banned and error.
type SessionStatusEvent struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Reason    string        `json:"reason"`
}

func (SessionStatusEvent) EventType() EventType { return EventSessionStatus }

type MessageReceivedEvent struct {
	SessionID         string      `json:"session_id"`
	ExternalMessageID string      `json:"external_message_id"`
	From              string      `json:"from"`
	ContactName       string      `json:"contact_name"`
	ContentType       ContentType `json:"content_type"`
	Content           string      `json:"content"`
	MediaURL          string      `json:"media_url"`
	Timestamp         time.Time   `json:"timestamp"`

	// Raw is the full wire payload, kept on the stored message for audit.
	Raw json.RawMessage `json:"-"`
}

func (MessageReceivedEvent) EventType() EventType { return EventMessageReceived }

type MessageSentEvent struct {
	ExternalMessageID string `json:"external_message_id"`
}

func (MessageSentEvent) EventType() EventType { return EventMessageSent }

type MessageDeliveredEvent struct {
	ExternalMessageID string `json:"external_message_id"`
}

func (MessageDeliveredEvent) EventType() EventType { return EventMessageDelivered }

type MessageReadEvent struct {
	ExternalMessageID string `json:"external_message_id"`
}

func (MessageReadEvent) EventType() EventType { return EventMessageRead }

// ParseEvent decodes a wire payload of the shape {"event": "<tag>", ...}
// into its typed variant. Unrecognized tags come back as ErrUnknownEvent so
// the processor can discard them without masking decode bugs.
func ParseEvent(raw []byte) (Event, error) {
	var head struct {
		Event EventType `json:"event"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	switch head.Event {
	case EventSessionConnected:
		var ev SessionConnectedEvent
		return ev, json.Unmarshal(raw, &ev)
	case EventSessionDisconnected:
		var ev SessionDisconnectedEvent
		return ev, json.Unmarshal(raw, &ev)
	case EventSessionQRUpdated:
		var ev SessionQRUpdatedEvent
		return ev, json.Unmarshal(raw, &ev)
	case EventSessionStatus:
		var ev SessionStatusEvent
		return ev, json.Unmarshal(raw, &ev)
	case EventMessageReceived:
		var ev MessageReceivedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, err
		}
		ev.Raw = append(json.RawMessage(nil), raw...)
		return ev, nil
	case EventMessageSent:
		var ev MessageSentEvent
		return ev, json.Unmarshal(raw, &ev)
	case EventMessageDelivered:
		var ev MessageDeliveredEvent
		return ev, json.Unmarshal(raw, &ev)
	case EventMessageRead:
		var ev MessageReadEvent
		return ev, json.Unmarshal(raw, &ev)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Event)
	}
}
