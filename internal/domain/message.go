package domain

import (
	"time"
)

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

type ContentType string

const (
	ContentText     ContentType = "text"
	ContentImage    ContentType = "image"
	ContentAudio    ContentType = "audio"
	ContentVideo    ContentType = "video"
	ContentDocument ContentType = "document"
	ContentSticker  ContentType = "sticker"
	ContentLocation ContentType = "location"
)

// MessageStatus values are ordered: a status event may only move a message
// forward (queued -> sent -> delivered -> read). Regressions are dropped.
type MessageStatus int

const (
	StatusQueued MessageStatus = iota
	StatusSent
	StatusDelivered
	StatusRead
)

func (s MessageStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	}
	return "unknown"
}

// Message is one unit of conversation content. ExternalMessageID is the
// messaging network's identifier, unique per session once assigned, and the
// correlation key for later status events.
type Message struct {
	ID                string           `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          string           `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ConversationID    string           `gorm:"type:uuid;not null;index" json:"conversation_id"`
	SessionID         string           `gorm:"type:uuid;not null;uniqueIndex:ux_messages_session_external,priority:1" json:"session_id"`
	Direction         MessageDirection `gorm:"type:varchar(10);not null" json:"direction"`
	ContentType       ContentType      `gorm:"type:varchar(20);not null" json:"content_type"`
	Content           string           `gorm:"type:text" json:"content"`
	MediaURL          string           `gorm:"type:text" json:"media_url,omitempty"`
	ExternalMessageID string           `gorm:"type:varchar(255);not null;uniqueIndex:ux_messages_session_external,priority:2" json:"external_message_id"`
	Status            MessageStatus    `gorm:"type:int;not null" json:"status"`
	Metadata          []byte           `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         *time.Time       `json:"updated_at,omitempty"`
}

// Conversation groups messages exchanged with one external contact within
// one session. Created lazily on the first inbound or outbound message.
type Conversation struct {
	ID                 string     `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID           string     `gorm:"type:uuid;not null;uniqueIndex:ux_conversations_contact,priority:1" json:"tenant_id"`
	SessionID          string     `gorm:"type:uuid;not null;uniqueIndex:ux_conversations_contact,priority:2" json:"session_id"`
	ContactIdentifier  string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_conversations_contact,priority:3" json:"contact_identifier"`
	ContactDisplayName string     `gorm:"type:varchar(120)" json:"contact_display_name,omitempty"`
	LastMessageAt      *time.Time `gorm:"index" json:"last_message_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          *time.Time `json:"updated_at,omitempty"`
}
