package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// MessageDirection distinguishes inbound user messages from outbound replies.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// MessageType is the closed set of message content types the pipeline
// understands. Extraction and payload building switch exhaustively on it.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeSticker  MessageType = "sticker"
	TypeLocation MessageType = "location"
	TypeTemplate MessageType = "template"
	TypeUnknown  MessageType = "unknown"
)

// MessageStatus tracks provider delivery progress.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Message represents a single inbound or outbound message within a conversation.
type Message struct {
	ID                int64            `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ConversationID    int64            `json:"conversation_id" gorm:"column:conversation_id;index" validate:"required"`
	ContactID         int64            `json:"contact_id" gorm:"column:contact_id;index" validate:"required"`
	Direction         MessageDirection `json:"direction" gorm:"column:direction;type:text" validate:"required"`
	Type              MessageType      `json:"type" gorm:"column:type;type:text"`
	Status            MessageStatus    `json:"status" gorm:"column:status;type:text;default:pending"`
	Content           *string          `json:"content,omitempty" gorm:"column:content;type:text"`
	MediaID           string           `json:"media_id,omitempty" gorm:"column:media_id;type:text"`
	MediaURL          string           `json:"media_url,omitempty" gorm:"column:media_url;type:text"`
	MediaMimeType     string           `json:"media_mime_type,omitempty" gorm:"column:media_mime_type;type:text"`
	TemplateName      string           `json:"template_name,omitempty" gorm:"column:template_name;type:text"`
	TemplateParams    datatypes.JSON   `json:"template_params,omitempty" gorm:"type:jsonb;column:template_params"`
	ProviderMessageID *string          `json:"provider_message_id,omitempty" gorm:"column:provider_message_id;uniqueIndex"` // dedup key, nullable for synthetic messages
	IsAIGenerated     bool             `json:"is_ai_generated" gorm:"column:is_ai_generated;default:false"`
	ErrorMessage      string           `json:"error_message,omitempty" gorm:"column:error_message;type:text"`
	ProviderTimestamp time.Time        `json:"provider_timestamp,omitempty" gorm:"column:provider_timestamp"`
	SentAt            *time.Time       `json:"sent_at,omitempty" gorm:"column:sent_at"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty" gorm:"column:delivered_at"`
	ReadAt            *time.Time       `json:"read_at,omitempty" gorm:"column:read_at"`
	CreatedAt         time.Time        `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the base table name for GORM, respecting the Namer.
func (Message) TableName(namer schema.Namer) string {
	return namer.TableName("messages")
}

// GetUpdatableFields returns a list of column names that can be updated during an ON CONFLICT clause.
// Excludes primary key, creation timestamp and the dedup key itself.
func (m *Message) GetUpdatableFields() []string {
	return []string{
		"status", "content", "media_url", "media_mime_type", "error_message",
		"sent_at", "delivered_at", "read_at", "updated_at",
	}
}
