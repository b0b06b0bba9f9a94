package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ConversationStatus is the lifecycle status of a conversation.
type ConversationStatus string

const (
	ConversationStatusOpen     ConversationStatus = "open"
	ConversationStatusPending  ConversationStatus = "pending"
	ConversationStatusResolved ConversationStatus = "resolved"
	ConversationStatusClosed   ConversationStatus = "closed"
)

// Conversation represents a messaging thread between a contact and a
// provider account. At most one open conversation exists per
// (contact, account) pair; a closed one is reopened in place.
type Conversation struct {
	ID             int64              `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	ContactID      int64              `json:"contact_id" gorm:"column:contact_id;index:idx_conversations_contact_account" validate:"required"`
	AccountID      int64              `json:"account_id" gorm:"column:account_id;index:idx_conversations_contact_account" validate:"required"`
	Status         ConversationStatus `json:"status" gorm:"column:status;type:text;default:open"`
	IsAIHandled    bool               `json:"is_ai_handled" gorm:"column:is_ai_handled;default:true"`
	AssignedUserID *int64             `json:"assigned_user_id,omitempty" gorm:"column:assigned_user_id"`
	ChatbotState   ChatbotState       `json:"chatbot_state,omitempty" gorm:"column:chatbot_state;type:text"`
	ChatbotContext datatypes.JSON     `json:"chatbot_context,omitempty" gorm:"type:jsonb;column:chatbot_context"`
	UnreadCount    int32              `json:"unread_count,omitempty" gorm:"column:unread_count;default:0"`
	LastMessageAt  *time.Time         `json:"last_message_at,omitempty" gorm:"column:last_message_at"`
	CreatedAt      time.Time          `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the Conversation model, respecting the Namer.
func (Conversation) TableName(namer schema.Namer) string {
	return namer.TableName("conversations")
}

// GetUpdatableFields returns a list of column names that can be updated during an ON CONFLICT clause.
func (c *Conversation) GetUpdatableFields() []string {
	// Excludes id, created_at, contact_id, account_id
	return []string{
		"status", "is_ai_handled", "assigned_user_id", "chatbot_state",
		"chatbot_context", "unread_count", "last_message_at", "updated_at",
	}
}

// AssignToUser hands the conversation to a human agent. Assigning a human
// always turns AI handling off.
func (c *Conversation) AssignToUser(userID int64) {
	c.AssignedUserID = &userID
	c.IsAIHandled = false
}

// Reopen resets a non-open conversation back to a clean open state.
func (c *Conversation) Reopen() {
	c.Status = ConversationStatusOpen
	c.IsAIHandled = true
	c.AssignedUserID = nil
	c.ChatbotState = StateIdle
	c.ChatbotContext = nil
}
