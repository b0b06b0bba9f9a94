package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// ContactStatus is the lifecycle status of a contact.
type ContactStatus string

const (
	ContactStatusActive   ContactStatus = "active"
	ContactStatusBlocked  ContactStatus = "blocked"
	ContactStatusOptedOut ContactStatus = "opted_out"
)

// DefaultContactTag is applied to contacts created from an inbound message.
const DefaultContactTag = "whatsapp"

// Contact represents a messaging contact in the PostgreSQL database.
type Contact struct {
	ID           int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	PhoneNumber  string         `json:"phone_number" gorm:"column:phone_number;uniqueIndex;type:text" validate:"required"`
	ProviderID   string         `json:"provider_id,omitempty" gorm:"column:provider_id;index;type:text"` // WhatsApp ID (wa_id)
	Name         string         `json:"name,omitempty" gorm:"column:name;type:text"`
	Tags         datatypes.JSON `json:"tags,omitempty" gorm:"type:jsonb;column:tags"`          // JSON array of tag strings
	CustomFields datatypes.JSON `json:"custom_fields,omitempty" gorm:"type:jsonb;column:custom_fields"` // arbitrary key/value pairs
	Status       ContactStatus  `json:"status,omitempty" gorm:"column:status;type:text;default:active"`
	CreatedAt    time.Time      `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the Contact model, respecting the Namer.
func (Contact) TableName(namer schema.Namer) string {
	return namer.TableName("contacts")
}

// GetUpdatableFields returns a list of column names that can be updated during an ON CONFLICT clause.
func (c *Contact) GetUpdatableFields() []string {
	// Excludes id, created_at, phone_number (conflict target)
	return []string{
		"provider_id", "name", "tags", "custom_fields", "status", "updated_at",
	}
}
