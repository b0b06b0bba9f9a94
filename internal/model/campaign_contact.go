package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// CampaignContactStatus is the per-contact delivery status within a campaign.
type CampaignContactStatus string

const (
	CampaignContactPending   CampaignContactStatus = "pending"
	CampaignContactSent      CampaignContactStatus = "sent"
	CampaignContactDelivered CampaignContactStatus = "delivered"
	CampaignContactRead      CampaignContactStatus = "read"
	CampaignContactFailed    CampaignContactStatus = "failed"
)

// Terminal reports whether no further send attempt applies to status s.
func (s CampaignContactStatus) Terminal() bool {
	return s != CampaignContactPending
}

// CampaignContact joins a campaign to one target contact and tracks that
// contact's individual send outcome. Unique per (campaign, contact).
type CampaignContact struct {
	ID                int64                 `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	CampaignID        int64                 `json:"campaign_id" gorm:"column:campaign_id;uniqueIndex:idx_campaign_contact" validate:"required"`
	ContactID         int64                 `json:"contact_id" gorm:"column:contact_id;uniqueIndex:idx_campaign_contact" validate:"required"`
	Status            CampaignContactStatus `json:"status" gorm:"column:status;type:text;default:pending"`
	Parameters        datatypes.JSON        `json:"parameters,omitempty" gorm:"type:jsonb;column:parameters"` // personalized positional slots
	ProviderMessageID string                `json:"provider_message_id,omitempty" gorm:"column:provider_message_id;index"`
	ErrorMessage      string                `json:"error_message,omitempty" gorm:"column:error_message;type:text"`
	SentAt            *time.Time            `json:"sent_at,omitempty" gorm:"column:sent_at"`
	DeliveredAt       *time.Time            `json:"delivered_at,omitempty" gorm:"column:delivered_at"`
	ReadAt            *time.Time            `json:"read_at,omitempty" gorm:"column:read_at"`
	CreatedAt         time.Time             `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the CampaignContact model, respecting the Namer.
func (CampaignContact) TableName(namer schema.Namer) string {
	return namer.TableName("campaign_contacts")
}

// GetUpdatableFields returns a list of column names that can be updated during an ON CONFLICT clause.
func (cc *CampaignContact) GetUpdatableFields() []string {
	// Excludes id, created_at, campaign_id, contact_id (conflict target)
	return []string{
		"status", "parameters", "provider_message_id", "error_message",
		"sent_at", "delivered_at", "read_at", "updated_at",
	}
}
