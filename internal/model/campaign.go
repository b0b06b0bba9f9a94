package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// CampaignType controls when a campaign's sends are dispatched.
type CampaignType string

const (
	CampaignTypeImmediate CampaignType = "immediate"
	CampaignTypeScheduled CampaignType = "scheduled"
	CampaignTypeRecurring CampaignType = "recurring"
)

// CampaignStatus is the lifecycle status of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

// Startable reports whether a campaign in status s may transition to running.
func (s CampaignStatus) Startable() bool {
	return s == CampaignStatusDraft || s == CampaignStatusScheduled
}

// Campaign represents a bulk outbound template-message campaign.
type Campaign struct {
	ID                int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	AccountID         int64          `json:"account_id" gorm:"column:account_id;index" validate:"required"`
	CreatedByUserID   int64          `json:"created_by_user_id,omitempty" gorm:"column:created_by_user_id"`
	Name              string         `json:"name" gorm:"column:name;type:text" validate:"required"`
	Type              CampaignType   `json:"type" gorm:"column:type;type:text;default:immediate"`
	Status            CampaignStatus `json:"status" gorm:"column:status;type:text;default:draft"`
	TemplateName      string         `json:"template_name" gorm:"column:template_name;type:text" validate:"required"`
	TemplateParams    datatypes.JSON `json:"template_params,omitempty" gorm:"type:jsonb;column:template_params"` // positional slots, may reference contact fields
	Filters           datatypes.JSON `json:"filters,omitempty" gorm:"type:jsonb;column:filters"`                 // serialized CampaignFilter
	RateLimitPerMin   int            `json:"rate_limit_per_minute" gorm:"column:rate_limit_per_minute;default:20"`
	TotalContacts     int            `json:"total_contacts" gorm:"column:total_contacts;default:0"`
	SentCount         int            `json:"sent_count" gorm:"column:sent_count;default:0"`
	DeliveredCount    int            `json:"delivered_count" gorm:"column:delivered_count;default:0"`
	ReadCount         int            `json:"read_count" gorm:"column:read_count;default:0"`
	FailedCount       int            `json:"failed_count" gorm:"column:failed_count;default:0"`
	ScheduledAt       *time.Time     `json:"scheduled_at,omitempty" gorm:"column:scheduled_at"`
	StartedAt         *time.Time     `json:"started_at,omitempty" gorm:"column:started_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" gorm:"column:completed_at"`
	CreatedAt         time.Time      `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the Campaign model, respecting the Namer.
func (Campaign) TableName(namer schema.Namer) string {
	return namer.TableName("campaigns")
}

// GetUpdatableFields returns a list of column names that can be updated during an ON CONFLICT clause.
func (c *Campaign) GetUpdatableFields() []string {
	return []string{
		"name", "type", "status", "template_name", "template_params", "filters",
		"rate_limit_per_minute", "total_contacts", "sent_count", "delivered_count",
		"read_count", "failed_count", "scheduled_at", "started_at", "completed_at", "updated_at",
	}
}
