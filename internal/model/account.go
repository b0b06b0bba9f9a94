package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// Account represents a provider (WhatsApp Business) account the service
// sends and receives messages through. Every gateway call carries one
// explicitly; there is no ambient "current account".
type Account struct {
	ID                 int64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	Name               string    `json:"name" gorm:"column:name;type:text"`
	PhoneNumberID      string    `json:"phone_number_id" gorm:"column:phone_number_id;uniqueIndex;type:text" validate:"required"`
	BusinessAccountID  string    `json:"business_account_id,omitempty" gorm:"column:business_account_id;type:text"`
	DisplayPhoneNumber string    `json:"display_phone_number,omitempty" gorm:"column:display_phone_number;type:text"`
	AccessToken        string    `json:"-" gorm:"column:access_token;type:text" validate:"required"`
	Active             bool      `json:"active" gorm:"column:active;default:true"`
	CreatedAt          time.Time `json:"created_at,omitempty" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `json:"updated_at,omitempty" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for the Account model, respecting the Namer.
func (Account) TableName(namer schema.Namer) string {
	return namer.TableName("accounts")
}

// GetUpdatableFields returns a list of column names that can be updated during an ON CONFLICT clause.
func (a *Account) GetUpdatableFields() []string {
	// Excludes id, created_at, phone_number_id (conflict target)
	return []string{
		"name", "business_account_id", "display_phone_number", "access_token", "active", "updated_at",
	}
}
