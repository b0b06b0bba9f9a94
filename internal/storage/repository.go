package storage

import (
	"context"
	"time"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
)

// AccountRepo defines provider account storage operations
type AccountRepo interface {
	Save(ctx context.Context, account model.Account) error
	FindByID(ctx context.Context, id int64) (*model.Account, error)
	FindByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Account, error)
	Close(ctx context.Context) error
}

// ContactRepo defines contact storage operations
type ContactRepo interface {
	Save(ctx context.Context, contact *model.Contact) error
	Update(ctx context.Context, contact model.Contact) error
	FindByID(ctx context.Context, id int64) (*model.Contact, error)
	FindByPhone(ctx context.Context, phone string) (*model.Contact, error)
	GetOrCreateByPhone(ctx context.Context, phone, providerID, name string) (*model.Contact, error)
	BulkUpsert(ctx context.Context, contacts []model.Contact) ([]model.Contact, error)
	// FindByAttributes lists contacts matching local attribute predicates;
	// zero-value arguments are not applied.
	FindByAttributes(ctx context.Context, status model.ContactStatus, phoneNumbers []string) ([]model.Contact, error)
	Close(ctx context.Context) error
}

// ConversationRepo defines conversation storage operations
type ConversationRepo interface {
	// GetOrCreateOpen resolves the open conversation for a (contact, account)
	// pair, reopening a closed row or creating a fresh one. The returned flag
	// is true for brand-new or just-reopened conversations.
	GetOrCreateOpen(ctx context.Context, contactID, accountID int64) (*model.Conversation, bool, error)
	FindByID(ctx context.Context, id int64) (*model.Conversation, error)
	Update(ctx context.Context, conversation model.Conversation) error
	UpdateChatbotState(ctx context.Context, id int64, state model.ChatbotState, stateContext interface{}) error
	RecordInboundActivity(ctx context.Context, id int64, at time.Time) error
	SetStatus(ctx context.Context, id int64, status model.ConversationStatus) error
	FindIdleAIHandled(ctx context.Context, idleSince time.Time) ([]model.Conversation, error)
	Close(ctx context.Context) error
}

// MessageRepo defines message storage operations
type MessageRepo interface {
	Save(ctx context.Context, message *model.Message) error
	ExistsByProviderMessageID(ctx context.Context, providerMessageID string) (bool, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error)
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.MessageStatus, at time.Time, errorMessage string) (*model.Message, error)
	UpdateMedia(ctx context.Context, id int64, mediaURL, mimeType string) error
	FindRecentByConversation(ctx context.Context, conversationID int64, limit int) ([]model.Message, error)
	FindLastByConversation(ctx context.Context, conversationID int64) (*model.Message, error)
	Close(ctx context.Context) error
}

// CampaignRepo defines campaign storage operations
type CampaignRepo interface {
	Create(ctx context.Context, campaign *model.Campaign) error
	Update(ctx context.Context, campaign model.Campaign) error
	FindByID(ctx context.Context, id int64) (*model.Campaign, error)
	// MarkRunning guards the draft/scheduled -> running transition.
	MarkRunning(ctx context.Context, id int64) (*model.Campaign, error)
	// MarkCompleted transitions running -> completed. Returns false when the
	// campaign was not running (already completed, paused or cancelled).
	MarkCompleted(ctx context.Context, id int64) (bool, error)
	SetStatus(ctx context.Context, id int64, allowedFrom []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error)
	RecomputeCounters(ctx context.Context, id int64) error
	CountPendingContacts(ctx context.Context, campaignID int64) (int64, error)
	FindDueScheduled(ctx context.Context, now time.Time) ([]model.Campaign, error)
	Close(ctx context.Context) error
}

// CampaignContactRepo defines campaign contact storage operations
type CampaignContactRepo interface {
	// ReplaceForCampaign purges all existing rows for the campaign and inserts
	// the given set, updating the campaign's total, in one transaction.
	ReplaceForCampaign(ctx context.Context, campaignID int64, contacts []model.CampaignContact) error
	FindByID(ctx context.Context, id int64) (*model.CampaignContact, error)
	FindPendingByCampaign(ctx context.Context, campaignID int64) ([]model.CampaignContact, error)
	// MarkSent transitions pending -> sent. Returns false when the row was no
	// longer pending (duplicate task or concurrent send).
	MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error)
	// MarkFailed transitions pending -> failed with the provider's error text.
	MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error)
	// ResetFailed re-arms the campaign's failed rows for an operator resend,
	// returning how many were reset.
	ResetFailed(ctx context.Context, campaignID int64) (int64, error)
	// ResetToPending re-arms one failed row. Returns false when the row is
	// not currently failed.
	ResetToPending(ctx context.Context, id int64) (bool, error)
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.CampaignContactStatus, at time.Time) error
	Close(ctx context.Context) error
}
