package storage

import (
	"context"
	"time"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
)

// AccountRepoAdapter adapts the PostgresRepo to the AccountRepo interface
type AccountRepoAdapter struct {
	postgres *PostgresRepo
}

// NewAccountRepoAdapter creates a new account repository adapter
func NewAccountRepoAdapter(postgres *PostgresRepo) AccountRepo {
	return &AccountRepoAdapter{postgres: postgres}
}

// Save saves an account
func (a *AccountRepoAdapter) Save(ctx context.Context, account model.Account) error {
	return a.postgres.SaveAccount(ctx, account)
}

// FindByID finds an account by internal ID
func (a *AccountRepoAdapter) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	return a.postgres.FindAccountByID(ctx, id)
}

// FindByPhoneNumberID finds an account by the provider's phone number id
func (a *AccountRepoAdapter) FindByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Account, error) {
	return a.postgres.FindAccountByPhoneNumberID(ctx, phoneNumberID)
}

func (a *AccountRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ContactRepoAdapter adapts the PostgresRepo to the ContactRepo interface
type ContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewContactRepoAdapter creates a new contact repository adapter
func NewContactRepoAdapter(postgres *PostgresRepo) ContactRepo {
	return &ContactRepoAdapter{postgres: postgres}
}

// Save saves a contact
func (a *ContactRepoAdapter) Save(ctx context.Context, contact *model.Contact) error {
	return a.postgres.SaveContact(ctx, contact)
}

// Update updates a contact
func (a *ContactRepoAdapter) Update(ctx context.Context, contact model.Contact) error {
	return a.postgres.UpdateContact(ctx, contact)
}

// FindByID finds a contact by ID
func (a *ContactRepoAdapter) FindByID(ctx context.Context, id int64) (*model.Contact, error) {
	return a.postgres.FindContactByID(ctx, id)
}

// FindByPhone finds a contact by phone number
func (a *ContactRepoAdapter) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	return a.postgres.FindContactByPhone(ctx, phone)
}

// GetOrCreateByPhone resolves a contact by phone, creating it when missing
func (a *ContactRepoAdapter) GetOrCreateByPhone(ctx context.Context, phone, providerID, name string) (*model.Contact, error) {
	return a.postgres.GetOrCreateContactByPhone(ctx, phone, providerID, name)
}

// BulkUpsert performs a bulk upsert of contacts
func (a *ContactRepoAdapter) BulkUpsert(ctx context.Context, contacts []model.Contact) ([]model.Contact, error) {
	return a.postgres.BulkUpsertContacts(ctx, contacts)
}

// FindByAttributes lists contacts matching local attribute predicates
func (a *ContactRepoAdapter) FindByAttributes(ctx context.Context, status model.ContactStatus, phoneNumbers []string) ([]model.Contact, error) {
	return a.postgres.FindContactsByAttributes(ctx, status, phoneNumbers)
}

func (a *ContactRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// ConversationRepoAdapter adapts the PostgresRepo to the ConversationRepo interface
type ConversationRepoAdapter struct {
	postgres *PostgresRepo
}

// NewConversationRepoAdapter creates a new conversation repository adapter
func NewConversationRepoAdapter(postgres *PostgresRepo) ConversationRepo {
	return &ConversationRepoAdapter{postgres: postgres}
}

// GetOrCreateOpen resolves the open conversation for a contact and account
func (a *ConversationRepoAdapter) GetOrCreateOpen(ctx context.Context, contactID, accountID int64) (*model.Conversation, bool, error) {
	return a.postgres.GetOrCreateOpenConversation(ctx, contactID, accountID)
}

// FindByID finds a conversation by ID
func (a *ConversationRepoAdapter) FindByID(ctx context.Context, id int64) (*model.Conversation, error) {
	return a.postgres.FindConversationByID(ctx, id)
}

// Update updates a conversation
func (a *ConversationRepoAdapter) Update(ctx context.Context, conversation model.Conversation) error {
	return a.postgres.UpdateConversation(ctx, conversation)
}

// UpdateChatbotState persists a chatbot state transition with its context
func (a *ConversationRepoAdapter) UpdateChatbotState(ctx context.Context, id int64, state model.ChatbotState, stateContext interface{}) error {
	return a.postgres.UpdateConversationChatbotState(ctx, id, state, stateContext)
}

// RecordInboundActivity bumps the unread counter and last message time
func (a *ConversationRepoAdapter) RecordInboundActivity(ctx context.Context, id int64, at time.Time) error {
	return a.postgres.RecordConversationInboundActivity(ctx, id, at)
}

// SetStatus sets the conversation status
func (a *ConversationRepoAdapter) SetStatus(ctx context.Context, id int64, status model.ConversationStatus) error {
	return a.postgres.SetConversationStatus(ctx, id, status)
}

// FindIdleAIHandled finds AI-handled open conversations idle past the cutoff
func (a *ConversationRepoAdapter) FindIdleAIHandled(ctx context.Context, idleSince time.Time) ([]model.Conversation, error) {
	return a.postgres.FindIdleAIHandledConversations(ctx, idleSince)
}

func (a *ConversationRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// MessageRepoAdapter adapts the PostgresRepo to the MessageRepo interface
type MessageRepoAdapter struct {
	postgres *PostgresRepo
}

// NewMessageRepoAdapter creates a new message repository adapter
func NewMessageRepoAdapter(postgres *PostgresRepo) MessageRepo {
	return &MessageRepoAdapter{postgres: postgres}
}

// Save saves a message
func (a *MessageRepoAdapter) Save(ctx context.Context, message *model.Message) error {
	return a.postgres.SaveMessage(ctx, message)
}

// ExistsByProviderMessageID reports whether a provider message id was seen before
func (a *MessageRepoAdapter) ExistsByProviderMessageID(ctx context.Context, providerMessageID string) (bool, error) {
	return a.postgres.MessageExistsByProviderID(ctx, providerMessageID)
}

// FindByProviderMessageID finds a message by the provider's message id
func (a *MessageRepoAdapter) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	return a.postgres.FindMessageByProviderID(ctx, providerMessageID)
}

// UpdateDeliveryStatus applies a provider delivery receipt
func (a *MessageRepoAdapter) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.MessageStatus, at time.Time, errorMessage string) (*model.Message, error) {
	return a.postgres.UpdateMessageDeliveryStatus(ctx, providerMessageID, status, at, errorMessage)
}

// UpdateMedia backfills the resolved media URL and mime type
func (a *MessageRepoAdapter) UpdateMedia(ctx context.Context, id int64, mediaURL, mimeType string) error {
	return a.postgres.UpdateMessageMedia(ctx, id, mediaURL, mimeType)
}

// FindRecentByConversation returns the latest messages in chronological order
func (a *MessageRepoAdapter) FindRecentByConversation(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	return a.postgres.FindRecentMessagesByConversation(ctx, conversationID, limit)
}

// FindLastByConversation returns the most recent message of a conversation
func (a *MessageRepoAdapter) FindLastByConversation(ctx context.Context, conversationID int64) (*model.Message, error) {
	return a.postgres.FindLastMessageByConversation(ctx, conversationID)
}

func (a *MessageRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// CampaignRepoAdapter adapts the PostgresRepo to the CampaignRepo interface
type CampaignRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCampaignRepoAdapter creates a new campaign repository adapter
func NewCampaignRepoAdapter(postgres *PostgresRepo) CampaignRepo {
	return &CampaignRepoAdapter{postgres: postgres}
}

// Create persists a new campaign
func (a *CampaignRepoAdapter) Create(ctx context.Context, campaign *model.Campaign) error {
	return a.postgres.CreateCampaign(ctx, campaign)
}

// Update updates a campaign
func (a *CampaignRepoAdapter) Update(ctx context.Context, campaign model.Campaign) error {
	return a.postgres.UpdateCampaign(ctx, campaign)
}

// FindByID finds a campaign by ID
func (a *CampaignRepoAdapter) FindByID(ctx context.Context, id int64) (*model.Campaign, error) {
	return a.postgres.FindCampaignByID(ctx, id)
}

// MarkRunning guards the draft/scheduled to running transition
func (a *CampaignRepoAdapter) MarkRunning(ctx context.Context, id int64) (*model.Campaign, error) {
	return a.postgres.MarkCampaignRunning(ctx, id)
}

// MarkCompleted transitions a running campaign to completed
func (a *CampaignRepoAdapter) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	return a.postgres.MarkCampaignCompleted(ctx, id)
}

// SetStatus transitions the campaign status with a guard on the current one
func (a *CampaignRepoAdapter) SetStatus(ctx context.Context, id int64, allowedFrom []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error) {
	return a.postgres.SetCampaignStatus(ctx, id, allowedFrom, to)
}

// RecomputeCounters refreshes the aggregate counters from per-contact rows
func (a *CampaignRepoAdapter) RecomputeCounters(ctx context.Context, id int64) error {
	return a.postgres.RecomputeCampaignCounters(ctx, id)
}

// CountPendingContacts counts rows still awaiting a send
func (a *CampaignRepoAdapter) CountPendingContacts(ctx context.Context, campaignID int64) (int64, error) {
	return a.postgres.CountPendingCampaignContacts(ctx, campaignID)
}

// FindDueScheduled returns scheduled campaigns whose start time has passed
func (a *CampaignRepoAdapter) FindDueScheduled(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	return a.postgres.FindDueScheduledCampaigns(ctx, now)
}

func (a *CampaignRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// CampaignContactRepoAdapter adapts the PostgresRepo to the CampaignContactRepo interface
type CampaignContactRepoAdapter struct {
	postgres *PostgresRepo
}

// NewCampaignContactRepoAdapter creates a new campaign contact repository adapter
func NewCampaignContactRepoAdapter(postgres *PostgresRepo) CampaignContactRepo {
	return &CampaignContactRepoAdapter{postgres: postgres}
}

// ReplaceForCampaign swaps the campaign's target list atomically
func (a *CampaignContactRepoAdapter) ReplaceForCampaign(ctx context.Context, campaignID int64, contacts []model.CampaignContact) error {
	return a.postgres.ReplaceCampaignContacts(ctx, campaignID, contacts)
}

// FindByID finds a campaign contact row by ID
func (a *CampaignContactRepoAdapter) FindByID(ctx context.Context, id int64) (*model.CampaignContact, error) {
	return a.postgres.FindCampaignContactByID(ctx, id)
}

// FindPendingByCampaign returns the pending rows of a campaign
func (a *CampaignContactRepoAdapter) FindPendingByCampaign(ctx context.Context, campaignID int64) ([]model.CampaignContact, error) {
	return a.postgres.FindPendingCampaignContacts(ctx, campaignID)
}

// MarkSent transitions a pending row to sent
func (a *CampaignContactRepoAdapter) MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error) {
	return a.postgres.MarkCampaignContactSent(ctx, id, providerMessageID, at)
}

// MarkFailed transitions a pending row to failed
func (a *CampaignContactRepoAdapter) MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	return a.postgres.MarkCampaignContactFailed(ctx, id, errorMessage)
}

// ResetFailed re-arms the campaign's failed rows for a resend pass
func (a *CampaignContactRepoAdapter) ResetFailed(ctx context.Context, campaignID int64) (int64, error) {
	return a.postgres.ResetFailedCampaignContacts(ctx, campaignID)
}

// ResetToPending re-arms one failed row for an operator resend
func (a *CampaignContactRepoAdapter) ResetToPending(ctx context.Context, id int64) (bool, error) {
	return a.postgres.ResetCampaignContactToPending(ctx, id)
}

// UpdateDeliveryStatus applies a provider delivery receipt to a campaign row
func (a *CampaignContactRepoAdapter) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.CampaignContactStatus, at time.Time) error {
	return a.postgres.UpdateCampaignContactDeliveryStatus(ctx, providerMessageID, status, at)
}

func (a *CampaignContactRepoAdapter) Close(ctx context.Context) error {
	return a.postgres.Close(ctx)
}

// Ensure adapters implement the interfaces
var _ AccountRepo = (*AccountRepoAdapter)(nil)
var _ ContactRepo = (*ContactRepoAdapter)(nil)
var _ ConversationRepo = (*ConversationRepoAdapter)(nil)
var _ MessageRepo = (*MessageRepoAdapter)(nil)
var _ CampaignRepo = (*CampaignRepoAdapter)(nil)
var _ CampaignContactRepo = (*CampaignContactRepoAdapter)(nil)
