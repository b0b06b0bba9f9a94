package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
)

// --- AccountRepo Mock ---

// AccountRepoMock mocks the AccountRepo interface
type AccountRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *AccountRepoMock) Save(ctx context.Context, account model.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *AccountRepoMock) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

// FindByPhoneNumberID mocks the FindByPhoneNumberID method
func (m *AccountRepoMock) FindByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Account, error) {
	args := m.Called(ctx, phoneNumberID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

// Close mocks the Close method
func (m *AccountRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ContactRepo Mock ---

// ContactRepoMock mocks the ContactRepo interface
type ContactRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *ContactRepoMock) Save(ctx context.Context, contact *model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// Update mocks the Update method
func (m *ContactRepoMock) Update(ctx context.Context, contact model.Contact) error {
	args := m.Called(ctx, contact)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *ContactRepoMock) FindByID(ctx context.Context, id int64) (*model.Contact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// FindByPhone mocks the FindByPhone method
func (m *ContactRepoMock) FindByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// GetOrCreateByPhone mocks the GetOrCreateByPhone method
func (m *ContactRepoMock) GetOrCreateByPhone(ctx context.Context, phone, providerID, name string) (*model.Contact, error) {
	args := m.Called(ctx, phone, providerID, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Contact), args.Error(1)
}

// BulkUpsert mocks the BulkUpsert method
func (m *ContactRepoMock) BulkUpsert(ctx context.Context, contacts []model.Contact) ([]model.Contact, error) {
	args := m.Called(ctx, contacts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

// FindByAttributes mocks the FindByAttributes method
func (m *ContactRepoMock) FindByAttributes(ctx context.Context, status model.ContactStatus, phoneNumbers []string) ([]model.Contact, error) {
	args := m.Called(ctx, status, phoneNumbers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Contact), args.Error(1)
}

// Close mocks the Close method
func (m *ContactRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- ConversationRepo Mock ---

// ConversationRepoMock mocks the ConversationRepo interface
type ConversationRepoMock struct {
	mock.Mock
}

// GetOrCreateOpen mocks the GetOrCreateOpen method
func (m *ConversationRepoMock) GetOrCreateOpen(ctx context.Context, contactID, accountID int64) (*model.Conversation, bool, error) {
	args := m.Called(ctx, contactID, accountID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*model.Conversation), args.Bool(1), args.Error(2)
}

// FindByID mocks the FindByID method
func (m *ConversationRepoMock) FindByID(ctx context.Context, id int64) (*model.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Conversation), args.Error(1)
}

// Update mocks the Update method
func (m *ConversationRepoMock) Update(ctx context.Context, conversation model.Conversation) error {
	args := m.Called(ctx, conversation)
	return args.Error(0)
}

// UpdateChatbotState mocks the UpdateChatbotState method
func (m *ConversationRepoMock) UpdateChatbotState(ctx context.Context, id int64, state model.ChatbotState, stateContext interface{}) error {
	args := m.Called(ctx, id, state, stateContext)
	return args.Error(0)
}

// RecordInboundActivity mocks the RecordInboundActivity method
func (m *ConversationRepoMock) RecordInboundActivity(ctx context.Context, id int64, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// SetStatus mocks the SetStatus method
func (m *ConversationRepoMock) SetStatus(ctx context.Context, id int64, status model.ConversationStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

// FindIdleAIHandled mocks the FindIdleAIHandled method
func (m *ConversationRepoMock) FindIdleAIHandled(ctx context.Context, idleSince time.Time) ([]model.Conversation, error) {
	args := m.Called(ctx, idleSince)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Conversation), args.Error(1)
}

// Close mocks the Close method
func (m *ConversationRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- MessageRepo Mock ---

// MessageRepoMock mocks the MessageRepo interface
type MessageRepoMock struct {
	mock.Mock
}

// Save mocks the Save method
func (m *MessageRepoMock) Save(ctx context.Context, message *model.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

// ExistsByProviderMessageID mocks the ExistsByProviderMessageID method
func (m *MessageRepoMock) ExistsByProviderMessageID(ctx context.Context, providerMessageID string) (bool, error) {
	args := m.Called(ctx, providerMessageID)
	return args.Bool(0), args.Error(1)
}

// FindByProviderMessageID mocks the FindByProviderMessageID method
func (m *MessageRepoMock) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	args := m.Called(ctx, providerMessageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// UpdateDeliveryStatus mocks the UpdateDeliveryStatus method
func (m *MessageRepoMock) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.MessageStatus, at time.Time, errorMessage string) (*model.Message, error) {
	args := m.Called(ctx, providerMessageID, status, at, errorMessage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// UpdateMedia mocks the UpdateMedia method
func (m *MessageRepoMock) UpdateMedia(ctx context.Context, id int64, mediaURL, mimeType string) error {
	args := m.Called(ctx, id, mediaURL, mimeType)
	return args.Error(0)
}

// FindRecentByConversation mocks the FindRecentByConversation method
func (m *MessageRepoMock) FindRecentByConversation(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	args := m.Called(ctx, conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

// FindLastByConversation mocks the FindLastByConversation method
func (m *MessageRepoMock) FindLastByConversation(ctx context.Context, conversationID int64) (*model.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

// Close mocks the Close method
func (m *MessageRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- CampaignRepo Mock ---

// CampaignRepoMock mocks the CampaignRepo interface
type CampaignRepoMock struct {
	mock.Mock
}

// Create mocks the Create method
func (m *CampaignRepoMock) Create(ctx context.Context, campaign *model.Campaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

// Update mocks the Update method
func (m *CampaignRepoMock) Update(ctx context.Context, campaign model.Campaign) error {
	args := m.Called(ctx, campaign)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *CampaignRepoMock) FindByID(ctx context.Context, id int64) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

// MarkRunning mocks the MarkRunning method
func (m *CampaignRepoMock) MarkRunning(ctx context.Context, id int64) (*model.Campaign, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

// MarkCompleted mocks the MarkCompleted method
func (m *CampaignRepoMock) MarkCompleted(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

// SetStatus mocks the SetStatus method
func (m *CampaignRepoMock) SetStatus(ctx context.Context, id int64, allowedFrom []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error) {
	args := m.Called(ctx, id, allowedFrom, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Campaign), args.Error(1)
}

// RecomputeCounters mocks the RecomputeCounters method
func (m *CampaignRepoMock) RecomputeCounters(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// CountPendingContacts mocks the CountPendingContacts method
func (m *CampaignRepoMock) CountPendingContacts(ctx context.Context, campaignID int64) (int64, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(int64), args.Error(1)
}

// FindDueScheduled mocks the FindDueScheduled method
func (m *CampaignRepoMock) FindDueScheduled(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Campaign), args.Error(1)
}

// Close mocks the Close method
func (m *CampaignRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- CampaignContactRepo Mock ---

// CampaignContactRepoMock mocks the CampaignContactRepo interface
type CampaignContactRepoMock struct {
	mock.Mock
}

// ReplaceForCampaign mocks the ReplaceForCampaign method
func (m *CampaignContactRepoMock) ReplaceForCampaign(ctx context.Context, campaignID int64, contacts []model.CampaignContact) error {
	args := m.Called(ctx, campaignID, contacts)
	return args.Error(0)
}

// FindByID mocks the FindByID method
func (m *CampaignContactRepoMock) FindByID(ctx context.Context, id int64) (*model.CampaignContact, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CampaignContact), args.Error(1)
}

// FindPendingByCampaign mocks the FindPendingByCampaign method
func (m *CampaignContactRepoMock) FindPendingByCampaign(ctx context.Context, campaignID int64) ([]model.CampaignContact, error) {
	args := m.Called(ctx, campaignID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CampaignContact), args.Error(1)
}

// MarkSent mocks the MarkSent method
func (m *CampaignContactRepoMock) MarkSent(ctx context.Context, id int64, providerMessageID string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, providerMessageID, at)
	return args.Bool(0), args.Error(1)
}

// MarkFailed mocks the MarkFailed method
func (m *CampaignContactRepoMock) MarkFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	args := m.Called(ctx, id, errorMessage)
	return args.Bool(0), args.Error(1)
}

// ResetFailed mocks the ResetFailed method
// ResetToPending mocks the ResetToPending method
func (m *CampaignContactRepoMock) ResetToPending(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *CampaignContactRepoMock) ResetFailed(ctx context.Context, campaignID int64) (int64, error) {
	args := m.Called(ctx, campaignID)
	return args.Get(0).(int64), args.Error(1)
}

// UpdateDeliveryStatus mocks the UpdateDeliveryStatus method
func (m *CampaignContactRepoMock) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status model.CampaignContactStatus, at time.Time) error {
	args := m.Called(ctx, providerMessageID, status, at)
	return args.Error(0)
}

// Close mocks the Close method
func (m *CampaignContactRepoMock) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
