package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/datatypes"

	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// RandomJSONBMap generates JSON data from a map for testing.
func RandomJSONBMap(data map[string]interface{}) datatypes.JSON {
	bytes, _ := json.Marshal(data)
	return datatypes.JSON(bytes)
}

// NewAccount creates a new Account instance with default fake data.
func NewAccount(overrideDefaults ...*Account) *Account {
	base := &Account{
		ID:                 int64(gofakeit.Number(1, 1_000_000)),
		Name:               gofakeit.Company(),
		PhoneNumberID:      gofakeit.DigitN(15),
		BusinessAccountID:  gofakeit.DigitN(15),
		DisplayPhoneNumber: gofakeit.Phone(),
		AccessToken:        gofakeit.LetterN(40),
		Active:             true,
		CreatedAt:          utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:          utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.PhoneNumberID != "" {
			base.PhoneNumberID = ovr.PhoneNumberID
		}
		if ovr.AccessToken != "" {
			base.AccessToken = ovr.AccessToken
		}
	}
	return base
}

// NewContact creates a new Contact instance with default fake data.
func NewContact(overrideDefaults ...*Contact) *Contact {
	base := &Contact{
		ID:          int64(gofakeit.Number(1, 1_000_000)),
		PhoneNumber: "55" + gofakeit.DigitN(11),
		ProviderID:  gofakeit.DigitN(13),
		Name:        gofakeit.Name(),
		Tags:        datatypes.JSON(`["` + DefaultContactTag + `"]`),
		Status:      ContactStatusActive,
		CreatedAt:   utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.PhoneNumber != "" {
			base.PhoneNumber = ovr.PhoneNumber
		}
		if ovr.Name != "" {
			base.Name = ovr.Name
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if len(ovr.Tags) > 0 {
			base.Tags = ovr.Tags
		}
		if len(ovr.CustomFields) > 0 {
			base.CustomFields = ovr.CustomFields
		}
	}
	return base
}

// NewConversation creates a new Conversation instance with default fake data.
func NewConversation(overrideDefaults ...*Conversation) *Conversation {
	base := &Conversation{
		ID:          int64(gofakeit.Number(1, 1_000_000)),
		ContactID:   int64(gofakeit.Number(1, 1_000_000)),
		AccountID:   int64(gofakeit.Number(1, 1_000)),
		Status:      ConversationStatusOpen,
		IsAIHandled: true,
		CreatedAt:   utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:   utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.ContactID != 0 {
			base.ContactID = ovr.ContactID
		}
		if ovr.AccountID != 0 {
			base.AccountID = ovr.AccountID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.ChatbotState != StateIdle {
			base.ChatbotState = ovr.ChatbotState
		}
		if len(ovr.ChatbotContext) > 0 {
			base.ChatbotContext = ovr.ChatbotContext
		}
		base.IsAIHandled = ovr.IsAIHandled
		base.AssignedUserID = ovr.AssignedUserID
		if ovr.LastMessageAt != nil {
			base.LastMessageAt = ovr.LastMessageAt
		}
	}
	return base
}

// NewMessage creates a new Message instance with default fake data.
func NewMessage(overrideDefaults ...*Message) *Message {
	providerID := fmt.Sprintf("wamid.%s", gofakeit.LetterN(24))
	body := gofakeit.Sentence(6)
	base := &Message{
		ID:                int64(gofakeit.Number(1, 1_000_000)),
		ConversationID:    int64(gofakeit.Number(1, 1_000_000)),
		ContactID:         int64(gofakeit.Number(1, 1_000_000)),
		Direction:         DirectionInbound,
		Type:              TypeText,
		Status:            MessageStatusPending,
		Content:           &body,
		ProviderMessageID: &providerID,
		ProviderTimestamp: utils.Now().Add(-time.Minute),
		CreatedAt:         utils.Now(),
		UpdatedAt:         utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.ConversationID != 0 {
			base.ConversationID = ovr.ConversationID
		}
		if ovr.ContactID != 0 {
			base.ContactID = ovr.ContactID
		}
		if ovr.Direction != "" {
			base.Direction = ovr.Direction
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.Content != nil {
			base.Content = ovr.Content
		}
		if ovr.ProviderMessageID != nil {
			base.ProviderMessageID = ovr.ProviderMessageID
		}
		if ovr.MediaID != "" {
			base.MediaID = ovr.MediaID
			base.MediaMimeType = ovr.MediaMimeType
		}
	}
	return base
}

// NewCampaign creates a new Campaign instance with default fake data.
func NewCampaign(overrideDefaults ...*Campaign) *Campaign {
	base := &Campaign{
		ID:              int64(gofakeit.Number(1, 1_000_000)),
		AccountID:       int64(gofakeit.Number(1, 1_000)),
		Name:            gofakeit.Sentence(3),
		Type:            CampaignTypeImmediate,
		Status:          CampaignStatusDraft,
		TemplateName:    gofakeit.Word(),
		RateLimitPerMin: 20,
		CreatedAt:       utils.Now().Add(-time.Hour),
		UpdatedAt:       utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.AccountID != 0 {
			base.AccountID = ovr.AccountID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.TemplateName != "" {
			base.TemplateName = ovr.TemplateName
		}
		if ovr.RateLimitPerMin != 0 {
			base.RateLimitPerMin = ovr.RateLimitPerMin
		}
		if len(ovr.Filters) > 0 {
			base.Filters = ovr.Filters
		}
		if len(ovr.TemplateParams) > 0 {
			base.TemplateParams = ovr.TemplateParams
		}
		if ovr.TotalContacts != 0 {
			base.TotalContacts = ovr.TotalContacts
		}
	}
	return base
}

// NewCampaignContact creates a new CampaignContact instance with default fake data.
func NewCampaignContact(overrideDefaults ...*CampaignContact) *CampaignContact {
	base := &CampaignContact{
		ID:         int64(gofakeit.Number(1, 1_000_000)),
		CampaignID: int64(gofakeit.Number(1, 1_000_000)),
		ContactID:  int64(gofakeit.Number(1, 1_000_000)),
		Status:     CampaignContactPending,
		CreatedAt:  utils.Now().Add(-time.Minute),
		UpdatedAt:  utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.CampaignID != 0 {
			base.CampaignID = ovr.CampaignID
		}
		if ovr.ContactID != 0 {
			base.ContactID = ovr.ContactID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if len(ovr.Parameters) > 0 {
			base.Parameters = ovr.Parameters
		}
		if ovr.ErrorMessage != "" {
			base.ErrorMessage = ovr.ErrorMessage
		}
	}
	return base
}
