package ingestion

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/events"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/storage"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// Pipeline turns raw webhook payloads into persisted messages, conversation
// updates and delivery status transitions. Each change event in a batch is
// processed independently so one malformed entry cannot hold back its
// siblings.
type Pipeline struct {
	accounts         storage.AccountRepo
	contacts         storage.ContactRepo
	conversations    storage.ConversationRepo
	messages         storage.MessageRepo
	campaignContacts storage.CampaignContactRepo
	dispatcher       *events.Dispatcher
	media            MediaScheduler
}

// NewPipeline wires the ingestion pipeline with its repositories, the event
// dispatcher and the media fetch scheduler. media may be nil when media
// handling is disabled.
func NewPipeline(
	accounts storage.AccountRepo,
	contacts storage.ContactRepo,
	conversations storage.ConversationRepo,
	messages storage.MessageRepo,
	campaignContacts storage.CampaignContactRepo,
	dispatcher *events.Dispatcher,
	media MediaScheduler,
) *Pipeline {
	return &Pipeline{
		accounts:         accounts,
		contacts:         contacts,
		conversations:    conversations,
		messages:         messages,
		campaignContacts: campaignContacts,
		dispatcher:       dispatcher,
		media:            media,
	}
}

// Process handles one raw webhook payload. It returns a retryable error only
// when at least one change failed transiently; permanent per-change failures
// are logged and skipped, since redelivering the whole batch would not fix
// them and dedup makes reprocessing the healthy siblings harmless.
func (p *Pipeline) Process(ctx context.Context, raw []byte) error {
	log := logger.FromContext(ctx)

	var payload model.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warn("Dropping malformed webhook payload", zap.Error(err), zap.Int("payload_bytes", len(raw)))
		return nil
	}

	var retryableErr error
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				log.Debug("Skipping unhandled webhook change field", zap.String("field", change.Field))
				continue
			}
			if err := p.processChange(ctx, change.Value); err != nil {
				if apperrors.IsRetryable(err) {
					retryableErr = err
					continue
				}
				log.Error("Permanent failure processing webhook change",
					zap.Error(err),
					zap.String("phone_number_id", change.Value.Metadata.PhoneNumberID),
				)
			}
		}
	}
	return retryableErr
}

func (p *Pipeline) processChange(ctx context.Context, value model.WebhookValue) error {
	log := logger.FromContext(ctx)

	account, err := p.accounts.FindByPhoneNumberID(ctx, value.Metadata.PhoneNumberID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Webhook change for unknown account, skipping",
				zap.String("phone_number_id", value.Metadata.PhoneNumberID))
			return nil
		}
		return apperrors.NewRetryable(err, "failed to resolve account for phone number id %s", value.Metadata.PhoneNumberID)
	}

	profileNames := make(map[string]string, len(value.Contacts))
	for _, c := range value.Contacts {
		profileNames[c.WaID] = c.Profile.Name
	}

	var retryableErr error
	for _, m := range value.Messages {
		if err := p.processMessage(ctx, *account, m, profileNames); err != nil {
			if apperrors.IsRetryable(err) {
				retryableErr = err
				continue
			}
			log.Error("Permanent failure processing inbound message",
				zap.Error(err), zap.String("provider_message_id", m.ID))
		}
	}

	for _, s := range value.Statuses {
		if err := p.processStatus(ctx, s); err != nil {
			if apperrors.IsRetryable(err) {
				retryableErr = err
				continue
			}
			log.Error("Permanent failure processing status update",
				zap.Error(err), zap.String("provider_message_id", s.ID))
		}
	}
	return retryableErr
}

// processMessage persists one inbound message and updates the conversation
// lifecycle around it. A message whose provider id is already stored is a
// provider redelivery and is skipped entirely.
func (p *Pipeline) processMessage(ctx context.Context, account model.Account, m model.WebhookMessage, profileNames map[string]string) error {
	log := logger.FromContext(ctx)
	eventType := "message"

	exists, err := p.messages.ExistsByProviderMessageID(ctx, m.ID)
	if err != nil {
		return apperrors.NewRetryable(err, "dedup check failed for message %s", m.ID)
	}
	if exists {
		log.Debug("Skipping already-ingested message", zap.String("provider_message_id", m.ID))
		observer.IncWebhookEventsDeduped()
		return nil
	}

	contact, err := p.contacts.GetOrCreateByPhone(ctx, m.From, m.From, profileNames[m.From])
	if err != nil {
		observer.IncWebhookProcessingAction(eventType, "contact_error", observer.SanitizeErrorType(err.Error()))
		return apperrors.NewRetryable(err, "failed to resolve contact %s", m.From)
	}

	conversation, isNew, err := p.conversations.GetOrCreateOpen(ctx, contact.ID, account.ID)
	if err != nil {
		observer.IncWebhookProcessingAction(eventType, "conversation_error", observer.SanitizeErrorType(err.Error()))
		return apperrors.NewRetryable(err, "failed to open conversation for contact %d", contact.ID)
	}

	providerTimestamp := utils.Now()
	if ts := utils.UnixToTime(m.UnixTimestamp()); !ts.IsZero() {
		providerTimestamp = ts
	}

	message := &model.Message{
		ConversationID:    conversation.ID,
		ContactID:         contact.ID,
		Direction:         model.DirectionInbound,
		Type:              m.Type,
		Status:            model.MessageStatusDelivered,
		Content:           model.ExtractContent(m),
		ProviderMessageID: &m.ID,
		ProviderTimestamp: providerTimestamp,
		CreatedAt:         providerTimestamp,
	}
	if descriptor := model.ExtractMedia(m); descriptor != nil {
		message.MediaID = descriptor.ID
		message.MediaMimeType = descriptor.MimeType
	}

	if err := p.messages.Save(ctx, message); err != nil {
		observer.IncWebhookProcessingAction(eventType, "save_error", observer.SanitizeErrorType(err.Error()))
		return apperrors.NewRetryable(err, "failed to persist message %s", m.ID)
	}

	if err := p.conversations.RecordInboundActivity(ctx, conversation.ID, providerTimestamp); err != nil {
		// The message itself is stored. A stale counter fixes itself on the
		// next inbound message, so this is not worth a redelivery.
		log.Warn("Failed to record inbound activity", zap.Error(err), zap.Int64("conversation_id", conversation.ID))
	}

	if message.MediaID != "" && p.media != nil {
		if err := p.media.ScheduleFetch(ctx, account, message, conversation, contact); err != nil {
			log.Warn("Failed to schedule media fetch", zap.Error(err), zap.Int64("message_id", message.ID))
		}
	}

	observer.IncWebhookProcessingAction(eventType, "ingested", "none")
	log.Info("Ingested inbound message",
		zap.String("provider_message_id", m.ID),
		zap.String("type", string(m.Type)),
		zap.Int64("conversation_id", conversation.ID),
		zap.Bool("new_conversation", isNew),
	)

	p.dispatcher.PublishMessageReceived(ctx, events.MessageReceived{
		Message:      message,
		Conversation: conversation,
		Contact:      contact,
		Account:      account,
		IsNew:        isNew,
	})
	return nil
}

// statusFromProvider maps a provider status string to the internal delivery
// status. Unknown values return false.
func statusFromProvider(s string) (model.MessageStatus, bool) {
	switch s {
	case "sent":
		return model.MessageStatusSent, true
	case "delivered":
		return model.MessageStatusDelivered, true
	case "read":
		return model.MessageStatusRead, true
	case "failed":
		return model.MessageStatusFailed, true
	}
	return "", false
}

// processStatus applies one delivery status update to the stored message and,
// for campaign sends, to the campaign contact counters. Statuses for messages
// we never stored are ignored.
func (p *Pipeline) processStatus(ctx context.Context, s model.WebhookStatus) error {
	log := logger.FromContext(ctx)
	eventType := "status"

	status, ok := statusFromProvider(s.Status)
	if !ok {
		log.Warn("Skipping unknown delivery status", zap.String("status", s.Status), zap.String("provider_message_id", s.ID))
		return nil
	}

	at := utils.Now()
	if ts := utils.UnixToTime(s.UnixTimestamp()); !ts.IsZero() {
		at = ts
	}

	errorText := ""
	if status == model.MessageStatusFailed && len(s.Errors) > 0 {
		errorText = s.Errors[0].Title
	}

	if _, err := p.messages.UpdateDeliveryStatus(ctx, s.ID, status, at, errorText); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			log.Debug("Status update for unknown message, ignoring", zap.String("provider_message_id", s.ID))
			return nil
		}
		observer.IncWebhookProcessingAction(eventType, "update_error", observer.SanitizeErrorType(err.Error()))
		return apperrors.NewRetryable(err, "failed to update delivery status for %s", s.ID)
	}

	if campaignStatus, tracked := campaignStatusFromProvider(status); tracked {
		if err := p.campaignContacts.UpdateDeliveryStatus(ctx, s.ID, campaignStatus, at); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			log.Warn("Failed to update campaign contact delivery status",
				zap.Error(err), zap.String("provider_message_id", s.ID))
		}
	}

	observer.IncWebhookProcessingAction(eventType, "applied", "none")

	p.dispatcher.PublishMessageStatusUpdated(ctx, events.MessageStatusUpdated{
		ProviderMessageID: s.ID,
		Status:            status,
		ErrorText:         errorText,
	})
	return nil
}

// campaignStatusFromProvider maps delivery progress to campaign contact
// status. Only delivered and read move the campaign counters; sent is already
// recorded at dispatch time and failures past the send call stay attributed
// to the message.
func campaignStatusFromProvider(status model.MessageStatus) (model.CampaignContactStatus, bool) {
	switch status {
	case model.MessageStatusDelivered:
		return model.CampaignContactDelivered, true
	case model.MessageStatusRead:
		return model.CampaignContactRead, true
	}
	return "", false
}
