package chatbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/ai"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/events"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/storage"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/taskqueue"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

const (
	turnMaxAttempts = 2
	turnBackoff     = 5 * time.Second
	turnTimeout     = 60 * time.Second

	lookupMaxAttempts = 3
	lookupBackoff     = 5 * time.Second
	lookupTimeout     = 30 * time.Second

	historyDepth = 20
)

// Engine drives the stateful conversation flow: it reacts to inbound
// messages, classifies them, walks the per-conversation state machine and
// sends replies through the provider gateway. All state mutation for one
// conversation is serialized behind a per-conversation lock.
type Engine struct {
	gateway     Gateway
	classifier  Classifier
	synthesizer Synthesizer
	locator     ServicePointLocator

	accounts      storage.AccountRepo
	contacts      storage.ContactRepo
	conversations storage.ConversationRepo
	messages      storage.MessageRepo

	dispatcher *events.Dispatcher
	tasks      taskqueue.Submitter

	onboardingAudioURL string

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewEngine wires the conversation engine.
func NewEngine(
	gw Gateway,
	classifier Classifier,
	synthesizer Synthesizer,
	locator ServicePointLocator,
	accounts storage.AccountRepo,
	contacts storage.ContactRepo,
	conversations storage.ConversationRepo,
	messages storage.MessageRepo,
	dispatcher *events.Dispatcher,
	tasks taskqueue.Submitter,
	onboardingAudioURL string,
) *Engine {
	return &Engine{
		gateway:            gw,
		classifier:         classifier,
		synthesizer:        synthesizer,
		locator:            locator,
		accounts:           accounts,
		contacts:           contacts,
		conversations:      conversations,
		messages:           messages,
		dispatcher:         dispatcher,
		tasks:              tasks,
		onboardingAudioURL: onboardingAudioURL,
		locks:              make(map[int64]*sync.Mutex),
	}
}

// conversationLock returns the mutex serializing state mutation for one
// conversation.
func (e *Engine) conversationLock(conversationID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[conversationID] = lock
	}
	return lock
}

// HandleMessageReceived is the ingestion event listener. Audio messages are
// skipped here: they re-enter through HandleTranscribedText once the
// transcription worker is done with them.
func (e *Engine) HandleMessageReceived(ctx context.Context, ev events.MessageReceived) {
	if ev.Message.Direction != model.DirectionInbound || !ev.Conversation.IsAIHandled {
		return
	}
	if ev.Message.Type == model.TypeAudio {
		return
	}

	userInput := ""
	if ev.Message.Content != nil {
		userInput = *ev.Message.Content
	}
	e.submitTurn(ctx, ev.Account, ev.Conversation, ev.Contact, ev.Message, ev.IsNew, false, userInput)
}

// HandleTranscribedText re-enters the engine for an audio message whose
// transcription has completed. An empty transcript (unsupported or silent
// audio) gets the generic audio acknowledgement instead of a classified turn.
func (e *Engine) HandleTranscribedText(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, message *model.Message, transcript string) {
	if !conversation.IsAIHandled {
		return
	}
	e.submitTurn(ctx, account, conversation, contact, message, false, true, strings.TrimSpace(transcript))
}

// submitTurn queues one engine turn on the worker pool. When every attempt
// is spent, the conversation is escalated to a human instead of being
// silently dropped.
func (e *Engine) submitTurn(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, message *model.Message, isNew, respondWithAudio bool, userInput string) {
	log := logger.FromContext(ctx)
	spec := taskqueue.TaskSpec{
		Name:        "chatbot_turn",
		MaxAttempts: turnMaxAttempts,
		Backoff:     turnBackoff,
		Timeout:     turnTimeout,
	}

	attempts := 0
	err := e.tasks.Submit(ctx, spec, func(taskCtx context.Context) error {
		attempts++
		err := e.runTurn(taskCtx, account, conversation, contact, message, isNew, respondWithAudio, userInput)
		if err != nil && (!apperrors.IsRetryable(err) || attempts >= turnMaxAttempts) {
			e.escalate(taskCtx, conversation)
		}
		return err
	})
	if err != nil {
		log.Error("Failed to submit chatbot turn, escalating to a human",
			zap.Error(err), zap.Int64("conversation_id", conversation.ID))
		e.escalate(ctx, conversation)
	}
}

func (e *Engine) runTurn(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, message *model.Message, isNew, respondWithAudio bool, userInput string) error {
	log := logger.FromContext(ctx)

	if message.ProviderMessageID != nil {
		if err := e.gateway.SendTypingIndicator(ctx, account, *message.ProviderMessageID); err != nil {
			log.Debug("Failed to send typing indicator", zap.Error(err))
		}
	}

	lock := e.conversationLock(conversation.ID)
	lock.Lock()
	defer lock.Unlock()

	// The event snapshot may be stale by the time the worker runs.
	fresh, err := e.conversations.FindByID(ctx, conversation.ID)
	if err != nil {
		return apperrors.NewRetryable(err, "failed to reload conversation %d", conversation.ID)
	}
	conversation = fresh
	if !conversation.IsAIHandled {
		return nil
	}

	// A shared location skips the welcome and the state dispatch entirely.
	if message.Type == model.TypeLocation {
		if userInput == "" {
			return e.askForClarification(ctx, account, conversation, contact, respondWithAudio)
		}
		return e.handleLocationInput(ctx, account, conversation, contact, userInput, respondWithAudio)
	}

	if isNew {
		e.sendWelcome(ctx, account, conversation, contact)
	}

	if userInput == "" {
		return e.acknowledgeMedia(ctx, account, conversation, contact, message.Type, respondWithAudio)
	}

	if conversation.ChatbotState == model.StateAwaitingAppointmentConfirmation {
		return e.handleAppointmentConfirmation(ctx, account, conversation, contact, userInput, respondWithAudio)
	}

	return e.classifyAndExecute(ctx, account, conversation, contact, userInput, respondWithAudio)
}

func (e *Engine) classifyAndExecute(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, userInput string, respondWithAudio bool) error {
	log := logger.FromContext(ctx)

	history := e.buildHistory(ctx, conversation.ID)
	analysis, err := e.classifier.Classify(ctx, history, userInput, string(conversation.ChatbotState))
	if err != nil || analysis == nil {
		if err != nil {
			log.Warn("Classifier unavailable, asking for clarification",
				zap.Error(err), zap.Int64("conversation_id", conversation.ID))
		}
		return e.askForClarification(ctx, account, conversation, contact, respondWithAudio)
	}

	if analysis.IsOffTopic {
		return e.handleOffTopic(ctx, account, conversation, contact, analysis, userInput, respondWithAudio)
	}
	if analysis.ContainsPII {
		return e.handlePIIDetected(ctx, account, conversation, contact, analysis.PIIType, respondWithAudio)
	}
	if analysis.DetectedLocationCode != "" {
		return e.handleLocationInput(ctx, account, conversation, contact, analysis.DetectedLocationCode, respondWithAudio)
	}
	return e.executeIntent(ctx, account, conversation, contact, analysis, userInput, respondWithAudio)
}

func (e *Engine) executeIntent(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, analysis *ai.Analysis, userInput string, respondWithAudio bool) error {
	log := logger.FromContext(ctx)
	log.Info("Executing intent",
		zap.String("intent", analysis.Intent), zap.Int64("conversation_id", conversation.ID))

	switch analysis.Intent {
	case ai.IntentScheduleVisit, ai.IntentServiceUnits:
		if err := e.sendReply(ctx, account, conversation, contact, locationPromptText, respondWithAudio); err != nil {
			return err
		}
		return e.setState(ctx, conversation, model.StateAwaitingLocation, model.AwaitingLocationContext{
			Intent:    analysis.Intent,
			LastAudio: respondWithAudio,
		})

	case ai.IntentTransferToHuman:
		if err := e.sendReply(ctx, account, conversation, contact, humanHandoffText, respondWithAudio); err != nil {
			return err
		}
		e.escalate(ctx, conversation)
		return nil

	case ai.IntentGreetingFarewell, ai.IntentGeneralInfo:
		return e.answerGeneralQuestion(ctx, account, conversation, contact, userInput, respondWithAudio)

	default:
		return e.askForClarification(ctx, account, conversation, contact, respondWithAudio)
	}
}

func (e *Engine) answerGeneralQuestion(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, userInput string, respondWithAudio bool) error {
	history := e.buildHistory(ctx, conversation.ID)
	answer, err := e.classifier.Respond(ctx, history, userInput)
	if err != nil || strings.TrimSpace(answer) == "" {
		return e.askForClarification(ctx, account, conversation, contact, respondWithAudio)
	}
	if err := e.sendReply(ctx, account, conversation, contact, answer, respondWithAudio); err != nil {
		return err
	}
	return e.setState(ctx, conversation, model.StateIdle, nil)
}

// handleOffTopic answers the unrelated question first, then re-prompts for
// the interrupted flow so the state is preserved across the detour.
func (e *Engine) handleOffTopic(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, analysis *ai.Analysis, userInput string, respondWithAudio bool) error {
	originalState := conversation.ChatbotState
	originalContext := conversation.ChatbotContext

	if err := e.executeIntent(ctx, account, conversation, contact, analysis, userInput, respondWithAudio); err != nil {
		return err
	}

	if originalState == model.StateAwaitingLocation {
		if err := e.sendReply(ctx, account, conversation, contact, locationRepromptText, respondWithAudio); err != nil {
			return err
		}
		var restored model.AwaitingLocationContext
		if err := model.DecodeChatbotContext(originalContext, &restored); err != nil {
			logger.FromContext(ctx).Warn("Discarding undecodable location context", zap.Error(err))
		}
		return e.setState(ctx, conversation, model.StateAwaitingLocation, restored)
	}
	return nil
}

func (e *Engine) handlePIIDetected(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, piiType string, respondWithAudio bool) error {
	if err := e.sendReply(ctx, account, conversation, contact, piiRefusalText(piiType), respondWithAudio); err != nil {
		return err
	}
	return e.setState(ctx, conversation, model.StateIdle, nil)
}

func (e *Engine) askForClarification(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, respondWithAudio bool) error {
	if err := e.sendReply(ctx, account, conversation, contact, clarificationText, respondWithAudio); err != nil {
		return err
	}
	return e.setState(ctx, conversation, model.StateIdle, nil)
}

func (e *Engine) acknowledgeMedia(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, mediaType model.MessageType, respondWithAudio bool) error {
	ack, ok := mediaAcknowledgements[mediaType]
	if !ok {
		return e.askForClarification(ctx, account, conversation, contact, respondWithAudio)
	}
	return e.sendReply(ctx, account, conversation, contact, ack, respondWithAudio)
}

// handleLocationInput acknowledges the location and kicks off the
// asynchronous service point lookup.
func (e *Engine) handleLocationInput(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, location string, respondWithAudio bool) error {
	place := "o CEP " + location
	if strings.Contains(location, ",") {
		place = "sua localização"
	}
	ack := fmt.Sprintf("Ótimo! Já estou localizando o CRAS mais próximo de %s para você. Aguarde um instante!", place)
	if err := e.sendReply(ctx, account, conversation, contact, ack, respondWithAudio); err != nil {
		return err
	}

	stateCtx := model.AwaitingServiceResultContext{PostalCode: location}
	if err := e.setState(ctx, conversation, model.StateAwaitingServiceResult, stateCtx); err != nil {
		return err
	}

	conversationID := conversation.ID
	spec := taskqueue.TaskSpec{
		Name:        "service_point_lookup",
		MaxAttempts: lookupMaxAttempts,
		Backoff:     lookupBackoff,
		Timeout:     lookupTimeout,
	}
	return e.tasks.Submit(ctx, spec, func(taskCtx context.Context) error {
		appointment, err := e.locator.Locate(taskCtx, location)
		if err != nil {
			return err
		}
		return e.SendServiceResult(taskCtx, conversationID, appointment)
	})
}

// SendServiceResult delivers the outcome of an asynchronous service point
// lookup and moves the conversation to the confirmation step.
func (e *Engine) SendServiceResult(ctx context.Context, conversationID int64, appointment *Appointment) error {
	conversation, err := e.conversations.FindByID(ctx, conversationID)
	if err != nil {
		return apperrors.NewRetryable(err, "failed to load conversation %d for service result", conversationID)
	}
	contact, err := e.contacts.FindByID(ctx, conversation.ContactID)
	if err != nil {
		return apperrors.NewRetryable(err, "failed to load contact %d", conversation.ContactID)
	}
	account, err := e.accounts.FindByID(ctx, conversation.AccountID)
	if err != nil {
		return apperrors.NewRetryable(err, "failed to load account %d", conversation.AccountID)
	}

	lock := e.conversationLock(conversation.ID)
	lock.Lock()
	defer lock.Unlock()

	text := fmt.Sprintf(
		"Prontinho! Encontrei a unidade mais próxima para você.\n\n*%s*\n*Endereço:* %s\n\nConsegui um horário para você na *%s, %s*. Fica bom? Posso confirmar?",
		appointment.UnitName, appointment.Address, appointment.Date, appointment.Time,
	)
	if err := e.sendReply(ctx, *account, conversation, contact, text, false); err != nil {
		return err
	}
	return e.setState(ctx, conversation, model.StateAwaitingAppointmentConfirmation, model.AwaitingAppointmentContext{
		ServicePointName:    appointment.UnitName,
		ServicePointAddress: appointment.Address,
	})
}

func (e *Engine) handleAppointmentConfirmation(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, userInput string, respondWithAudio bool) error {
	normalized := strings.ToLower(strings.TrimSpace(userInput))
	reply := appointmentDeclinedText
	if _, ok := affirmations[normalized]; ok {
		reply = appointmentConfirmedText
	}
	if err := e.sendReply(ctx, account, conversation, contact, reply, respondWithAudio); err != nil {
		return err
	}
	return e.setState(ctx, conversation, model.StateIdle, nil)
}

// sendWelcome greets a new or reopened conversation with the intro text and
// the onboarding audio clip. Welcome failures are logged, never fatal: the
// triggering message still gets its normal processing.
func (e *Engine) sendWelcome(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact) {
	log := logger.FromContext(ctx)

	if err := e.sendReply(ctx, account, conversation, contact, welcomeText, false); err != nil {
		log.Warn("Failed to send welcome text", zap.Error(err), zap.Int64("conversation_id", conversation.ID))
	}

	if e.onboardingAudioURL == "" {
		return
	}
	providerID, err := e.gateway.SendAudio(ctx, account, contact.PhoneNumber, e.onboardingAudioURL)
	if err != nil {
		log.Warn("Failed to send onboarding audio", zap.Error(err), zap.Int64("conversation_id", conversation.ID))
		return
	}
	e.persistOutbound(ctx, conversation, contact, model.TypeAudio, nil, e.onboardingAudioURL, providerID)
	observer.IncChatbotReply("audio")
}

// sendReply sends one chatbot reply, as audio when the triggering user
// message was audio. Synthesis or audio delivery failure falls back to plain
// text without surfacing anything to the user.
func (e *Engine) sendReply(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, text string, asAudio bool) error {
	log := logger.FromContext(ctx)

	if asAudio {
		audioURL, err := e.synthesizer.Synthesize(ctx, text, strconv.FormatInt(conversation.ID, 10))
		if err != nil || audioURL == "" {
			if err != nil {
				log.Debug("Audio synthesis failed, falling back to text", zap.Error(err))
			}
		} else {
			providerID, sendErr := e.gateway.SendAudio(ctx, account, contact.PhoneNumber, audioURL)
			if sendErr == nil {
				e.persistOutbound(ctx, conversation, contact, model.TypeAudio, nil, audioURL, providerID)
				observer.IncChatbotReply("audio")
				return nil
			}
			log.Debug("Audio delivery failed, falling back to text", zap.Error(sendErr))
		}
	}

	providerID, err := e.gateway.SendText(ctx, account, contact.PhoneNumber, text)
	if err != nil {
		return err
	}
	e.persistOutbound(ctx, conversation, contact, model.TypeText, &text, "", providerID)
	observer.IncChatbotReply("text")
	return nil
}

func (e *Engine) persistOutbound(ctx context.Context, conversation *model.Conversation, contact *model.Contact, msgType model.MessageType, content *string, mediaURL, providerMessageID string) {
	log := logger.FromContext(ctx)
	now := time.Now()

	message := &model.Message{
		ConversationID:    conversation.ID,
		ContactID:         contact.ID,
		Direction:         model.DirectionOutbound,
		Type:              msgType,
		Status:            model.MessageStatusSent,
		Content:           content,
		MediaURL:          mediaURL,
		IsAIGenerated:     true,
		ProviderTimestamp: now,
		SentAt:            &now,
	}
	if providerMessageID != "" {
		message.ProviderMessageID = &providerMessageID
	}

	if err := e.messages.Save(ctx, message); err != nil {
		// The reply already reached the user; history just misses one row.
		log.Error("Failed to persist outbound chatbot message",
			zap.Error(err), zap.Int64("conversation_id", conversation.ID))
		return
	}

	e.dispatcher.PublishChatMessageSent(ctx, events.ChatMessageSent{
		Message:      message,
		Conversation: conversation,
	})
}

// escalate hands the conversation to a human: AI handling off and status
// pending so it surfaces in the attendant queue.
func (e *Engine) escalate(ctx context.Context, conversation *model.Conversation) {
	log := logger.FromContext(ctx)

	updated := *conversation
	updated.Status = model.ConversationStatusPending
	updated.IsAIHandled = false
	if err := e.conversations.Update(ctx, updated); err != nil {
		log.Error("Failed to escalate conversation to a human",
			zap.Error(err), zap.Int64("conversation_id", conversation.ID))
		return
	}
	conversation.Status = model.ConversationStatusPending
	conversation.IsAIHandled = false
	log.Warn("Conversation escalated to a human", zap.Int64("conversation_id", conversation.ID))
}

func (e *Engine) setState(ctx context.Context, conversation *model.Conversation, state model.ChatbotState, stateContext interface{}) error {
	if err := e.conversations.UpdateChatbotState(ctx, conversation.ID, state, stateContext); err != nil {
		return apperrors.NewRetryable(err, "failed to set chatbot state %q on conversation %d", state, conversation.ID)
	}
	conversation.ChatbotState = state
	encoded, err := model.EncodeChatbotContext(stateContext)
	if err == nil {
		conversation.ChatbotContext = encoded
	}
	observer.IncChatbotStateTransition(string(state))
	return nil
}

// buildHistory renders the recent conversation as classifier context, oldest
// first. History failures degrade to an empty history rather than blocking
// the turn.
func (e *Engine) buildHistory(ctx context.Context, conversationID int64) string {
	recent, err := e.messages.FindRecentByConversation(ctx, conversationID, historyDepth)
	if err != nil {
		logger.FromContext(ctx).Debug("Failed to load conversation history", zap.Error(err))
		return ""
	}
	if len(recent) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Histórico da conversa:\n")
	for _, msg := range recent {
		author := "Assistente"
		if msg.Direction == model.DirectionInbound {
			author = "Usuário"
		}
		content := fmt.Sprintf("[Mídia: %s]", msg.Type)
		if msg.Content != nil && *msg.Content != "" {
			content = *msg.Content
		}
		b.WriteString(author)
		b.WriteString(": ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	return b.String()
}
