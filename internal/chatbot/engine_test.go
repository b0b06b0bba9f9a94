package chatbot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/ai"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/events"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	storagemock "gitlab.com/dubbox/api/wa-campaign-engine/internal/storage/mock"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/taskqueue"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Initialize("error")
	m.Run()
}

type gatewayMock struct {
	mock.Mock
}

func (m *gatewayMock) SendText(ctx context.Context, account model.Account, to, body string) (string, error) {
	args := m.Called(ctx, account, to, body)
	return args.String(0), args.Error(1)
}

func (m *gatewayMock) SendAudio(ctx context.Context, account model.Account, to, audioURL string) (string, error) {
	args := m.Called(ctx, account, to, audioURL)
	return args.String(0), args.Error(1)
}

func (m *gatewayMock) SendTypingIndicator(ctx context.Context, account model.Account, replyingToMessageID string) error {
	args := m.Called(ctx, account, replyingToMessageID)
	return args.Error(0)
}

type classifierMock struct {
	mock.Mock
}

func (m *classifierMock) Classify(ctx context.Context, history, userMessage, currentState string) (*ai.Analysis, error) {
	args := m.Called(ctx, history, userMessage, currentState)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Analysis), args.Error(1)
}

func (m *classifierMock) Respond(ctx context.Context, history, userMessage string) (string, error) {
	args := m.Called(ctx, history, userMessage)
	return args.String(0), args.Error(1)
}

type synthesizerMock struct {
	mock.Mock
}

func (m *synthesizerMock) Synthesize(ctx context.Context, text, conversationKey string) (string, error) {
	args := m.Called(ctx, text, conversationKey)
	return args.String(0), args.Error(1)
}

type locatorMock struct {
	mock.Mock
}

func (m *locatorMock) Locate(ctx context.Context, location string) (*Appointment, error) {
	args := m.Called(ctx, location)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Appointment), args.Error(1)
}

// recordingSubmitter captures submitted tasks so tests can run them
// deterministically, including tasks queued by other tasks.
type recordingSubmitter struct {
	specs []taskqueue.TaskSpec
	fns   []taskqueue.TaskFunc
}

func (r *recordingSubmitter) Submit(ctx context.Context, spec taskqueue.TaskSpec, fn taskqueue.TaskFunc) error {
	r.specs = append(r.specs, spec)
	r.fns = append(r.fns, fn)
	return nil
}

func (r *recordingSubmitter) runAll(ctx context.Context) []error {
	var errs []error
	for i := 0; i < len(r.fns); i++ {
		errs = append(errs, r.fns[i](ctx))
	}
	return errs
}

const onboardingURL = "https://cdn.example.com/onboarding.mp3"

type engineFixture struct {
	gateway       *gatewayMock
	classifier    *classifierMock
	synthesizer   *synthesizerMock
	locator       *locatorMock
	accounts      *storagemock.AccountRepoMock
	contacts      *storagemock.ContactRepoMock
	conversations *storagemock.ConversationRepoMock
	messages      *storagemock.MessageRepoMock
	dispatcher    *events.Dispatcher
	tasks         *recordingSubmitter
	engine        *Engine

	account      model.Account
	contact      *model.Contact
	conversation *model.Conversation
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		gateway:       new(gatewayMock),
		classifier:    new(classifierMock),
		synthesizer:   new(synthesizerMock),
		locator:       new(locatorMock),
		accounts:      new(storagemock.AccountRepoMock),
		contacts:      new(storagemock.ContactRepoMock),
		conversations: new(storagemock.ConversationRepoMock),
		messages:      new(storagemock.MessageRepoMock),
		dispatcher:    events.NewDispatcher(),
		tasks:         &recordingSubmitter{},
	}
	f.engine = NewEngine(
		f.gateway, f.classifier, f.synthesizer, f.locator,
		f.accounts, f.contacts, f.conversations, f.messages,
		f.dispatcher, f.tasks, onboardingURL,
	)
	f.account = model.Account{ID: 7, PhoneNumberID: "111222333"}
	f.contact = &model.Contact{ID: 42, PhoneNumber: "5561999990001", Name: "Maria Silva"}
	f.conversation = &model.Conversation{
		ID: 9, ContactID: 42, AccountID: 7,
		Status: model.ConversationStatusOpen, IsAIHandled: true,
	}
	return f
}

func (f *engineFixture) inboundText(body string) *model.Message {
	providerID := "wamid.in-1"
	return &model.Message{
		ID: 100, ConversationID: 9, ContactID: 42,
		Direction: model.DirectionInbound, Type: model.TypeText,
		Content: &body, ProviderMessageID: &providerID,
	}
}

// expectTurnPreamble wires the mocks every classified turn touches.
func (f *engineFixture) expectTurnPreamble() {
	f.gateway.On("SendTypingIndicator", mock.Anything, f.account, "wamid.in-1").Return(nil)
	f.conversations.On("FindByID", mock.Anything, int64(9)).Return(f.conversation, nil)
	f.messages.On("FindRecentByConversation", mock.Anything, int64(9), historyDepth).
		Return([]model.Message{}, nil)
}

func (f *engineFixture) expectTextReply(text, providerID string) {
	f.gateway.On("SendText", mock.Anything, f.account, "5561999990001", text).Return(providerID, nil)
	f.messages.On("Save", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.Direction == model.DirectionOutbound &&
			msg.Type == model.TypeText &&
			msg.IsAIGenerated &&
			msg.Content != nil && *msg.Content == text
	})).Return(nil).Once()
}

func TestScheduleIntentOnFreshConversation(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	message := f.inboundText("Quero agendar no CRAS")

	f.expectTurnPreamble()
	f.expectTextReply(welcomeText, "wamid.out-1")
	f.gateway.On("SendAudio", mock.Anything, f.account, "5561999990001", onboardingURL).
		Return("wamid.out-2", nil)
	f.messages.On("Save", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.Type == model.TypeAudio && msg.MediaURL == onboardingURL && msg.Content == nil
	})).Return(nil).Once()
	f.classifier.On("Classify", mock.Anything, "", "Quero agendar no CRAS", "").
		Return(&ai.Analysis{Intent: ai.IntentScheduleVisit}, nil)
	f.expectTextReply(locationPromptText, "wamid.out-3")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateAwaitingLocation,
		model.AwaitingLocationContext{Intent: ai.IntentScheduleVisit}).Return(nil)

	var sent []events.ChatMessageSent
	f.dispatcher.SubscribeChatMessageSent(func(ctx context.Context, ev events.ChatMessageSent) {
		sent = append(sent, ev)
	})

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact,
		Account: f.account, IsNew: true,
	})
	require.Len(t, f.tasks.fns, 1)
	assert.Equal(t, "chatbot_turn", f.tasks.specs[0].Name)

	for _, err := range f.tasks.runAll(ctx) {
		require.NoError(t, err)
	}

	assert.Equal(t, model.StateAwaitingLocation, f.conversation.ChatbotState)
	assert.Len(t, sent, 3) // welcome text, onboarding audio, location prompt
	f.gateway.AssertExpectations(t)
	f.classifier.AssertExpectations(t)
	f.conversations.AssertExpectations(t)
	f.messages.AssertExpectations(t)
}

func TestPostalCodeTriggersLookupTask(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	f.conversation.ChatbotState = model.StateAwaitingLocation
	message := f.inboundText("meu cep é 71503-505")

	f.expectTurnPreamble()
	f.classifier.On("Classify", mock.Anything, "", "meu cep é 71503-505", "awaiting_location").
		Return(&ai.Analysis{Intent: ai.IntentScheduleVisit, DetectedLocationCode: "71503-505"}, nil)
	f.expectTextReply("Ótimo! Já estou localizando o CRAS mais próximo de o CEP 71503-505 para você. Aguarde um instante!", "wamid.out-1")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateAwaitingServiceResult,
		model.AwaitingServiceResultContext{PostalCode: "71503-505"}).Return(nil)

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})
	require.Len(t, f.tasks.fns, 1)
	require.NoError(t, f.tasks.fns[0](ctx))

	// The turn queued the asynchronous lookup.
	require.Len(t, f.tasks.fns, 2)
	assert.Equal(t, "service_point_lookup", f.tasks.specs[1].Name)

	appointment := &Appointment{
		UnitName: "CRAS Brasília (Asa Sul)", Address: "Av. L2 Sul, SGAS 614/615",
		Date: "sexta-feira, 05 de setembro", Time: "às 10:00",
	}
	f.locator.On("Locate", mock.Anything, "71503-505").Return(appointment, nil)
	f.contacts.On("FindByID", mock.Anything, int64(42)).Return(f.contact, nil)
	f.accounts.On("FindByID", mock.Anything, int64(7)).Return(&f.account, nil)
	f.gateway.On("SendText", mock.Anything, f.account, "5561999990001", mock.MatchedBy(func(text string) bool {
		return strings.Contains(text, "CRAS Brasília (Asa Sul)") && strings.Contains(text, "Posso confirmar?")
	})).Return("wamid.out-2", nil)
	f.messages.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateAwaitingAppointmentConfirmation,
		model.AwaitingAppointmentContext{
			ServicePointName:    "CRAS Brasília (Asa Sul)",
			ServicePointAddress: "Av. L2 Sul, SGAS 614/615",
		}).Return(nil)

	require.NoError(t, f.tasks.fns[1](ctx))

	assert.Equal(t, model.StateAwaitingAppointmentConfirmation, f.conversation.ChatbotState)
	f.locator.AssertExpectations(t)
	f.conversations.AssertExpectations(t)
}

func TestLocationMessageBypassesWelcome(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	content := "-15.8267,-47.9218"
	providerID := "wamid.in-1"
	message := &model.Message{
		ID: 100, ConversationID: 9, ContactID: 42,
		Direction: model.DirectionInbound, Type: model.TypeLocation,
		Content: &content, ProviderMessageID: &providerID,
	}

	f.gateway.On("SendTypingIndicator", mock.Anything, f.account, "wamid.in-1").Return(nil)
	f.conversations.On("FindByID", mock.Anything, int64(9)).Return(f.conversation, nil)
	f.expectTextReply("Ótimo! Já estou localizando o CRAS mais próximo de sua localização para você. Aguarde um instante!", "wamid.out-1")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateAwaitingServiceResult,
		model.AwaitingServiceResultContext{PostalCode: content}).Return(nil)

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact,
		Account: f.account, IsNew: true,
	})
	require.Len(t, f.tasks.fns, 1)
	require.NoError(t, f.tasks.fns[0](ctx))

	// No welcome text, no onboarding audio: straight to location handling.
	f.gateway.AssertNotCalled(t, "SendAudio", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.gateway.AssertNumberOfCalls(t, "SendText", 1)
	require.Len(t, f.tasks.fns, 2)
	assert.Equal(t, "service_point_lookup", f.tasks.specs[1].Name)
}

func TestAppointmentConfirmationVocabulary(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"  SIM ", appointmentConfirmedText},
		{"Pode Confirmar", appointmentConfirmedText},
		{"ok", appointmentConfirmedText},
		{"não", appointmentDeclinedText},
		{"depois eu vejo", appointmentDeclinedText},
	}

	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			f := newEngineFixture()
			ctx := context.Background()
			f.conversation.ChatbotState = model.StateAwaitingAppointmentConfirmation
			message := f.inboundText(tc.input)

			f.gateway.On("SendTypingIndicator", mock.Anything, f.account, "wamid.in-1").Return(nil)
			f.conversations.On("FindByID", mock.Anything, int64(9)).Return(f.conversation, nil)
			f.expectTextReply(tc.want, "wamid.out-1")
			f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateIdle, nil).Return(nil)

			f.engine.HandleMessageReceived(ctx, events.MessageReceived{
				Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
			})
			require.Len(t, f.tasks.fns, 1)
			require.NoError(t, f.tasks.fns[0](ctx))

			// No classifier call for the fixed-vocabulary step.
			f.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.gateway.AssertExpectations(t)
		})
	}
}

func TestPIIDetectionRefusesAndResets(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	f.conversation.ChatbotState = model.StateAwaitingLocation
	message := f.inboundText("meu cpf é 123.456.789-00")

	f.expectTurnPreamble()
	f.classifier.On("Classify", mock.Anything, "", "meu cpf é 123.456.789-00", "awaiting_location").
		Return(&ai.Analysis{Intent: ai.IntentScheduleVisit, ContainsPII: true, PIIType: "cpf"}, nil)
	f.expectTextReply(piiRefusalText("cpf"), "wamid.out-1")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateIdle, nil).Return(nil)

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})
	require.NoError(t, f.tasks.fns[0](ctx))

	assert.Equal(t, model.StateIdle, f.conversation.ChatbotState)
	f.conversations.AssertExpectations(t)
}

func TestOffTopicPreservesLocationState(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	f.conversation.ChatbotState = model.StateAwaitingLocation
	encoded, err := model.EncodeChatbotContext(model.AwaitingLocationContext{Intent: ai.IntentScheduleVisit})
	require.NoError(t, err)
	f.conversation.ChatbotContext = encoded
	message := f.inboundText("o que é o bolsa família?")

	f.expectTurnPreamble()
	f.classifier.On("Classify", mock.Anything, "", "o que é o bolsa família?", "awaiting_location").
		Return(&ai.Analysis{Intent: ai.IntentGeneralInfo, IsOffTopic: true}, nil)
	f.classifier.On("Respond", mock.Anything, "", "o que é o bolsa família?").
		Return("O Bolsa Família é um programa do Governo Federal.", nil)
	f.expectTextReply("O Bolsa Família é um programa do Governo Federal.", "wamid.out-1")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateIdle, nil).Return(nil)
	f.expectTextReply(locationRepromptText, "wamid.out-2")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateAwaitingLocation,
		model.AwaitingLocationContext{Intent: ai.IntentScheduleVisit}).Return(nil)

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})
	require.NoError(t, f.tasks.fns[0](ctx))

	assert.Equal(t, model.StateAwaitingLocation, f.conversation.ChatbotState)
	f.conversations.AssertExpectations(t)
}

func TestClassifierGarbageDegradesToClarification(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	f.conversation.ChatbotState = model.StateAwaitingLocation
	message := f.inboundText("asdfgh")

	f.expectTurnPreamble()
	f.classifier.On("Classify", mock.Anything, "", "asdfgh", "awaiting_location").Return(nil, nil)
	f.expectTextReply(clarificationText, "wamid.out-1")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateIdle, nil).Return(nil)

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})
	require.NoError(t, f.tasks.fns[0](ctx))

	assert.Equal(t, model.StateIdle, f.conversation.ChatbotState)
}

func TestTranscribedAudioRepliesWithAudio(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	providerID := "wamid.in-audio"
	message := &model.Message{
		ID: 101, ConversationID: 9, ContactID: 42,
		Direction: model.DirectionInbound, Type: model.TypeAudio,
		ProviderMessageID: &providerID, MediaID: "media-1",
	}

	f.gateway.On("SendTypingIndicator", mock.Anything, f.account, "wamid.in-audio").Return(nil)
	f.conversations.On("FindByID", mock.Anything, int64(9)).Return(f.conversation, nil)
	f.messages.On("FindRecentByConversation", mock.Anything, int64(9), historyDepth).
		Return([]model.Message{}, nil)
	f.classifier.On("Classify", mock.Anything, "", "oi, tudo bem?", "").
		Return(&ai.Analysis{Intent: ai.IntentGreetingFarewell}, nil)
	f.classifier.On("Respond", mock.Anything, "", "oi, tudo bem?").
		Return("Olá! Tudo ótimo, como posso ajudar?", nil)
	f.synthesizer.On("Synthesize", mock.Anything, "Olá! Tudo ótimo, como posso ajudar?", "9").
		Return("https://cdn.example.com/reply.mp3", nil)
	f.gateway.On("SendAudio", mock.Anything, f.account, "5561999990001", "https://cdn.example.com/reply.mp3").
		Return("wamid.out-1", nil)
	f.messages.On("Save", mock.Anything, mock.MatchedBy(func(msg *model.Message) bool {
		return msg.Type == model.TypeAudio && msg.Content == nil &&
			msg.MediaURL == "https://cdn.example.com/reply.mp3"
	})).Return(nil)
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateIdle, nil).Return(nil)

	f.engine.HandleTranscribedText(ctx, f.account, f.conversation, f.contact, message, "oi, tudo bem?")
	require.Len(t, f.tasks.fns, 1)
	require.NoError(t, f.tasks.fns[0](ctx))

	f.gateway.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.synthesizer.AssertExpectations(t)
}

func TestAudioSynthesisFailureFallsBackToText(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	providerID := "wamid.in-audio"
	message := &model.Message{
		ID: 101, ConversationID: 9, ContactID: 42,
		Direction: model.DirectionInbound, Type: model.TypeAudio,
		ProviderMessageID: &providerID,
	}

	f.gateway.On("SendTypingIndicator", mock.Anything, f.account, "wamid.in-audio").Return(nil)
	f.conversations.On("FindByID", mock.Anything, int64(9)).Return(f.conversation, nil)
	f.messages.On("FindRecentByConversation", mock.Anything, int64(9), historyDepth).
		Return([]model.Message{}, nil)
	f.classifier.On("Classify", mock.Anything, "", "oi", "").
		Return(&ai.Analysis{Intent: ai.IntentGreetingFarewell}, nil)
	f.classifier.On("Respond", mock.Anything, "", "oi").Return("Olá!", nil)
	f.synthesizer.On("Synthesize", mock.Anything, "Olá!", "9").
		Return("", errors.New("tts unavailable"))
	f.expectTextReply("Olá!", "wamid.out-1")
	f.conversations.On("UpdateChatbotState", mock.Anything, int64(9), model.StateIdle, nil).Return(nil)

	f.engine.HandleTranscribedText(ctx, f.account, f.conversation, f.contact, message, "oi")
	require.NoError(t, f.tasks.fns[0](ctx))

	f.gateway.AssertExpectations(t)
}

func TestGenericMediaAcknowledgement(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	providerID := "wamid.in-1"
	message := &model.Message{
		ID: 100, ConversationID: 9, ContactID: 42,
		Direction: model.DirectionInbound, Type: model.TypeImage,
		ProviderMessageID: &providerID, MediaID: "media-9",
	}

	f.gateway.On("SendTypingIndicator", mock.Anything, f.account, "wamid.in-1").Return(nil)
	f.conversations.On("FindByID", mock.Anything, int64(9)).Return(f.conversation, nil)
	f.expectTextReply(mediaAcknowledgements[model.TypeImage], "wamid.out-1")

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})
	require.NoError(t, f.tasks.fns[0](ctx))

	f.classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTransferIntentEscalatesToHuman(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	message := f.inboundText("quero falar com um atendente")

	f.expectTurnPreamble()
	f.classifier.On("Classify", mock.Anything, "", "quero falar com um atendente", "").
		Return(&ai.Analysis{Intent: ai.IntentTransferToHuman}, nil)
	f.expectTextReply(humanHandoffText, "wamid.out-1")
	f.conversations.On("Update", mock.Anything, mock.MatchedBy(func(c model.Conversation) bool {
		return c.ID == 9 && c.Status == model.ConversationStatusPending && !c.IsAIHandled
	})).Return(nil)

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})
	require.NoError(t, f.tasks.fns[0](ctx))

	assert.Equal(t, model.ConversationStatusPending, f.conversation.Status)
	assert.False(t, f.conversation.IsAIHandled)
	f.conversations.AssertExpectations(t)
}

func TestPermanentFailureEscalates(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()
	message := f.inboundText("oi")

	f.expectTurnPreamble()
	f.classifier.On("Classify", mock.Anything, "", "oi", "").
		Return(&ai.Analysis{Intent: ai.IntentGreetingFarewell}, nil)
	f.classifier.On("Respond", mock.Anything, "", "oi").Return("Olá!", nil)
	f.gateway.On("SendText", mock.Anything, f.account, "5561999990001", "Olá!").
		Return("", apperrors.ErrProvider)
	f.conversations.On("Update", mock.Anything, mock.MatchedBy(func(c model.Conversation) bool {
		return c.ID == 9 && c.Status == model.ConversationStatusPending && !c.IsAIHandled
	})).Return(nil)

	f.engine.HandleMessageReceived(ctx, events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})
	errs := f.tasks.runAll(ctx)
	require.Error(t, errs[0])

	f.conversations.AssertExpectations(t)
}

func TestSkipsNonAIHandledConversations(t *testing.T) {
	f := newEngineFixture()
	f.conversation.IsAIHandled = false

	f.engine.HandleMessageReceived(context.Background(), events.MessageReceived{
		Message: f.inboundText("oi"), Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})

	assert.Empty(t, f.tasks.fns)
}

func TestSkipsRawAudioMessages(t *testing.T) {
	f := newEngineFixture()
	message := &model.Message{
		ID: 101, ConversationID: 9, ContactID: 42,
		Direction: model.DirectionInbound, Type: model.TypeAudio, MediaID: "media-1",
	}

	f.engine.HandleMessageReceived(context.Background(), events.MessageReceived{
		Message: message, Conversation: f.conversation, Contact: f.contact, Account: f.account,
	})

	// Audio waits for the transcription worker.
	assert.Empty(t, f.tasks.fns)
}
