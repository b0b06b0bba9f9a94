package chatbot

import (
	"context"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/ai"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/gateway"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/speech"
)

// Gateway is the slice of the provider client the conversation engine needs.
type Gateway interface {
	SendText(ctx context.Context, account model.Account, to, body string) (string, error)
	SendAudio(ctx context.Context, account model.Account, to, audioURL string) (string, error)
	SendTypingIndicator(ctx context.Context, account model.Account, replyingToMessageID string) error
}

// Classifier analyzes user messages and produces free-form answers.
type Classifier interface {
	Classify(ctx context.Context, history, userMessage, currentState string) (*ai.Analysis, error)
	Respond(ctx context.Context, history, userMessage string) (string, error)
}

// Synthesizer renders reply text as an audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, conversationKey string) (string, error)
}

var (
	_ Gateway     = (*gateway.Client)(nil)
	_ Classifier  = (*ai.Client)(nil)
	_ Synthesizer = (*speech.Client)(nil)
)
