package media

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/chatbot"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/events"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/gateway"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/ingestion"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/speech"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/storage"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/taskqueue"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

const (
	fetchMaxAttempts = 3
	fetchBackoff     = 5 * time.Second
	fetchTimeout     = 30 * time.Second
)

// MediaGateway resolves a provider media id to a downloadable URL.
type MediaGateway interface {
	GetMediaInfo(ctx context.Context, account model.Account, mediaID string) (*gateway.MediaInfo, error)
}

// Transcriber converts a voice note to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL, mimeType string) (string, error)
}

// TranscriptHandler re-enters the conversation engine once an audio
// message's transcript is available.
type TranscriptHandler interface {
	HandleTranscribedText(ctx context.Context, account model.Account, conversation *model.Conversation, contact *model.Contact, message *model.Message, transcript string)
}

var (
	_ MediaGateway      = (*gateway.Client)(nil)
	_ Transcriber       = (*speech.Client)(nil)
	_ TranscriptHandler = (*chatbot.Engine)(nil)
)

// Worker backfills message media asynchronously: it resolves the provider
// media id to a URL, updates the stored message and, for voice notes, runs
// transcription and hands the text to the conversation engine.
type Worker struct {
	gateway     MediaGateway
	transcriber Transcriber
	chat        TranscriptHandler

	messages   storage.MessageRepo
	dispatcher *events.Dispatcher
	tasks      taskqueue.Submitter
}

var _ ingestion.MediaScheduler = (*Worker)(nil)

// NewWorker wires the media backfill worker. chat may be nil when the
// chatbot is disabled; voice notes are then backfilled without transcription.
func NewWorker(
	gw MediaGateway,
	transcriber Transcriber,
	chat TranscriptHandler,
	messages storage.MessageRepo,
	dispatcher *events.Dispatcher,
	tasks taskqueue.Submitter,
) *Worker {
	return &Worker{
		gateway:     gw,
		transcriber: transcriber,
		chat:        chat,
		messages:    messages,
		dispatcher:  dispatcher,
		tasks:       tasks,
	}
}

// ScheduleFetch queues the asynchronous backfill for one just-persisted
// message. The caller never blocks on media retrieval.
func (w *Worker) ScheduleFetch(ctx context.Context, account model.Account, message *model.Message, conversation *model.Conversation, contact *model.Contact) error {
	spec := taskqueue.TaskSpec{
		Name:        "media_fetch",
		MaxAttempts: fetchMaxAttempts,
		Backoff:     fetchBackoff,
		Timeout:     fetchTimeout,
	}
	return w.tasks.Submit(ctx, spec, func(taskCtx context.Context) error {
		return w.backfill(taskCtx, account, message, conversation, contact)
	})
}

func (w *Worker) backfill(ctx context.Context, account model.Account, message *model.Message, conversation *model.Conversation, contact *model.Contact) error {
	log := logger.FromContext(ctx)

	info, err := w.gateway.GetMediaInfo(ctx, account, message.MediaID)
	if err != nil {
		if !apperrors.IsRetryable(err) {
			observer.IncMediaBackfill("failed")
		}
		return err
	}

	if err := w.messages.UpdateMedia(ctx, message.ID, info.URL, info.MimeType); err != nil {
		return apperrors.NewRetryable(err, "failed to persist media backfill for message %d", message.ID)
	}
	message.MediaURL = info.URL
	message.MediaMimeType = info.MimeType
	observer.IncMediaBackfill("fetched")

	w.dispatcher.PublishMediaUpdated(ctx, events.MediaUpdated{
		Message:      message,
		Conversation: conversation,
		Contact:      contact,
		Account:      account,
	})

	if message.Type != model.TypeAudio || w.transcriber == nil || w.chat == nil {
		return nil
	}

	transcript, err := w.transcriber.Transcribe(ctx, info.URL, info.MimeType)
	if err != nil {
		return err
	}
	// An unsupported format yields an empty transcript; the engine answers
	// with its generic audio acknowledgement in that case.
	observer.IncMediaBackfill("transcribed")
	log.Debug("Voice note transcribed",
		zap.Int64("message_id", message.ID),
		zap.Int("transcript_len", len(transcript)))

	w.chat.HandleTranscribedText(ctx, account, conversation, contact, message, transcript)
	return nil
}
