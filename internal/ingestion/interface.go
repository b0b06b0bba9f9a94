package ingestion

import (
	"context"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
)

// Processor consumes one raw webhook payload pulled off the stream.
type Processor interface {
	Process(ctx context.Context, raw []byte) error
}

// MediaScheduler enqueues an asynchronous media backfill for a just-persisted
// message. Ingestion never blocks on media retrieval.
type MediaScheduler interface {
	ScheduleFetch(ctx context.Context, account model.Account, message *model.Message, conversation *model.Conversation, contact *model.Contact) error
}

// ConsumerInterface defines the basic methods for a NATS consumer
type ConsumerInterface interface {
	// Setup sets up the JetStream stream and consumer
	Setup() error

	// Start subscribes and starts message delivery
	Start() error

	// Stop stops the consumer
	Stop()
}

// Ensure Pipeline implements Processor
var _ Processor = (*Pipeline)(nil)

// Ensure WebhookConsumer implements ConsumerInterface
var _ ConsumerInterface = (*WebhookConsumer)(nil)
