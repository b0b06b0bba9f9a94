package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/config"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/jetstream"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

const webhookEventType = "webhook"

// AckNakAction represents the decision made after processing a message
type AckNakAction int

const (
	ActionAck      AckNakAction = iota // Message processed successfully, ACK it
	ActionNakDelay                     // Retryable error with attempts remaining, NAK with delay
	ActionTerm                         // Permanent failure or attempts exhausted, TERM it
)

// determineAckNakAction decides the fate of a message based on the processing
// result and delivery metadata. Permanent failures are terminated rather than
// redelivered: the provider's own webhook retry plus the dedup check make a
// redelivery storm on our side pointless.
func determineAckNakAction(
	processingErr error,
	metadata *nats.MsgMetadata,
	maxDeliver int,
	nakBaseDelay time.Duration,
	nakMaxDelay time.Duration,
) (action AckNakAction, delay time.Duration) {

	if processingErr == nil {
		return ActionAck, 0
	}

	isRetryable := apperrors.IsRetryable(processingErr)
	numDelivered := metadata.NumDelivered

	if numDelivered >= uint64(maxDeliver) || !isRetryable {
		return ActionTerm, 0
	}

	attempt := numDelivered // starts at 1
	delay = nakBaseDelay
	if attempt > 1 {
		delay = nakBaseDelay * (1 << (attempt - 1))
	}
	if delay > nakMaxDelay {
		delay = nakMaxDelay
	}
	return ActionNakDelay, delay
}

// WebhookConsumer pulls queued webhook payloads off JetStream and feeds them
// to the ingestion pipeline.
type WebhookConsumer struct {
	client        jetstream.ClientInterface
	processor     Processor
	cfg           config.ConsumerNatsConfig
	ctx           context.Context
	cancel        context.CancelFunc
	sub           *nats.Subscription
	filterSubject string
}

// NewWebhookConsumer creates the webhook stream consumer.
func NewWebhookConsumer(client jetstream.ClientInterface, processor Processor, cfg config.ConsumerNatsConfig) *WebhookConsumer {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("component", "webhook_consumer")))

	return &WebhookConsumer{
		client:    client,
		processor: processor,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Setup configures the NATS stream and durable consumer for webhook events.
func (c *WebhookConsumer) Setup() error {
	log := logger.FromContext(c.ctx)
	log.Info("Setting up WebhookConsumer...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	maxAgeRetention := time.Duration(c.cfg.MaxAge*24) * time.Hour

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  c.cfg.SubjectList,
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    maxAgeRetention,
	}

	if err := c.client.SetupStream(c.ctx, streamCfg); err != nil {
		log.Error("Failed to setup webhook stream", zap.Error(err), zap.String("stream", c.cfg.Stream))
		return fmt.Errorf("failed to setup webhook stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		FilterSubjects: c.cfg.SubjectList,
		AckPolicy:      nats.AckExplicitPolicy,
		DeliverSubject: nats.NewInbox(),
		MaxDeliver:     c.cfg.MaxDeliver,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	if len(c.cfg.SubjectList) > 0 {
		c.filterSubject = c.cfg.SubjectList[0]
	}

	if err := c.client.SetupConsumer(c.ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup webhook consumer", zap.Error(err), zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
		return fmt.Errorf("failed to setup webhook consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("WebhookConsumer setup complete")
	return nil
}

// Start subscribes to the webhook stream.
func (c *WebhookConsumer) Start() error {
	log := logger.FromContext(c.ctx)
	log.Info("Starting WebhookConsumer subscription...", zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))

	sub, err := c.client.SubscribePush(c.filterSubject, c.cfg.Consumer, c.cfg.QueueGroup, c.cfg.Stream, c.handleMessage)
	if err != nil {
		log.Error("Failed to subscribe webhook consumer", zap.Error(err),
			zap.String("stream", c.cfg.Stream),
			zap.String("consumer", c.cfg.Consumer),
			zap.String("group", c.cfg.QueueGroup),
		)
		return fmt.Errorf("failed to subscribe webhook consumer '%s': %w", c.cfg.Consumer, err)
	}
	c.sub = sub
	log.Info("WebhookConsumer subscribed successfully")
	return nil
}

// Stop drains the subscription and cancels in-flight processing.
func (c *WebhookConsumer) Stop() {
	log := logger.FromContext(c.ctx)
	log.Info("Stopping WebhookConsumer...")
	if c.sub != nil {
		if err := c.sub.Drain(); err != nil {
			log.Error("Error draining webhook subscription", zap.Error(err))
		}
	}
	if c.cancel != nil {
		c.cancel()
	}
	log.Info("WebhookConsumer stopped")
}

// handleMessage processes one queued webhook payload and acks, naks or
// terminates it.
func (c *WebhookConsumer) handleMessage(msg *nats.Msg) {
	startTime := time.Now()

	defer func() {
		observer.ObserveWebhookProcessingDuration(webhookEventType, time.Since(startTime))

		if r := recover(); r != nil {
			log := logger.FromContext(c.ctx)
			log.Error("[panic] Recovered from panic in webhook handler",
				zap.Any("panic", r),
				zap.String("subject", msg.Subject),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncWebhookEventsFailed(webhookEventType)
			observer.IncWebhookProcessingAction(webhookEventType, "panic_nak", "panic")
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error("Failed to NAK message after panic", zap.Error(nakErr))
			}
		}
	}()

	log := logger.FromContext(c.ctx)

	metadata, err := msg.Metadata()
	if err != nil {
		log.Error("Failed to read message metadata", zap.Error(err))
		observer.IncWebhookProcessingAction(webhookEventType, "nak_metadata_error", "metadata")
		if nakErr := msg.Nak(); nakErr != nil {
			log.Error("Failed to NAK message", zap.Error(nakErr))
		}
		return
	}

	msgCtx := logger.WithLogger(c.ctx, log.With(
		zap.Uint64("stream_sequence", metadata.Sequence.Stream),
		zap.Uint64("num_delivered", metadata.NumDelivered),
		zap.String("subject", msg.Subject),
	))
	enhancedLog := logger.FromContext(msgCtx)

	observer.IncWebhookEventsReceived(webhookEventType)

	processingErr := c.processor.Process(msgCtx, msg.Data)

	action, nakDelay := determineAckNakAction(processingErr, metadata, c.cfg.MaxDeliver, c.cfg.NakBaseDelay, c.cfg.NakMaxDelay)

	errorType := "none"
	if processingErr != nil {
		errorType = observer.SanitizeErrorType(processingErr.Error())
	}

	switch action {
	case ActionAck:
		enhancedLog.Info("Successfully processed webhook payload", zap.Duration("duration", time.Since(startTime)))
		observer.IncWebhookEventsProcessed(webhookEventType)
		observer.IncWebhookProcessingAction(webhookEventType, "ack_success", errorType)
		if ackErr := msg.Ack(); ackErr != nil {
			enhancedLog.Error("Failed to ACK message after successful processing", zap.Error(ackErr))
		}

	case ActionNakDelay:
		enhancedLog.Info("NAKing webhook payload with delay for redelivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
			zap.Duration("nak_delay", nakDelay),
		)
		observer.IncWebhookEventsFailed(webhookEventType)
		observer.IncWebhookProcessingAction(webhookEventType, "nak_retry", errorType)
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			enhancedLog.Error("Failed to NAK message with delay", zap.Error(nakErr))
		}

	case ActionTerm:
		enhancedLog.Warn("Terminating webhook payload delivery",
			zap.Error(processingErr),
			zap.Uint64("num_delivered", metadata.NumDelivered),
			zap.Int("max_deliver", c.cfg.MaxDeliver),
		)
		observer.IncWebhookEventsFailed(webhookEventType)
		observer.IncWebhookProcessingAction(webhookEventType, "term", errorType)
		if termErr := msg.Term(); termErr != nil {
			enhancedLog.Error("Failed to TERM message", zap.Error(termErr))
		}
	}
}
