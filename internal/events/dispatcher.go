package events

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// MessageReceived fires after an inbound message is persisted. IsNew is
// true when the conversation was created or reopened by this message; the
// engine sends its welcome sequence on that flag.
type MessageReceived struct {
	Message      *model.Message
	Conversation *model.Conversation
	Contact      *model.Contact
	Account      model.Account
	IsNew        bool
}

// MessageStatusUpdated fires after a provider delivery receipt is applied.
type MessageStatusUpdated struct {
	ProviderMessageID string
	Status            model.MessageStatus
	ErrorText         string
}

// ChatMessageSent fires after an outbound reply is sent and persisted.
type ChatMessageSent struct {
	Message      *model.Message
	Conversation *model.Conversation
}

// MediaUpdated fires after a message's media URL and mime type are
// backfilled from the provider.
type MediaUpdated struct {
	Message      *model.Message
	Conversation *model.Conversation
	Contact      *model.Contact
	Account      model.Account
}

// Dispatcher fans events out to explicitly subscribed listeners. Each topic
// has its own Subscribe method; there is no wildcard subscription, so every
// producer/consumer edge is visible at the call site. Listeners run
// synchronously in subscription order; a listener that needs to block should
// hand off to a worker itself.
type Dispatcher struct {
	mu sync.RWMutex

	messageReceived      []func(ctx context.Context, event MessageReceived)
	messageStatusUpdated []func(ctx context.Context, event MessageStatusUpdated)
	chatMessageSent      []func(ctx context.Context, event ChatMessageSent)
	mediaUpdated         []func(ctx context.Context, event MediaUpdated)
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// SubscribeMessageReceived registers a listener for inbound messages.
func (d *Dispatcher) SubscribeMessageReceived(fn func(ctx context.Context, event MessageReceived)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageReceived = append(d.messageReceived, fn)
}

// SubscribeMessageStatusUpdated registers a listener for delivery receipts.
func (d *Dispatcher) SubscribeMessageStatusUpdated(fn func(ctx context.Context, event MessageStatusUpdated)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messageStatusUpdated = append(d.messageStatusUpdated, fn)
}

// SubscribeChatMessageSent registers a listener for outbound chat replies.
func (d *Dispatcher) SubscribeChatMessageSent(fn func(ctx context.Context, event ChatMessageSent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.chatMessageSent = append(d.chatMessageSent, fn)
}

// SubscribeMediaUpdated registers a listener for media backfills.
func (d *Dispatcher) SubscribeMediaUpdated(fn func(ctx context.Context, event MediaUpdated)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mediaUpdated = append(d.mediaUpdated, fn)
}

// PublishMessageReceived delivers the event to all subscribed listeners.
// A panicking listener is logged and skipped; it never takes down the
// ingestion worker or the other listeners.
func (d *Dispatcher) PublishMessageReceived(ctx context.Context, event MessageReceived) {
	d.mu.RLock()
	listeners := d.messageReceived
	d.mu.RUnlock()
	for _, fn := range listeners {
		d.invoke(ctx, "message_received", func(ctx context.Context) { fn(ctx, event) })
	}
}

// PublishMessageStatusUpdated delivers the event to all subscribed listeners.
func (d *Dispatcher) PublishMessageStatusUpdated(ctx context.Context, event MessageStatusUpdated) {
	d.mu.RLock()
	listeners := d.messageStatusUpdated
	d.mu.RUnlock()
	for _, fn := range listeners {
		d.invoke(ctx, "message_status_updated", func(ctx context.Context) { fn(ctx, event) })
	}
}

// PublishChatMessageSent delivers the event to all subscribed listeners.
func (d *Dispatcher) PublishChatMessageSent(ctx context.Context, event ChatMessageSent) {
	d.mu.RLock()
	listeners := d.chatMessageSent
	d.mu.RUnlock()
	for _, fn := range listeners {
		d.invoke(ctx, "chat_message_sent", func(ctx context.Context) { fn(ctx, event) })
	}
}

// PublishMediaUpdated delivers the event to all subscribed listeners.
func (d *Dispatcher) PublishMediaUpdated(ctx context.Context, event MediaUpdated) {
	d.mu.RLock()
	listeners := d.mediaUpdated
	d.mu.RUnlock()
	for _, fn := range listeners {
		d.invoke(ctx, "media_updated", func(ctx context.Context) { fn(ctx, event) })
	}
}

func (d *Dispatcher) invoke(ctx context.Context, topic string, fn func(ctx context.Context)) {
	wrapped := utils.WrapWithContextRecovery(func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
	if err := wrapped(ctx); err != nil {
		logger.FromContext(ctx).Error("Event listener panicked",
			zap.String("topic", topic),
			zap.Error(err))
	}
}
