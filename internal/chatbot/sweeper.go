package chatbot

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/storage"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
)

// Sweeper periodically closes open AI-handled conversations that went quiet:
// idle past the threshold with the bot, not the user, having the last word.
// Each closed conversation gets a parting message first.
type Sweeper struct {
	engine        *Engine
	accounts      storage.AccountRepo
	contacts      storage.ContactRepo
	conversations storage.ConversationRepo
	messages      storage.MessageRepo

	idleTimeout time.Duration
	interval    time.Duration

	pick func(n int) int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates the idle conversation sweeper.
func NewSweeper(
	engine *Engine,
	accounts storage.AccountRepo,
	contacts storage.ContactRepo,
	conversations storage.ConversationRepo,
	messages storage.MessageRepo,
	idleTimeout, interval time.Duration,
) *Sweeper {
	return &Sweeper{
		engine:        engine,
		accounts:      accounts,
		contacts:      contacts,
		conversations: conversations,
		messages:      messages,
		idleTimeout:   idleTimeout,
		interval:      interval,
		pick:          rand.Intn,
	}
}

// Start runs the sweep loop until Stop is called.
func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, logger.Log.With(zap.String("component", "idle_sweeper")))
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		logger.FromContext(ctx).Info("Idle conversation sweeper started",
			zap.Duration("idle_timeout", s.idleTimeout),
			zap.Duration("interval", s.interval),
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop terminates the sweep loop and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// Sweep runs one pass over idle conversations.
func (s *Sweeper) Sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	idleSince := time.Now().Add(-s.idleTimeout)
	idle, err := s.conversations.FindIdleAIHandled(ctx, idleSince)
	if err != nil {
		log.Error("Failed to scan for idle conversations", zap.Error(err))
		return
	}
	if len(idle) == 0 {
		return
	}

	log.Info("Closing idle conversations", zap.Int("count", len(idle)))
	for i := range idle {
		if ctx.Err() != nil {
			return
		}
		if err := s.closeConversation(ctx, &idle[i]); err != nil {
			log.Error("Failed to close idle conversation",
				zap.Error(err), zap.Int64("conversation_id", idle[i].ID))
		}
	}
}

func (s *Sweeper) closeConversation(ctx context.Context, conversation *model.Conversation) error {
	log := logger.FromContext(ctx)

	last, err := s.messages.FindLastByConversation(ctx, conversation.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Nothing was ever exchanged; close quietly.
			return s.markClosed(ctx, conversation.ID)
		}
		return err
	}
	if last.Direction == model.DirectionInbound {
		// The user spoke last and is still owed an answer.
		return nil
	}

	contact, err := s.contacts.FindByID(ctx, conversation.ContactID)
	if err != nil {
		return err
	}
	account, err := s.accounts.FindByID(ctx, conversation.AccountID)
	if err != nil {
		return err
	}

	farewell := closingMessages[s.pick(len(closingMessages))]
	if err := s.engine.sendReply(ctx, *account, conversation, contact, farewell, s.lastInboundWasAudio(ctx, conversation.ID)); err != nil {
		log.Warn("Failed to send closing message, closing anyway",
			zap.Error(err), zap.Int64("conversation_id", conversation.ID))
	}
	return s.markClosed(ctx, conversation.ID)
}

func (s *Sweeper) markClosed(ctx context.Context, conversationID int64) error {
	if err := s.conversations.SetStatus(ctx, conversationID, model.ConversationStatusClosed); err != nil {
		return err
	}
	observer.IncConversationsClosedIdle()
	logger.FromContext(ctx).Info("Closed idle conversation", zap.Int64("conversation_id", conversationID))
	return nil
}

func (s *Sweeper) lastInboundWasAudio(ctx context.Context, conversationID int64) bool {
	recent, err := s.messages.FindRecentByConversation(ctx, conversationID, historyDepth)
	if err != nil {
		return false
	}
	for i := len(recent) - 1; i >= 0; i-- {
		if recent[i].Direction == model.DirectionInbound {
			return recent[i].Type == model.TypeAudio
		}
	}
	return false
}
