package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// --- Conversation Repository Methods ---

// GetOrCreateOpenConversation resolves the open conversation for a
// (contact, account) pair. An existing open row is returned as-is; the most
// recent non-open row is reopened in place; with no row at all a fresh one
// is created. The boolean is true for brand-new or just-reopened rows.
func (r *PostgresRepo) GetOrCreateOpenConversation(ctx context.Context, contactID, accountID int64) (*model.Conversation, bool, error) {
	var conversation model.Conversation
	var isNew bool

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		isNew = false
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("contact_id = ? AND account_id = ? AND status = ?", contactID, accountID, model.ConversationStatusOpen).
			First(&conversation)
		findErr := result.Error

		if findErr == nil {
			// Already open, nothing to change.
			if commitErr := tx.Commit().Error; commitErr != nil {
				txErr = fmt.Errorf("%w: failed to commit transaction: %w", apperrors.ErrDatabase, commitErr)
				return txErr
			}
			return nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			txErr = fmt.Errorf("%w: failed to lock conversation row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		// No open conversation. Reopen the latest non-open one if any.
		result = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("contact_id = ? AND account_id = ?", contactID, accountID).
			Order("updated_at DESC").
			First(&conversation)
		findErr = result.Error

		if findErr == nil {
			conversation.Reopen()
			conversation.UpdatedAt = utils.Now()
			updates := map[string]interface{}{
				"status":           conversation.Status,
				"is_ai_handled":    conversation.IsAIHandled,
				"assigned_user_id": nil,
				"chatbot_state":    conversation.ChatbotState,
				"chatbot_context":  nil,
				"updated_at":       conversation.UpdatedAt,
			}
			if updateErr := tx.Model(&conversation).Updates(updates).Error; updateErr != nil {
				txErr = checkConstraintViolation(updateErr)
				return txErr
			}
			isNew = true
		} else if errors.Is(findErr, gorm.ErrRecordNotFound) {
			conversation = model.Conversation{
				ContactID:   contactID,
				AccountID:   accountID,
				Status:      model.ConversationStatusOpen,
				IsAIHandled: true,
			}
			if createErr := tx.Create(&conversation).Error; createErr != nil {
				txErr = checkConstraintViolation(createErr)
				return txErr
			}
			isNew = true
		} else {
			txErr = fmt.Errorf("%w: failed to lock conversation row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit get-or-create transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "GetOrCreateOpenConversation Commit", operation)
	observer.ObserveDbOperationDuration("get_or_create_open", "conversation", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to get or create conversation after retries",
			zap.Int64("contact_id", contactID),
			zap.Int64("account_id", accountID),
			zap.Error(commitErr))
		return nil, false, commitErr
	}
	return &conversation, isNew, nil
}

// FindConversationByID finds a conversation by its ID.
func (r *PostgresRepo) FindConversationByID(ctx context.Context, id int64) (*model.Conversation, error) {
	var conversation model.Conversation
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&conversation)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: conversation_id %d: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindConversationByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "conversation", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find conversation by ID after retries",
			zap.Int64("conversation_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &conversation, nil
}

// UpdateConversation updates an existing conversation row under a row lock.
func (r *PostgresRepo) UpdateConversation(ctx context.Context, conversation model.Conversation) error {
	conversation.UpdatedAt = utils.Now()

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					logger.FromContext(ctx).Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		var existing model.Conversation
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", conversation.ID).
			First(&existing)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: conversation not found for update (ID: %d): %w", apperrors.ErrNotFound, conversation.ID, findErr)
				return txErr
			}
			txErr = fmt.Errorf("%w: failed to lock conversation row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		if updateErr := tx.Model(&existing).Select(conversation.GetUpdatableFields()).Updates(conversation).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit update transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateConversation Commit", operation)
	observer.ObserveDbOperationDuration("update", "conversation", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update conversation after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateConversationChatbotState writes the chatbot state and its typed
// context in one statement.
func (r *PostgresRepo) UpdateConversationChatbotState(ctx context.Context, id int64, state model.ChatbotState, stateContext interface{}) error {
	encoded, err := model.EncodeChatbotContext(stateContext)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrBadRequest, err)
	}

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"chatbot_state":   state,
				"chatbot_context": encoded,
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation_id %d", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateConversationChatbotState", operation)
	observer.ObserveDbOperationDuration("update_chatbot_state", "conversation", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update chatbot state after retries",
			zap.Int64("conversation_id", id),
			zap.String("state", string(state)),
			zap.Error(commitErr))
		return commitErr
	}
	observer.IncChatbotStateTransition(string(state))
	return nil
}

// RecordConversationInboundActivity bumps the unread counter and the last
// message timestamp for an inbound message.
func (r *PostgresRepo) RecordConversationInboundActivity(ctx context.Context, id int64, at time.Time) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"unread_count":    gorm.Expr("unread_count + 1"),
				"last_message_at": at,
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation_id %d", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "RecordConversationInboundActivity", operation)
	observer.ObserveDbOperationDuration("record_inbound_activity", "conversation", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to record inbound activity after retries",
			zap.Int64("conversation_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// SetConversationStatus updates only the status column.
func (r *PostgresRepo) SetConversationStatus(ctx context.Context, id int64, status model.ConversationStatus) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Conversation{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":     status,
				"updated_at": utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation_id %d", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SetConversationStatus", operation)
	observer.ObserveDbOperationDuration("set_status", "conversation", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to set conversation status after retries",
			zap.Int64("conversation_id", id),
			zap.String("status", string(status)),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindIdleAIHandledConversations returns open, AI-handled conversations whose
// last update is older than idleSince. Used by the idle sweeper.
func (r *PostgresRepo) FindIdleAIHandledConversations(ctx context.Context, idleSince time.Time) ([]model.Conversation, error) {
	var conversations []model.Conversation
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND is_ai_handled = ? AND updated_at < ?", model.ConversationStatusOpen, true, idleSince).
			Order("updated_at ASC").
			Find(&conversations)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindIdleAIHandledConversations", operation)
	observer.ObserveDbOperationDuration("find_idle", "conversation", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find idle conversations after retries", zap.Error(findErr))
		return nil, findErr
	}
	if conversations == nil {
		return []model.Conversation{}, nil
	}
	return conversations, nil
}
