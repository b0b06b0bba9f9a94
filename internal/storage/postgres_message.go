package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// --- Message Repository Methods ---

// SaveMessage persists a new message row. The caller's struct is updated
// with the generated ID.
func (r *PostgresRepo) SaveMessage(ctx context.Context, message *model.Message) error {
	message.UpdatedAt = utils.Now()

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(message).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveMessage", operation)
	observer.ObserveDbOperationDuration("save", "message", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save message after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// MessageExistsByProviderID reports whether a message with the given dedup
// key is already stored.
func (r *PostgresRepo) MessageExistsByProviderID(ctx context.Context, providerMessageID string) (bool, error) {
	var count int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("provider_message_id = ?", providerMessageID).
			Count(&count)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "MessageExistsByProviderID", operation)
	observer.ObserveDbOperationDuration("exists_by_provider_id", "message", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to check message existence after retries",
			zap.String("provider_message_id", providerMessageID),
			zap.Error(findErr))
		return false, findErr
	}
	return count > 0, nil
}

// FindMessageByProviderID finds a message by its provider-assigned id.
func (r *PostgresRepo) FindMessageByProviderID(ctx context.Context, providerMessageID string) (*model.Message, error) {
	var message model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).Where("provider_message_id = ?", providerMessageID).First(&message)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: provider_message_id %s: %w", apperrors.ErrNotFound, providerMessageID, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindMessageByProviderID", operation)
	observer.ObserveDbOperationDuration("find_by_provider_id", "message", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find message by provider id after retries",
			zap.String("provider_message_id", providerMessageID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &message, nil
}

// messageStatusRank orders the delivery lifecycle so out-of-order receipt
// callbacks never move a message backwards. Delivered and read outrank a
// failure report because a receipt proves the send reached the device.
var messageStatusRank = map[model.MessageStatus]int{
	model.MessageStatusPending:   0,
	model.MessageStatusSent:      1,
	model.MessageStatusFailed:    2,
	model.MessageStatusDelivered: 3,
	model.MessageStatusRead:      4,
}

// UpdateMessageDeliveryStatus applies a status-update callback to the stored
// message, stamping the matching timestamp column. The status column only
// moves forward through pending, sent, delivered, read; a late lower-stage
// receipt still records its timestamp but leaves the status alone. Returns
// the updated row, or apperrors.ErrNotFound when no message carries that
// provider id.
func (r *PostgresRepo) UpdateMessageDeliveryStatus(ctx context.Context, providerMessageID string, status model.MessageStatus, at time.Time, errorMessage string) (*model.Message, error) {
	var message model.Message

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": utils.Now(),
	}
	switch status {
	case model.MessageStatusSent:
		updates["sent_at"] = at
	case model.MessageStatusDelivered:
		updates["delivered_at"] = at
	case model.MessageStatusRead:
		updates["read_at"] = at
	case model.MessageStatusFailed:
		updates["error_message"] = errorMessage
	case model.MessageStatusPending:
		// No timestamp column for pending.
	}

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

		result := tx.Where("provider_message_id = ?", providerMessageID).First(&message)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: provider_message_id %s: %w", apperrors.ErrNotFound, providerMessageID, findErr)
				return txErr
			}
			txErr = fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		rowUpdates := updates
		if messageStatusRank[status] <= messageStatusRank[message.Status] {
			rowUpdates = make(map[string]interface{}, len(updates))
			for column, value := range updates {
				if column != "status" {
					rowUpdates[column] = value
				}
			}
		}

		if updateErr := tx.Model(&message).Updates(rowUpdates).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}
		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit status update transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateMessageDeliveryStatus Commit", operation)
	observer.ObserveDbOperationDuration("update_delivery_status", "message", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to update message delivery status after retries",
			zap.String("provider_message_id", providerMessageID),
			zap.String("status", string(status)),
			zap.Error(commitErr))
		return nil, commitErr
	}
	return &message, nil
}

// UpdateMessageMedia backfills the media URL and mime type once an
// asynchronous download resolves them.
func (r *PostgresRepo) UpdateMessageMedia(ctx context.Context, id int64, mediaURL, mimeType string) error {
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.Message{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"media_url":       mediaURL,
				"media_mime_type": mimeType,
				"updated_at":      utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: message_id %d", apperrors.ErrNotFound, id)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateMessageMedia", operation)
	observer.ObserveDbOperationDuration("update_media", "message", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update message media after retries",
			zap.Int64("message_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindRecentMessagesByConversation returns up to limit messages of the
// conversation in chronological order.
func (r *PostgresRepo) FindRecentMessagesByConversation(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	var messages []model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Order("created_at DESC").
			Limit(limit).
			Find(&messages)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindRecentMessagesByConversation", operation)
	observer.ObserveDbOperationDuration("find_recent_by_conversation", "message", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find recent messages after retries",
			zap.Int64("conversation_id", conversationID),
			zap.Error(findErr))
		return nil, findErr
	}
	if messages == nil {
		return []model.Message{}, nil
	}

	// Query returned newest first; reverse into chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// FindLastMessageByConversation returns the most recent message of the
// conversation, or apperrors.ErrNotFound for an empty one.
func (r *PostgresRepo) FindLastMessageByConversation(ctx context.Context, conversationID int64) (*model.Message, error) {
	var message model.Message
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("conversation_id = ?", conversationID).
			Order("created_at DESC").
			First(&message)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: conversation_id %d: %w", apperrors.ErrNotFound, conversationID, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindLastMessageByConversation", operation)
	observer.ObserveDbOperationDuration("find_last_by_conversation", "message", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find last message after retries",
			zap.Int64("conversation_id", conversationID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &message, nil
}
