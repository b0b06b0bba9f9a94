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

const campaignContactInsertBatchSize = 500

// --- CampaignContact Repository Methods ---

// ReplaceCampaignContacts purges the existing target list for the campaign
// and inserts the given rows in its place, updating total_contacts on the
// campaign in the same transaction.
func (r *PostgresRepo) ReplaceCampaignContacts(ctx context.Context, campaignID int64, contacts []model.CampaignContact) error {
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

		if deleteErr := tx.Where("campaign_id = ?", campaignID).Delete(&model.CampaignContact{}).Error; deleteErr != nil {
			txErr = fmt.Errorf("%w: failed to purge campaign contacts: %w", apperrors.ErrDatabase, deleteErr)
			return txErr
		}

		if len(contacts) > 0 {
			now := utils.Now()
			for i := range contacts {
				contacts[i].CampaignID = campaignID
				contacts[i].Status = model.CampaignContactPending
				contacts[i].UpdatedAt = now
			}
			if insertErr := tx.CreateInBatches(contacts, campaignContactInsertBatchSize).Error; insertErr != nil {
				txErr = checkConstraintViolation(insertErr)
				return txErr
			}
		}

		if updateErr := tx.Model(&model.Campaign{}).
			Where("id = ?", campaignID).
			Updates(map[string]interface{}{
				"total_contacts":  len(contacts),
				"sent_count":      0,
				"delivered_count": 0,
				"read_count":      0,
				"failed_count":    0,
				"updated_at":      utils.Now(),
			}).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit replace transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ReplaceCampaignContacts Commit", operation)
	observer.ObserveDbOperationDuration("replace_for_campaign", "campaign_contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to replace campaign contacts after retries",
			zap.Int64("campaign_id", campaignID),
			zap.Int("contact_count", len(contacts)),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindCampaignContactByID finds one campaign contact row by its ID.
func (r *PostgresRepo) FindCampaignContactByID(ctx context.Context, id int64) (*model.CampaignContact, error) {
	var row model.CampaignContact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&row)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: campaign_contact_id %d: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindCampaignContactByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "campaign_contact", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find campaign contact by ID after retries",
			zap.Int64("campaign_contact_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &row, nil
}

// FindPendingCampaignContacts returns the pending rows of a campaign in
// insertion order.
func (r *PostgresRepo) FindPendingCampaignContacts(ctx context.Context, campaignID int64) ([]model.CampaignContact, error) {
	var rows []model.CampaignContact
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("campaign_id = ? AND status = ?", campaignID, model.CampaignContactPending).
			Order("id ASC").
			Find(&rows)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindPendingCampaignContacts", operation)
	observer.ObserveDbOperationDuration("find_pending", "campaign_contact", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find pending campaign contacts after retries",
			zap.Int64("campaign_id", campaignID),
			zap.Error(findErr))
		return nil, findErr
	}
	if rows == nil {
		return []model.CampaignContact{}, nil
	}
	return rows, nil
}

// MarkCampaignContactSent records a successful provider send on a still
// pending row. Returns false when the row was already past pending, so
// concurrent senders resolve to exactly one winner.
func (r *PostgresRepo) MarkCampaignContactSent(ctx context.Context, id int64, providerMessageID string, sentAt time.Time) (bool, error) {
	var transitioned bool

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("id = ? AND status = ?", id, model.CampaignContactPending).
			Updates(map[string]interface{}{
				"status":              model.CampaignContactSent,
				"provider_message_id": providerMessageID,
				"sent_at":             sentAt,
				"error_message":       nil,
				"updated_at":          utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		transitioned = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkCampaignContactSent", operation)
	observer.ObserveDbOperationDuration("mark_sent", "campaign_contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark campaign contact sent after retries",
			zap.Int64("campaign_contact_id", id),
			zap.Error(commitErr))
		return false, commitErr
	}
	return transitioned, nil
}

// MarkCampaignContactFailed records a terminal send failure on a still
// pending row. Returns false when another worker got there first.
func (r *PostgresRepo) MarkCampaignContactFailed(ctx context.Context, id int64, errorMessage string) (bool, error) {
	var transitioned bool

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("id = ? AND status = ?", id, model.CampaignContactPending).
			Updates(map[string]interface{}{
				"status":        model.CampaignContactFailed,
				"error_message": errorMessage,
				"updated_at":    utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		transitioned = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkCampaignContactFailed", operation)
	observer.ObserveDbOperationDuration("mark_failed", "campaign_contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark campaign contact failed after retries",
			zap.Int64("campaign_contact_id", id),
			zap.Error(commitErr))
		return false, commitErr
	}
	return transitioned, nil
}

// ResetFailedCampaignContacts puts failed rows of a campaign back to pending
// for a resend pass. Returns the number of rows reset.
func (r *PostgresRepo) ResetFailedCampaignContacts(ctx context.Context, campaignID int64) (int64, error) {
	var reset int64

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("campaign_id = ? AND status = ?", campaignID, model.CampaignContactFailed).
			Updates(map[string]interface{}{
				"status":              model.CampaignContactPending,
				"provider_message_id": nil,
				"error_message":       nil,
				"updated_at":          utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		reset = result.RowsAffected
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ResetFailedCampaignContacts", operation)
	observer.ObserveDbOperationDuration("reset_to_pending", "campaign_contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to reset failed campaign contacts after retries",
			zap.Int64("campaign_id", campaignID),
			zap.Error(commitErr))
		return 0, commitErr
	}
	return reset, nil
}

// ResetCampaignContactToPending re-arms one failed row for an operator
// resend. Returns false when the row is not currently failed.
func (r *PostgresRepo) ResetCampaignContactToPending(ctx context.Context, id int64) (bool, error) {
	var reset bool

	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("id = ? AND status = ?", id, model.CampaignContactFailed).
			Updates(map[string]interface{}{
				"status":              model.CampaignContactPending,
				"provider_message_id": nil,
				"error_message":       nil,
				"updated_at":          utils.Now(),
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		reset = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "ResetCampaignContactToPending", operation)
	observer.ObserveDbOperationDuration("reset_one_to_pending", "campaign_contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to reset campaign contact after retries",
			zap.Int64("campaign_contact_id", id),
			zap.Error(commitErr))
		return false, commitErr
	}
	return reset, nil
}

// UpdateCampaignContactDeliveryStatus records a delivered or read receipt on
// the row matching the provider message id. Downgrades are ignored: a read
// row never moves back to delivered. Unknown provider ids yield
// apperrors.ErrNotFound so the caller can treat stray receipts as a no-op.
func (r *PostgresRepo) UpdateCampaignContactDeliveryStatus(ctx context.Context, providerMessageID string, status model.CampaignContactStatus, at time.Time) error {
	operation := func() error {
		updates := map[string]interface{}{
			"status":     status,
			"updated_at": utils.Now(),
		}
		allowedFrom := []model.CampaignContactStatus{model.CampaignContactSent}
		switch status {
		case model.CampaignContactDelivered:
			updates["delivered_at"] = at
		case model.CampaignContactRead:
			updates["read_at"] = at
			allowedFrom = append(allowedFrom, model.CampaignContactDelivered)
		default:
			return fmt.Errorf("%w: unsupported delivery status %q", apperrors.ErrBadRequest, status)
		}

		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("provider_message_id = ? AND status IN ?", providerMessageID, allowedFrom).
			Updates(updates)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: no campaign contact in eligible status for provider message %s", apperrors.ErrNotFound, providerMessageID)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateCampaignContactDeliveryStatus", operation)
	observer.ObserveDbOperationDuration("update_delivery_status", "campaign_contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrNotFound) {
			return commitErr
		}
		logger.FromContext(ctx).Error("Failed to update campaign contact delivery status after retries",
			zap.String("provider_message_id", providerMessageID),
			zap.String("status", string(status)),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}
