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

// --- Campaign Repository Methods ---

// CreateCampaign persists a new campaign. The caller's struct is updated
// with the generated ID.
func (r *PostgresRepo) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	campaign.UpdatedAt = utils.Now()

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(campaign).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "CreateCampaign", operation)
	observer.ObserveDbOperationDuration("create", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to create campaign after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateCampaign updates an existing campaign row under a row lock.
func (r *PostgresRepo) UpdateCampaign(ctx context.Context, campaign model.Campaign) error {
	campaign.UpdatedAt = utils.Now()

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

		var existing model.Campaign
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", campaign.ID).
			First(&existing)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: campaign not found for update (ID: %d): %w", apperrors.ErrNotFound, campaign.ID, findErr)
				return txErr
			}
			txErr = fmt.Errorf("%w: failed to lock campaign row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		if updateErr := tx.Model(&existing).Select(campaign.GetUpdatableFields()).Updates(campaign).Error; updateErr != nil {
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
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateCampaign Commit", operation)
	observer.ObserveDbOperationDuration("update", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update campaign after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindCampaignByID finds a campaign by its ID.
func (r *PostgresRepo) FindCampaignByID(ctx context.Context, id int64) (*model.Campaign, error) {
	var campaign model.Campaign
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&campaign)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: campaign_id %d: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindCampaignByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "campaign", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find campaign by ID after retries",
			zap.Int64("campaign_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &campaign, nil
}

// MarkCampaignRunning guards the draft/scheduled -> running transition,
// stamping started_at. A campaign in any other status is rejected with
// apperrors.ErrConflict carrying the current status.
func (r *PostgresRepo) MarkCampaignRunning(ctx context.Context, id int64) (*model.Campaign, error) {
	var campaign model.Campaign

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

		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&campaign)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: campaign_id %d: %w", apperrors.ErrNotFound, id, findErr)
				return txErr
			}
			txErr = fmt.Errorf("%w: failed to lock campaign row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		if !campaign.Status.Startable() {
			txErr = fmt.Errorf("%w: campaign %d cannot start from status %s", apperrors.ErrConflict, id, campaign.Status)
			return txErr
		}

		now := utils.Now()
		updates := map[string]interface{}{
			"status":     model.CampaignStatusRunning,
			"started_at": now,
			"updated_at": now,
		}
		if updateErr := tx.Model(&campaign).Updates(updates).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}
		campaign.Status = model.CampaignStatusRunning
		campaign.StartedAt = &now

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit start transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkCampaignRunning Commit", operation)
	observer.ObserveDbOperationDuration("mark_running", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrConflict) || errors.Is(commitErr, apperrors.ErrNotFound) {
			return nil, commitErr
		}
		logger.FromContext(ctx).Error("Failed to mark campaign running after retries",
			zap.Int64("campaign_id", id),
			zap.Error(commitErr))
		return nil, commitErr
	}
	return &campaign, nil
}

// MarkCampaignCompleted transitions running -> completed with a completion
// timestamp. The guard in the WHERE clause makes concurrent completion checks
// idempotent: only the first caller flips the row.
func (r *PostgresRepo) MarkCampaignCompleted(ctx context.Context, id int64) (bool, error) {
	var transitioned bool

	operation := func() error {
		now := utils.Now()
		result := r.db.WithContext(ctx).Model(&model.Campaign{}).
			Where("id = ? AND status = ?", id, model.CampaignStatusRunning).
			Updates(map[string]interface{}{
				"status":       model.CampaignStatusCompleted,
				"completed_at": now,
				"updated_at":   now,
			})
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		transitioned = result.RowsAffected > 0
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "MarkCampaignCompleted", operation)
	observer.ObserveDbOperationDuration("mark_completed", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to mark campaign completed after retries",
			zap.Int64("campaign_id", id),
			zap.Error(commitErr))
		return false, commitErr
	}
	if transitioned {
		observer.IncCampaignsCompleted()
	}
	return transitioned, nil
}

// SetCampaignStatus transitions the campaign to the target status, rejecting
// the change with apperrors.ErrConflict when the current status is not in the
// allowed set.
func (r *PostgresRepo) SetCampaignStatus(ctx context.Context, id int64, allowedFrom []model.CampaignStatus, to model.CampaignStatus) (*model.Campaign, error) {
	var campaign model.Campaign

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

		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&campaign)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: campaign_id %d: %w", apperrors.ErrNotFound, id, findErr)
				return txErr
			}
			txErr = fmt.Errorf("%w: failed to lock campaign row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		allowed := false
		for _, from := range allowedFrom {
			if campaign.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			txErr = fmt.Errorf("%w: campaign %d cannot move to %s from status %s", apperrors.ErrConflict, id, to, campaign.Status)
			return txErr
		}

		if updateErr := tx.Model(&campaign).Updates(map[string]interface{}{
			"status":     to,
			"updated_at": utils.Now(),
		}).Error; updateErr != nil {
			txErr = checkConstraintViolation(updateErr)
			return txErr
		}
		campaign.Status = to

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit status transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SetCampaignStatus Commit", operation)
	observer.ObserveDbOperationDuration("set_status", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		if errors.Is(commitErr, apperrors.ErrConflict) || errors.Is(commitErr, apperrors.ErrNotFound) {
			return nil, commitErr
		}
		logger.FromContext(ctx).Error("Failed to set campaign status after retries",
			zap.Int64("campaign_id", id),
			zap.String("to", string(to)),
			zap.Error(commitErr))
		return nil, commitErr
	}
	return &campaign, nil
}

// RecomputeCampaignCounters recalculates the aggregate counters from the
// per-contact rows in a single statement.
func (r *PostgresRepo) RecomputeCampaignCounters(ctx context.Context, id int64) error {
	operation := func() error {
		recomputeSQL := `
			UPDATE campaigns SET
				total_contacts  = agg.total,
				sent_count      = agg.sent,
				delivered_count = agg.delivered,
				read_count      = agg.read,
				failed_count    = agg.failed,
				updated_at      = NOW()
			FROM (
				SELECT
					COUNT(*) AS total,
					COUNT(*) FILTER (WHERE status IN ('sent','delivered','read')) AS sent,
					COUNT(*) FILTER (WHERE status IN ('delivered','read')) AS delivered,
					COUNT(*) FILTER (WHERE status = 'read') AS read,
					COUNT(*) FILTER (WHERE status = 'failed') AS failed
				FROM campaign_contacts WHERE campaign_id = ?
			) AS agg
			WHERE campaigns.id = ?`
		if err := r.db.WithContext(ctx).Exec(recomputeSQL, id, id).Error; err != nil {
			return checkConstraintViolation(err)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "RecomputeCampaignCounters", operation)
	observer.ObserveDbOperationDuration("recompute_counters", "campaign", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to recompute campaign counters after retries",
			zap.Int64("campaign_id", id),
			zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// CountPendingCampaignContacts counts rows still awaiting a send.
func (r *PostgresRepo) CountPendingCampaignContacts(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	operation := func() error {
		result := r.db.WithContext(ctx).Model(&model.CampaignContact{}).
			Where("campaign_id = ? AND status = ?", campaignID, model.CampaignContactPending).
			Count(&count)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "CountPendingCampaignContacts", operation)
	observer.ObserveDbOperationDuration("count_pending", "campaign", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to count pending campaign contacts after retries",
			zap.Int64("campaign_id", campaignID),
			zap.Error(findErr))
		return 0, findErr
	}
	return count, nil
}

// FindDueScheduledCampaigns returns scheduled campaigns whose start time has
// passed.
func (r *PostgresRepo) FindDueScheduledCampaigns(ctx context.Context, now time.Time) ([]model.Campaign, error) {
	var campaigns []model.Campaign
	operation := func() error {
		result := r.db.WithContext(ctx).
			Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", model.CampaignStatusScheduled, now).
			Order("scheduled_at ASC").
			Find(&campaigns)
		if result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindDueScheduledCampaigns", operation)
	observer.ObserveDbOperationDuration("find_due_scheduled", "campaign", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to find due scheduled campaigns after retries", zap.Error(findErr))
		return nil, findErr
	}
	if campaigns == nil {
		return []model.Campaign{}, nil
	}
	return campaigns, nil
}
