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

// --- Account Repository Methods ---

// SaveAccount saves or updates a provider account, keyed by phone_number_id.
func (r *PostgresRepo) SaveAccount(ctx context.Context, account model.Account) error {
	account.UpdatedAt = utils.Now()

	operation := func() error {
		result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "phone_number_id"}},
			DoUpdates: clause.AssignmentColumns(account.GetUpdatableFields()),
		}).Create(&account)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveAccount", operation)
	observer.ObserveDbOperationDuration("save", "account", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save account after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindAccountByID finds a provider account by its database ID.
func (r *PostgresRepo) FindAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&account)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: account_id %d: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindAccountByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "account", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find account by ID after retries",
			zap.Int64("account_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &account, nil
}

// FindAccountByPhoneNumberID finds a provider account by its phone number id,
// the key the provider reports in webhook metadata.
func (r *PostgresRepo) FindAccountByPhoneNumberID(ctx context.Context, phoneNumberID string) (*model.Account, error) {
	var account model.Account
	operation := func() error {
		result := r.db.WithContext(ctx).Where("phone_number_id = ?", phoneNumberID).First(&account)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: phone_number_id %s: %w", apperrors.ErrNotFound, phoneNumberID, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindAccountByPhoneNumberID", operation)
	observer.ObserveDbOperationDuration("find_by_phone_number_id", "account", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find account by phone number id after retries",
			zap.String("phone_number_id", phoneNumberID),
			zap.Error(findErr))
		return nil, findErr
	}
	return &account, nil
}
