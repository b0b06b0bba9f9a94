package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/dubbox/api/wa-campaign-engine/internal/apperrors"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/model"
	"gitlab.com/dubbox/api/wa-campaign-engine/internal/observer"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/logger"
	"gitlab.com/dubbox/api/wa-campaign-engine/pkg/utils"
)

// --- Contact Repository Methods ---

// SaveContact creates a contact record. The caller's struct is updated with
// the generated ID.
func (r *PostgresRepo) SaveContact(ctx context.Context, contact *model.Contact) error {
	contact.UpdatedAt = utils.Now()

	operation := func() error {
		if createErr := r.db.WithContext(ctx).Create(contact).Error; createErr != nil {
			return checkConstraintViolation(createErr)
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "SaveContact", operation)
	observer.ObserveDbOperationDuration("save", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to save contact after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// UpdateContact updates specific fields of an existing contact record.
func (r *PostgresRepo) UpdateContact(ctx context.Context, contact model.Contact) error {
	contact.UpdatedAt = utils.Now()

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

		var existingContact model.Contact
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", contact.ID).
			First(&existingContact)
		if findErr := result.Error; findErr != nil {
			if errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: contact not found for update (ID: %d): %w", apperrors.ErrNotFound, contact.ID, findErr)
				return txErr
			}
			txErr = fmt.Errorf("%w: failed to lock contact row: %w", apperrors.ErrDatabase, findErr)
			return txErr
		}

		if updateErr := tx.Model(&existingContact).Updates(contact).Error; updateErr != nil {
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
	commitErr := retryableOperation(ctx, commitPolicy, "UpdateContact Commit", operation)
	observer.ObserveDbOperationDuration("update", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to update contact after retries", zap.Error(commitErr))
		return commitErr
	}
	return nil
}

// FindContactByID finds a contact by its ID.
func (r *PostgresRepo) FindContactByID(ctx context.Context, id int64) (*model.Contact, error) {
	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: contact_id %d: %w", apperrors.ErrNotFound, id, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByID", operation)
	observer.ObserveDbOperationDuration("find_by_id", "contact", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find contact by ID after retries",
			zap.Int64("contact_id", id),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}

// FindContactByPhone finds a contact by its phone number.
func (r *PostgresRepo) FindContactByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	var contact model.Contact
	operation := func() error {
		result := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&contact)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: phone %s: %w", apperrors.ErrNotFound, phone, result.Error)
			}
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactByPhone", operation)
	observer.ObserveDbOperationDuration("find_by_phone", "contact", time.Since(startTime), findErr)

	if findErr != nil {
		if errors.Is(findErr, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		logger.FromContext(ctx).Error("Failed to find contact by phone after retries",
			zap.String("phone", phone),
			zap.Error(findErr))
		return nil, findErr
	}
	return &contact, nil
}

// GetOrCreateContactByPhone resolves a contact by phone number, creating one
// with the default tag when absent. An existing contact's name is refreshed
// from the payload when it changed.
func (r *PostgresRepo) GetOrCreateContactByPhone(ctx context.Context, phone, providerID, name string) (*model.Contact, error) {
	var contact model.Contact

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
			Where("phone_number = ?", phone).
			First(&contact)
		findErr := result.Error

		if findErr != nil {
			if !errors.Is(findErr, gorm.ErrRecordNotFound) {
				txErr = fmt.Errorf("%w: failed to lock contact row: %w", apperrors.ErrDatabase, findErr)
				return txErr
			}
			tags, _ := json.Marshal([]string{model.DefaultContactTag})
			contact = model.Contact{
				PhoneNumber: phone,
				ProviderID:  providerID,
				Name:        name,
				Tags:        datatypes.JSON(tags),
				Status:      model.ContactStatusActive,
			}
			if createErr := tx.Create(&contact).Error; createErr != nil {
				txErr = checkConstraintViolation(createErr)
				return txErr
			}
		} else {
			updates := map[string]interface{}{}
			if name != "" && name != contact.Name {
				updates["name"] = name
				contact.Name = name
			}
			if providerID != "" && providerID != contact.ProviderID {
				updates["provider_id"] = providerID
				contact.ProviderID = providerID
			}
			if len(updates) > 0 {
				updates["updated_at"] = utils.Now()
				if updateErr := tx.Model(&contact).Updates(updates).Error; updateErr != nil {
					txErr = checkConstraintViolation(updateErr)
					return txErr
				}
			}
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit get-or-create transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "GetOrCreateContactByPhone Commit", operation)
	observer.ObserveDbOperationDuration("get_or_create", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		logger.FromContext(ctx).Error("Failed to get or create contact after retries",
			zap.String("phone", phone),
			zap.Error(commitErr))
		return nil, commitErr
	}
	return &contact, nil
}

// BulkUpsertContacts performs a bulk upsert keyed by phone number, merging
// tags of existing rows with the incoming ones. Returns the upserted rows
// with their database IDs resolved.
func (r *PostgresRepo) BulkUpsertContacts(ctx context.Context, contacts []model.Contact) ([]model.Contact, error) {
	if len(contacts) == 0 {
		return nil, nil
	}
	loggerCtx := logger.FromContext(ctx)

	var upserted []model.Contact

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
					loggerCtx.Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		upserted = upserted[:0]
		for i := range contacts {
			incoming := contacts[i]
			incoming.UpdatedAt = utils.Now()

			var existing model.Contact
			result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("phone_number = ?", incoming.PhoneNumber).
				First(&existing)
			findErr := result.Error

			if findErr != nil {
				if !errors.Is(findErr, gorm.ErrRecordNotFound) {
					txErr = fmt.Errorf("%w: failed to lock contact row: %w", apperrors.ErrDatabase, findErr)
					return txErr
				}
				if createErr := tx.Create(&incoming).Error; createErr != nil {
					txErr = checkConstraintViolation(createErr)
					return txErr
				}
				upserted = append(upserted, incoming)
				continue
			}

			merged, mergeErr := mergeTags(existing.Tags, incoming.Tags)
			if mergeErr != nil {
				txErr = fmt.Errorf("%w: %w", apperrors.ErrBadRequest, mergeErr)
				return txErr
			}
			updates := map[string]interface{}{
				"tags":       merged,
				"updated_at": incoming.UpdatedAt,
			}
			if incoming.Name != "" {
				updates["name"] = incoming.Name
			}
			if len(incoming.CustomFields) > 0 {
				updates["custom_fields"] = incoming.CustomFields
			}
			if updateErr := tx.Model(&existing).Updates(updates).Error; updateErr != nil {
				txErr = checkConstraintViolation(updateErr)
				return txErr
			}
			existing.Tags = merged
			upserted = append(upserted, existing)
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit bulk upsert transaction: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		loggerCtx.Info("Bulk upsert successful", zap.Int("contacts_processed", len(upserted)))
		return nil
	}

	commitPolicy := newRetryPolicy(ctx, commitRetryMaxElapsedTime)
	startTime := utils.Now()
	commitErr := retryableOperation(ctx, commitPolicy, "BulkUpsertContacts Commit", operation)
	observer.ObserveDbOperationDuration("bulk_upsert", "contact", time.Since(startTime), commitErr)
	if commitErr != nil {
		loggerCtx.Error("Failed to bulk upsert contacts after retries", zap.Error(commitErr))
		return nil, commitErr
	}
	return upserted, nil
}

// FindContactsByAttributes lists contacts matching local attribute
// predicates. Zero-value arguments are not applied, so an empty call lists
// every contact.
func (r *PostgresRepo) FindContactsByAttributes(ctx context.Context, status model.ContactStatus, phoneNumbers []string) ([]model.Contact, error) {
	var contacts []model.Contact
	operation := func() error {
		query := r.db.WithContext(ctx)
		if status != "" {
			query = query.Where("status = ?", status)
		}
		if len(phoneNumbers) > 0 {
			query = query.Where("phone_number IN ?", phoneNumbers)
		}
		if result := query.Order("id").Find(&contacts); result.Error != nil {
			return fmt.Errorf("%w: query failed: %w", apperrors.ErrDatabase, result.Error)
		}
		return nil
	}

	readPolicy := newRetryPolicy(ctx, readRetryMaxElapsedTime)
	startTime := utils.Now()
	findErr := retryableOperation(ctx, readPolicy, "FindContactsByAttributes", operation)
	observer.ObserveDbOperationDuration("find_by_attributes", "contact", time.Since(startTime), findErr)

	if findErr != nil {
		logger.FromContext(ctx).Error("Failed to list contacts by attributes after retries",
			zap.String("status", string(status)),
			zap.Int("phone_numbers", len(phoneNumbers)),
			zap.Error(findErr))
		return nil, findErr
	}
	return contacts, nil
}

// mergeTags unions two JSON tag arrays, preserving first-seen order.
func mergeTags(existing, incoming datatypes.JSON) (datatypes.JSON, error) {
	var a, b []string
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &a); err != nil {
			return nil, fmt.Errorf("unmarshal existing tags: %w", err)
		}
	}
	if len(incoming) > 0 {
		if err := json.Unmarshal(incoming, &b); err != nil {
			return nil, fmt.Errorf("unmarshal incoming tags: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	merged := make([]string, 0, len(a)+len(b))
	for _, tag := range append(a, b...) {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		merged = append(merged, tag)
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged tags: %w", err)
	}
	return datatypes.JSON(out), nil
}
