package persistence

import (
	"errors"

	"github.com/google/uuid"
	"github.com/marketplace/payouts/internal/domain/shared"
	"gorm.io/gorm"
)

// casUpdate applies values to the row identified by id only while its stored
// version still equals expectedVersion. values must include the new version.
func casUpdate(tx *gorm.DB, model any, id uuid.UUID, expectedVersion int, values map[string]any) error {
	result := tx.Model(model).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return shared.ErrNotFound
	}
	return shared.ErrConcurrencyConflict
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
