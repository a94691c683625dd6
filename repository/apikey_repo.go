package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hashscope/backend/model"
)

type APIKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *model.APIKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *APIKeyRepository) FindByKeyID(ctx context.Context, keyID string) (*model.APIKey, error) {
	var key model.APIKey
	if err := r.db.WithContext(ctx).Where("key_id = ?", keyID).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *APIKeyRepository) FindByKeyIDAndUser(ctx context.Context, keyID string, userID uint) (*model.APIKey, error) {
	var key model.APIKey
	if err := r.db.WithContext(ctx).Where("key_id = ? AND user_id = ?", keyID, userID).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *APIKeyRepository) ListByUser(ctx context.Context, userID uint) ([]*model.APIKey, error) {
	var list []*model.APIKey
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *APIKeyRepository) Delete(ctx context.Context, keyID string, userID uint) error {
	result := r.db.WithContext(ctx).Where("key_id = ? AND user_id = ?", keyID, userID).Delete(&model.APIKey{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordUsage increments the call counter and appends a usage event in one
// transaction, so the counter never drifts from the event log.
func (r *APIKeyRepository) RecordUsage(ctx context.Context, keyID uint, endpoint, method string, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.APIKey{}).Where("id = ?", keyID).
			Updates(map[string]interface{}{
				"call_count":   gorm.Expr("call_count + 1"),
				"last_used_at": now,
			}).Error; err != nil {
			return err
		}
		usage := model.APIUsage{
			ID:       uuid.NewString(),
			APIKeyID: keyID,
			Endpoint: endpoint,
			Method:   method,
		}
		return tx.Create(&usage).Error
	})
}

// UsageCount returns the number of recorded usage events for a key.
func (r *APIKeyRepository) UsageCount(ctx context.Context, keyID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.APIUsage{}).Where("api_key_id = ?", keyID).Count(&count).Error
	return count, err
}
