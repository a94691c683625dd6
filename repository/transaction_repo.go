package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/hashscope/backend/model"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) FindByHash(ctx context.Context, txHash string) (*model.Transaction, error) {
	var entry model.Transaction
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", txHash).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// CreatePending reserves the tx hash before verification. The unique index on
// tx_hash makes the insert the serialization point for concurrent duplicate
// notifications; callers map gorm.ErrDuplicatedKey to the idempotent path.
func (r *TransactionRepository) CreatePending(ctx context.Context, entry *model.Transaction) error {
	entry.Status = model.StatusPending
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID uint, page, size int) ([]*model.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}

	var list []*model.Transaction
	var total int64
	offset := (page - 1) * size
	r.db.WithContext(ctx).Model(&model.Transaction{}).Where("user_id = ?", userID).Count(&total)
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at desc").Offset(offset).Limit(size).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
