package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/hashscope/backend/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByWallet(ctx context.Context, wallet string) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("wallet_address = ?", strings.ToLower(wallet)).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetOrCreateByWallet creates the user lazily on first contact. Wallet
// addresses are stored lowercased so lookups stay case-insensitive.
func (r *UserRepository) GetOrCreateByWallet(ctx context.Context, wallet string) (*model.User, error) {
	wallet = strings.ToLower(wallet)
	var user model.User
	err := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	user = model.User{WalletAddress: wallet, Balance: "0"}
	if err := r.db.WithContext(ctx).Create(&user).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			// lost a create race; the row exists now
			if ferr := r.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&user).Error; ferr == nil {
				return &user, nil
			}
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) Save(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}
