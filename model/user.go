package model

import (
	"math/big"
	"time"
)

// User is keyed by wallet address. Balance mirrors verified on-chain deposits
// in wei, stored as a decimal string; the reconciliation service is the only
// writer. Users are created lazily on the first nonce request or the first
// verified deposit and never deleted.
type User struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WalletAddress string    `gorm:"size:64;uniqueIndex" json:"wallet_address"`
	Balance       string    `gorm:"type:text;default:0" json:"balance"`
	Nonce         string    `gorm:"size:128" json:"-"`
	IsAdmin       bool      `gorm:"default:false" json:"is_admin"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Transactions []Transaction `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	APIKeys      []APIKey      `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// BalanceWei parses the stored balance. A missing or malformed value reads
// as zero rather than failing the caller.
func (u *User) BalanceWei() *big.Int {
	v, ok := new(big.Int).SetString(u.Balance, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
