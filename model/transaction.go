package model

import (
	"math/big"
	"time"
)

// Transaction direction, named after the contract event it settles.
type Direction string

const (
	DirectionDeposit        Direction = "deposit"
	DirectionWithdraw       Direction = "withdraw"
	DirectionUsageDeduction Direction = "usage_deduction"
)

// Ledger entry status. pending → completed | failed, exactly once; terminal
// states never transition again.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Transaction is the ledger entry for one on-chain transaction. TxHash is the
// idempotence key: the unique index is what serializes concurrent duplicate
// notifications at the persistence layer.
type Transaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index" json:"user_id"`
	TxHash    string    `gorm:"size:128;uniqueIndex" json:"tx_hash"`
	Amount    string    `gorm:"type:text"` // wei, decimal string, signed by direction
	Direction Direction `gorm:"size:32" json:"direction"`
	Status    string    `gorm:"size:16;index" json:"status"`
	Reason    string    `gorm:"type:text" json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the entry has reached a final state.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// AmountWei parses the stored amount; malformed values read as zero.
func (t *Transaction) AmountWei() *big.Int {
	v, ok := new(big.Int).SetString(t.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// Signed returns the amount with the sign the direction implies: positive for
// deposits, negative for withdrawals and usage deductions.
func (d Direction) Signed(amount *big.Int) *big.Int {
	if d == DirectionDeposit {
		return new(big.Int).Set(amount)
	}
	return new(big.Int).Neg(amount)
}
