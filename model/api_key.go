package model

import (
	"time"
)

// APIKey holds the public key identifier and the one-way hash of the secret.
// The plaintext secret is returned exactly once at issuance and never stored.
type APIKey struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	KeyID              string     `gorm:"size:64;uniqueIndex" json:"key_id"`
	SecretHash         string     `gorm:"size:128" json:"-"`
	UserID             uint       `gorm:"index" json:"user_id"`
	Name               string     `gorm:"size:128" json:"name"`
	IsActive           bool       `gorm:"default:true" json:"is_active"`
	RateLimitPerMinute int        `gorm:"default:60" json:"rate_limit_per_minute"`
	CallCount          int64      `gorm:"default:0" json:"call_count"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Expired reports whether the key is past its expiry at the given time.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// APIUsage records one authenticated call. Independent per-key counters, not
// ledger balances; the reconciliation service never touches these.
type APIUsage struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	APIKeyID  uint      `gorm:"index" json:"api_key_id"`
	Endpoint  string    `gorm:"size:256" json:"endpoint"`
	Method    string    `gorm:"size:8" json:"method"`
	CreatedAt time.Time `json:"created_at"`
}
