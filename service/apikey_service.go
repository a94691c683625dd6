package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
)

const (
	keyIDLength     = 16
	secretLength    = 32
	keyAlphabet     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	defaultRatePerM = 60
)

// APIKeyService issues key pairs and authenticates calls. Only a one-way hash
// of the secret is ever persisted; the plaintext is returned exactly once.
type APIKeyService struct {
	keys   *repository.APIKeyRepository
	keyTTL time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewAPIKeyService(keys *repository.APIKeyRepository, keyTTL time.Duration) *APIKeyService {
	return &APIKeyService{
		keys:     keys,
		keyTTL:   keyTTL,
		limiters: make(map[string]*rate.Limiter),
	}
}

func randomString(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = keyAlphabet[n.Int64()]
	}
	return string(out), nil
}

// Issue creates a new key pair for the user. Issuance requires a positive
// ledger balance; the returned secret is not retrievable again.
func (s *APIKeyService) Issue(ctx context.Context, user *model.User, name string, rateLimitPerMinute int) (*model.APIKey, string, error) {
	if user.BalanceWei().Sign() <= 0 {
		return nil, "", apperrors.NewPaymentRequiredError(
			"Insufficient token balance", "deposit tokens before creating API keys")
	}

	keyID, err := randomString(keyIDLength)
	if err != nil {
		return nil, "", fmt.Errorf("generate key id: %w", err)
	}
	secret, err := randomString(secretLength)
	if err != nil {
		return nil, "", fmt.Errorf("generate secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash secret: %w", err)
	}

	if rateLimitPerMinute <= 0 {
		rateLimitPerMinute = defaultRatePerM
	}
	expiresAt := time.Now().Add(s.keyTTL)
	key := &model.APIKey{
		KeyID:              keyID,
		SecretHash:         string(hash),
		UserID:             user.ID,
		Name:               name,
		IsActive:           true,
		RateLimitPerMinute: rateLimitPerMinute,
		ExpiresAt:          &expiresAt,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("persist api key: %w", err)
	}
	return key, secret, nil
}

// Authenticate verifies key id + secret, rejects inactive, expired or
// rate-limited keys, and records the usage as a side effect of success.
// Callers cannot skip the counter.
func (s *APIKeyService) Authenticate(ctx context.Context, keyID, secret, endpoint, method string) (*model.APIKey, error) {
	key, err := s.keys.FindByKeyID(ctx, keyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewUnauthorizedError("Invalid API key")
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}

	// bcrypt comparison is constant-time in the digest check
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return nil, apperrors.NewUnauthorizedError("Invalid API key")
	}
	if !key.IsActive {
		return nil, apperrors.NewUnauthorizedError("API key is inactive")
	}
	if key.Expired(time.Now()) {
		return nil, apperrors.NewUnauthorizedError("API key has expired")
	}
	if !s.limiter(key).Allow() {
		return nil, &apperrors.APIError{
			Code:    apperrors.ErrCodeRateLimited,
			Message: "Rate limit exceeded",
			Details: fmt.Sprintf("limit is %d calls per minute", key.RateLimitPerMinute),
		}
	}

	if err := s.keys.RecordUsage(ctx, key.ID, endpoint, method, time.Now()); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	key.CallCount++
	return key, nil
}

func (s *APIKeyService) limiter(key *model.APIKey) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key.KeyID]
	if !ok {
		perSecond := rate.Limit(float64(key.RateLimitPerMinute) / 60.0)
		l = rate.NewLimiter(perSecond, key.RateLimitPerMinute)
		s.limiters[key.KeyID] = l
	}
	return l
}

func (s *APIKeyService) List(ctx context.Context, userID uint) ([]*model.APIKey, error) {
	return s.keys.ListByUser(ctx, userID)
}

func (s *APIKeyService) Get(ctx context.Context, keyID string, userID uint) (*model.APIKey, error) {
	key, err := s.keys.FindByKeyIDAndUser(ctx, keyID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("API key not found")
		}
		return nil, err
	}
	return key, nil
}

// Usage returns the key together with its recorded usage-event count.
func (s *APIKeyService) Usage(ctx context.Context, keyID string, userID uint) (*model.APIKey, int64, error) {
	key, err := s.Get(ctx, keyID, userID)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.keys.UsageCount(ctx, key.ID)
	if err != nil {
		return nil, 0, err
	}
	return key, count, nil
}

func (s *APIKeyService) Delete(ctx context.Context, keyID string, userID uint) error {
	err := s.keys.Delete(ctx, keyID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewNotFoundError("API key not found")
	}
	return err
}
