package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
)

func newKeyService(t *testing.T) (*APIKeyService, *gorm.DB) {
	t.Helper()
	db := testDB(t)
	return NewAPIKeyService(repository.NewAPIKeyRepository(db), time.Hour), db
}

func fundedUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	return createUser(t, db, "0x2222222222222222222222222222222222222222", "1000000000000000000", false)
}

func TestIssueRequiresPositiveBalance(t *testing.T) {
	svc, db := newKeyService(t)
	broke := createUser(t, db, "0x3333333333333333333333333333333333333333", "0", false)

	_, _, err := svc.Issue(context.Background(), broke, "bot", 0)
	require.Error(t, err)
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodePaymentRequired, apiErr.Code)
}

func TestIssueAndAuthenticate(t *testing.T) {
	svc, db := newKeyService(t)
	user := fundedUser(t, db)

	key, secret, err := svc.Issue(context.Background(), user, "trading bot", 0)
	require.NoError(t, err)
	assert.Len(t, key.KeyID, 16)
	assert.Len(t, secret, 32)
	assert.NotContains(t, key.SecretHash, secret, "plaintext secret must not be persisted")
	assert.Equal(t, 60, key.RateLimitPerMinute, "zero requests the default limit")

	authed, err := svc.Authenticate(context.Background(), key.KeyID, secret, "/crypto/prices", "GET")
	require.NoError(t, err)
	assert.Equal(t, key.KeyID, authed.KeyID)
	assert.Equal(t, int64(1), authed.CallCount)

	_, count, err := svc.Usage(context.Background(), key.KeyID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestAuthenticateRejectsWrongSecret(t *testing.T) {
	svc, db := newKeyService(t)
	key, _, err := svc.Issue(context.Background(), fundedUser(t, db), "bot", 0)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), key.KeyID, "wrong-secret", "/crypto/prices", "GET")
	require.Error(t, err)
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apiErr.Code)
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	svc, _ := newKeyService(t)
	_, err := svc.Authenticate(context.Background(), "missing", "secret", "/crypto/prices", "GET")
	require.Error(t, err)
}

func TestAuthenticateRejectsExpiredKey(t *testing.T) {
	db := testDB(t)
	svc := NewAPIKeyService(repository.NewAPIKeyRepository(db), -time.Hour)
	key, secret, err := svc.Issue(context.Background(), fundedUser(t, db), "bot", 0)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), key.KeyID, secret, "/crypto/prices", "GET")
	require.Error(t, err)
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apiErr.Code)
}

func TestAuthenticateEnforcesRateLimit(t *testing.T) {
	svc, db := newKeyService(t)
	key, secret, err := svc.Issue(context.Background(), fundedUser(t, db), "bot", 1)
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), key.KeyID, secret, "/crypto/prices", "GET")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), key.KeyID, secret, "/crypto/prices", "GET")
	require.Error(t, err)
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodeRateLimited, apiErr.Code)
}

func TestKeysAreOwnerScoped(t *testing.T) {
	svc, db := newKeyService(t)
	owner := fundedUser(t, db)
	stranger := createUser(t, db, "0x4444444444444444444444444444444444444444", "1", false)

	key, _, err := svc.Issue(context.Background(), owner, "bot", 0)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), key.KeyID, stranger.ID)
	assert.Error(t, err)

	err = svc.Delete(context.Background(), key.KeyID, stranger.ID)
	assert.Error(t, err)

	require.NoError(t, svc.Delete(context.Background(), key.KeyID, owner.ID))
	_, err = svc.Get(context.Background(), key.KeyID, owner.ID)
	assert.Error(t, err)
}
