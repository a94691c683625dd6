package service

import (
	"context"
	"crypto/ecdsa"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashscope/backend/repository"
)

func newAuthService(t *testing.T) (*AuthService, *repository.UserRepository) {
	t.Helper()
	users := repository.NewUserRepository(testDB(t))
	return NewAuthService(users, "test-secret", time.Hour, 32), users
}

// signChallenge signs the way browser wallets do: EIP-191 personal message
// with the legacy 27/28 recovery id.
func signChallenge(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

func TestWalletLoginFlow(t *testing.T) {
	svc, _ := newAuthService(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	nonce, message, err := svc.NonceChallenge(context.Background(), wallet)
	require.NoError(t, err)
	assert.Contains(t, message, nonce)
	assert.Contains(t, message, strings.ToLower(wallet))

	token, user, err := svc.VerifySignature(context.Background(), wallet, signChallenge(t, key, message))
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(wallet), user.WalletAddress)

	subject, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(wallet), subject)

	current, err := svc.CurrentUser(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, user.ID, current.ID)
}

func TestSignatureCannotBeReplayed(t *testing.T) {
	svc, _ := newAuthService(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, message, err := svc.NonceChallenge(context.Background(), wallet)
	require.NoError(t, err)
	signature := signChallenge(t, key, message)

	_, _, err = svc.VerifySignature(context.Background(), wallet, signature)
	require.NoError(t, err)

	// nonce rotated on success; the same signature no longer matches
	_, _, err = svc.VerifySignature(context.Background(), wallet, signature)
	assert.Error(t, err)
}

func TestSignatureFromWrongKeyRejected(t *testing.T) {
	svc, _ := newAuthService(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	_, message, err := svc.NonceChallenge(context.Background(), wallet)
	require.NoError(t, err)

	_, _, err = svc.VerifySignature(context.Background(), wallet, signChallenge(t, otherKey, message))
	assert.Error(t, err)
}

func TestNonceChallengeRejectsBadAddress(t *testing.T) {
	svc, _ := newAuthService(t)
	_, _, err := svc.NonceChallenge(context.Background(), "not-an-address")
	assert.Error(t, err)
}

func TestParseTokenRejectsForgedToken(t *testing.T) {
	svc, _ := newAuthService(t)
	other := NewAuthService(nil, "other-secret", time.Hour, 32)

	forged, err := other.issueToken("0x1111111111111111111111111111111111111111")
	require.NoError(t, err)

	_, err = svc.ParseToken(forged)
	assert.Error(t, err)
}
