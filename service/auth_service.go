package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
)

// AuthService implements the wallet challenge-response login: a single-use
// nonce is signed by the wallet (EIP-191 personal message) and exchanged for
// a session JWT keyed by the wallet address.
type AuthService struct {
	users       *repository.UserRepository
	jwtSecret   []byte
	tokenTTL    time.Duration
	nonceLength int
}

func NewAuthService(users *repository.UserRepository, jwtSecret string, tokenTTL time.Duration, nonceLength int) *AuthService {
	if nonceLength <= 0 {
		nonceLength = 32
	}
	return &AuthService{
		users:       users,
		jwtSecret:   []byte(jwtSecret),
		tokenTTL:    tokenTTL,
		nonceLength: nonceLength,
	}
}

func generateNonce(length int) (string, error) {
	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf)[:length], nil
}

// AuthMessage is the exact text the wallet signs.
func AuthMessage(wallet, nonce string) string {
	return fmt.Sprintf("Sign this message to authenticate with HashScope.\n\nWallet: %s\nNonce: %s", wallet, nonce)
}

// NonceChallenge creates the user lazily if needed, rotates the nonce and
// returns the message to sign.
func (s *AuthService) NonceChallenge(ctx context.Context, wallet string) (string, string, error) {
	if !common.IsHexAddress(wallet) {
		return "", "", apperrors.NewValidationError("invalid wallet address")
	}
	wallet = strings.ToLower(wallet)

	user, err := s.users.GetOrCreateByWallet(ctx, wallet)
	if err != nil {
		return "", "", fmt.Errorf("resolve user: %w", err)
	}

	nonce, err := generateNonce(s.nonceLength)
	if err != nil {
		return "", "", fmt.Errorf("generate nonce: %w", err)
	}
	user.Nonce = nonce
	if err := s.users.Save(ctx, user); err != nil {
		return "", "", fmt.Errorf("store nonce: %w", err)
	}

	return nonce, AuthMessage(wallet, nonce), nil
}

// VerifySignature checks the personal-message signature over the stored
// nonce, rotates the nonce (single use) and issues a session token.
func (s *AuthService) VerifySignature(ctx context.Context, wallet, signature string) (string, *model.User, error) {
	wallet = strings.ToLower(wallet)

	user, err := s.users.FindByWallet(ctx, wallet)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, apperrors.NewUnauthorizedError("Invalid wallet address")
		}
		return "", nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.Nonce == "" {
		return "", nil, apperrors.NewUnauthorizedError("No pending challenge for this wallet")
	}

	recovered, err := recoverSigner(AuthMessage(wallet, user.Nonce), signature)
	if err != nil || !strings.EqualFold(recovered.Hex(), wallet) {
		return "", nil, apperrors.NewUnauthorizedError("Invalid signature")
	}

	// rotate so the signature cannot be replayed
	nonce, err := generateNonce(s.nonceLength)
	if err != nil {
		return "", nil, fmt.Errorf("rotate nonce: %w", err)
	}
	user.Nonce = nonce
	if err := s.users.Save(ctx, user); err != nil {
		return "", nil, fmt.Errorf("store nonce: %w", err)
	}

	token, err := s.issueToken(wallet)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("unexpected signature length %d", len(sig))
	}
	// wallets emit the legacy 27/28 recovery id
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func (s *AuthService) issueToken(wallet string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   wallet,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ParseToken validates a session token and returns the wallet address it was
// issued for.
func (s *AuthService) ParseToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", apperrors.NewUnauthorizedError("Invalid or expired token")
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperrors.NewUnauthorizedError("Invalid token claims")
	}
	return claims.Subject, nil
}

// CurrentUser resolves the wallet embedded in a validated token.
func (s *AuthService) CurrentUser(ctx context.Context, wallet string) (*model.User, error) {
	user, err := s.users.FindByWallet(ctx, wallet)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewUnauthorizedError("Unknown user")
		}
		return nil, err
	}
	return user, nil
}
