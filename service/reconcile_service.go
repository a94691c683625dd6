package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/chain"
	"github.com/hashscope/backend/logger"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
)

// TxVerifier abstracts the chain verifier for testing.
type TxVerifier interface {
	Verify(ctx context.Context, txHash common.Hash, expectedWallet string, expectedAmount *big.Int, eventName string) (chain.Result, error)
}

// ReconcileRequest describes one notify call routed into the service.
type ReconcileRequest struct {
	TxHash         string
	Wallet         string
	ExpectedAmount *big.Int // nil skips the amount check
	Direction      model.Direction
	ActorIsAdmin   bool
}

// ReconcileResult reports the ledger outcome for a tx hash.
type ReconcileResult struct {
	TxHash           string          `json:"tx_hash"`
	Status           string          `json:"status"`
	Direction        model.Direction `json:"direction"`
	Amount           string          `json:"amount,omitempty"` // wei, unsigned
	Reason           string          `json:"reason,omitempty"`
	NewBalance       string          `json:"new_balance,omitempty"` // wei
	AlreadyProcessed bool            `json:"already_processed"`
}

// ReconcileService is the only writer of ledger balances. It bridges the
// off-chain ledger with the on-chain deposit contract: notify → verify →
// record → credit/debit, idempotent per tx hash.
type ReconcileService struct {
	db           *gorm.DB
	users        *repository.UserRepository
	transactions *repository.TransactionRepository
	verifier     TxVerifier
}

func NewReconcileService(db *gorm.DB, users *repository.UserRepository, transactions *repository.TransactionRepository, verifier TxVerifier) *ReconcileService {
	return &ReconcileService{
		db:           db,
		users:        users,
		transactions: transactions,
		verifier:     verifier,
	}
}

// canonicalTxHash rejects anything that is not a 0x-prefixed 32-byte hex
// string and normalizes the accepted form. common.HexToHash alone would
// decode case-insensitively and left-pad short input, letting `0xABC…` and
// `0xabc…` reserve two ledger rows for one on-chain transaction.
func canonicalTxHash(raw string) (common.Hash, error) {
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, apperrors.NewValidationError("transaction hash must be a 0x-prefixed 32-byte hex string")
	}
	return common.BytesToHash(b), nil
}

func eventNameFor(direction model.Direction) (string, error) {
	switch direction {
	case model.DirectionDeposit:
		return chain.EventDeposit, nil
	case model.DirectionWithdraw:
		return chain.EventWithdraw, nil
	case model.DirectionUsageDeduction:
		return chain.EventUsageDeduction, nil
	default:
		return "", fmt.Errorf("unknown direction %q", direction)
	}
}

// Reconcile settles one transaction hash against the ledger.
//
// Terminal entries short-circuit without re-verifying or touching the chain.
// Otherwise the hash is reserved as pending before verification so that
// concurrent duplicate notifications serialize on the tx_hash unique index,
// then the verifier outcome is recorded: failed with reason, or completed with
// the signed amount applied to the user balance in the same transaction.
func (s *ReconcileService) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	eventName, err := eventNameFor(req.Direction)
	if err != nil {
		return nil, apperrors.NewBadRequestError(err.Error())
	}
	if req.Direction != model.DirectionDeposit && !req.ActorIsAdmin {
		return nil, apperrors.NewForbiddenError("withdrawals and usage deductions require administrative privilege")
	}
	txHash, err := canonicalTxHash(req.TxHash)
	if err != nil {
		return nil, err
	}
	req.TxHash = txHash.Hex()
	req.Wallet = strings.ToLower(req.Wallet)

	// Idempotence gate
	entry, err := s.transactions.FindByHash(ctx, req.TxHash)
	switch {
	case err == nil:
		if entry.Terminal() {
			logger.Debug("tx already settled, returning stored outcome",
				zap.String("tx_hash", req.TxHash),
				zap.String("status", entry.Status))
			return storedResult(entry), nil
		}
		// A pending entry may only be finalized under the wallet and
		// direction it was reserved for; otherwise a stranger's deposit
		// notify could terminally fail an operator withdraw reservation.
		if entry.Direction != req.Direction {
			return nil, apperrors.NewBadRequestError(
				fmt.Sprintf("transaction %s is already reserved as a %s", req.TxHash, entry.Direction))
		}
		owner, oerr := s.users.FindByID(ctx, entry.UserID)
		if oerr != nil {
			return nil, fmt.Errorf("resolve owner of tx %s: %w", req.TxHash, oerr)
		}
		if !strings.EqualFold(owner.WalletAddress, req.Wallet) {
			return nil, apperrors.NewBadRequestError(
				fmt.Sprintf("transaction %s is already reserved by another wallet", req.TxHash))
		}
		// same reservation; fall through and finalize
	case errors.Is(err, gorm.ErrRecordNotFound):
		user, uerr := s.users.GetOrCreateByWallet(ctx, req.Wallet)
		if uerr != nil {
			return nil, fmt.Errorf("resolve user %s: %w", req.Wallet, uerr)
		}
		entry = &model.Transaction{
			UserID:    user.ID,
			TxHash:    req.TxHash,
			Direction: req.Direction,
		}
		if cerr := s.transactions.CreatePending(ctx, entry); cerr != nil {
			if errors.Is(cerr, gorm.ErrDuplicatedKey) {
				// concurrent notification won the reservation
				return s.duplicateResult(ctx, req.TxHash)
			}
			return nil, fmt.Errorf("reserve tx %s: %w", req.TxHash, cerr)
		}
	default:
		return nil, fmt.Errorf("lookup tx %s: %w", req.TxHash, err)
	}

	verdict, err := s.verifier.Verify(ctx, txHash, req.Wallet, req.ExpectedAmount, eventName)
	if err != nil {
		// connectivity failure: entry stays pending, caller retries
		return nil, err
	}

	if verdict.Pending {
		return &ReconcileResult{
			TxHash:    req.TxHash,
			Status:    model.StatusPending,
			Direction: req.Direction,
			Reason:    verdict.Reason,
		}, nil
	}

	if !verdict.Verified {
		if err := s.markFailed(ctx, entry, verdict.Reason); err != nil {
			return nil, err
		}
		logger.Warn("transaction verification failed",
			zap.String("tx_hash", req.TxHash),
			zap.String("reason", verdict.Reason))
		return &ReconcileResult{
			TxHash:    req.TxHash,
			Status:    model.StatusFailed,
			Direction: req.Direction,
			Reason:    verdict.Reason,
		}, nil
	}

	newBalance, err := s.complete(ctx, entry, req.Direction, verdict.Amount)
	if err != nil {
		return nil, err
	}

	logger.Info("transaction reconciled",
		zap.String("tx_hash", req.TxHash),
		zap.String("direction", string(req.Direction)),
		zap.String("amount", verdict.Amount.String()))

	return &ReconcileResult{
		TxHash:     req.TxHash,
		Status:     model.StatusCompleted,
		Direction:  req.Direction,
		Amount:     verdict.Amount.String(),
		NewBalance: newBalance,
	}, nil
}

func storedResult(entry *model.Transaction) *ReconcileResult {
	amount := new(big.Int).Abs(entry.AmountWei())
	res := &ReconcileResult{
		TxHash:           entry.TxHash,
		Status:           entry.Status,
		Direction:        entry.Direction,
		Reason:           entry.Reason,
		AlreadyProcessed: true,
	}
	if entry.Status == model.StatusCompleted {
		res.Amount = amount.String()
	}
	return res
}

func (s *ReconcileService) duplicateResult(ctx context.Context, txHash string) (*ReconcileResult, error) {
	entry, err := s.transactions.FindByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("lookup duplicate tx %s: %w", txHash, err)
	}
	if entry.Terminal() {
		return storedResult(entry), nil
	}
	return &ReconcileResult{
		TxHash:           txHash,
		Status:           model.StatusPending,
		Direction:        entry.Direction,
		Reason:           "transaction is already being processed",
		AlreadyProcessed: true,
	}, nil
}

func (s *ReconcileService) markFailed(ctx context.Context, entry *model.Transaction, reason string) error {
	result := s.db.WithContext(ctx).Model(&model.Transaction{}).
		Where("id = ? AND status = ?", entry.ID, model.StatusPending).
		Updates(map[string]interface{}{"status": model.StatusFailed, "reason": reason})
	if result.Error != nil {
		return fmt.Errorf("mark tx %s failed: %w", entry.TxHash, result.Error)
	}
	return nil
}

// complete flips the entry to completed and applies the signed amount to the
// user balance atomically: either both happen or neither does. The
// conditional status update guards against a concurrent finalizer, and the
// compare-and-swap on the balance column guards the read-modify-write.
func (s *ReconcileService) complete(ctx context.Context, entry *model.Transaction, direction model.Direction, amount *big.Int) (string, error) {
	signed := direction.Signed(amount)

	var newBalance string
	const attempts = 3
	for i := 0; i < attempts; i++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			flip := tx.Model(&model.Transaction{}).
				Where("id = ? AND status = ?", entry.ID, model.StatusPending).
				Updates(map[string]interface{}{"status": model.StatusCompleted, "amount": signed.String()})
			if flip.Error != nil {
				return flip.Error
			}
			if flip.RowsAffected == 0 {
				// another notification finalized it first
				return errAlreadyFinalized
			}

			var user model.User
			if err := tx.First(&user, entry.UserID).Error; err != nil {
				return err
			}
			updated := new(big.Int).Add(user.BalanceWei(), signed)
			newBalance = updated.String()

			cas := tx.Model(&model.User{}).
				Where("id = ? AND balance = ?", user.ID, user.Balance).
				Update("balance", newBalance)
			if cas.Error != nil {
				return cas.Error
			}
			if cas.RowsAffected == 0 {
				return errBalanceConflict
			}
			return nil
		})

		switch {
		case err == nil:
			return newBalance, nil
		case errors.Is(err, errAlreadyFinalized):
			stored, serr := s.transactions.FindByHash(ctx, entry.TxHash)
			if serr != nil {
				return "", serr
			}
			if stored.Status != model.StatusCompleted {
				return "", fmt.Errorf("tx %s finalized as %s by concurrent writer", entry.TxHash, stored.Status)
			}
			return "", nil
		case errors.Is(err, errBalanceConflict):
			continue
		default:
			return "", fmt.Errorf("complete tx %s: %w", entry.TxHash, err)
		}
	}
	return "", fmt.Errorf("complete tx %s: balance update contention", entry.TxHash)
}

var (
	errAlreadyFinalized = errors.New("entry already finalized")
	errBalanceConflict  = errors.New("balance changed concurrently")
)
