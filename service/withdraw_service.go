package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/chain"
	"github.com/hashscope/backend/logger"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
)

const debitGasLimit = uint64(120000)

// DebitRequest is an operator-initiated withdrawal or usage deduction.
type DebitRequest struct {
	Wallet    string
	Amount    *big.Int
	Direction model.Direction
	Recipient string // usage deductions only
}

// DebitReceipt reports a broadcast debit awaiting on-chain settlement.
type DebitReceipt struct {
	TxHash    string          `json:"tx_hash"`
	Direction model.Direction `json:"direction"`
	Amount    string          `json:"amount"`
	Status    string          `json:"status"`
}

// WithdrawService submits operator-signed debit transactions against the
// deposit contract. It records a pending ledger entry keyed by the broadcast
// hash; the notify flow settles it once mined. The ledger balance is not
// touched here.
type WithdrawService struct {
	users        *repository.UserRepository
	transactions *repository.TransactionRepository
	gateway      *chain.Gateway
	operatorKey  *ecdsa.PrivateKey
}

func NewWithdrawService(users *repository.UserRepository, transactions *repository.TransactionRepository, gateway *chain.Gateway, operatorKey *ecdsa.PrivateKey) *WithdrawService {
	return &WithdrawService{
		users:        users,
		transactions: transactions,
		gateway:      gateway,
		operatorKey:  operatorKey,
	}
}

// RequestDebit pre-checks the request against the on-chain deposit balance
// (advisory only; the notify step's verification is final), then builds,
// signs and broadcasts the contract call.
func (s *WithdrawService) RequestDebit(ctx context.Context, actor *model.User, req DebitRequest) (*DebitReceipt, error) {
	if !actor.IsAdmin {
		return nil, apperrors.NewForbiddenError("withdrawals and usage deductions require administrative privilege")
	}
	if s.operatorKey == nil {
		return nil, apperrors.NewInternalError("No operator signing key configured")
	}
	if !common.IsHexAddress(req.Wallet) {
		return nil, apperrors.NewValidationError("invalid wallet address")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, apperrors.NewValidationError("amount must be positive")
	}

	wallet := common.HexToAddress(req.Wallet)
	deposited, err := s.gateway.DepositBalance(ctx, wallet)
	if err != nil {
		return nil, err
	}
	if deposited.Cmp(req.Amount) < 0 {
		return nil, apperrors.NewInsufficientBalanceError(
			"Requested amount exceeds on-chain deposit balance",
			fmt.Sprintf("deposited %s, requested %s", deposited.String(), req.Amount.String()))
	}

	var data []byte
	switch req.Direction {
	case model.DirectionWithdraw:
		data, err = s.gateway.PackCall("withdraw", wallet, req.Amount)
	case model.DirectionUsageDeduction:
		if !common.IsHexAddress(req.Recipient) {
			return nil, apperrors.NewValidationError("invalid recipient address")
		}
		data, err = s.gateway.PackCall("deductUsage", wallet, req.Amount, common.HexToAddress(req.Recipient))
	default:
		return nil, apperrors.NewValidationError("direction must be withdraw or usage_deduction")
	}
	if err != nil {
		return nil, err
	}

	operator := crypto.PubkeyToAddress(s.operatorKey.PublicKey)
	nonce, err := s.gateway.PendingNonce(ctx, operator)
	if err != nil {
		return nil, err
	}
	gasPrice, err := s.gateway.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	tx := s.gateway.BuildTransaction(nonce, s.gateway.ContractAddress(), big.NewInt(0), debitGasLimit, gasPrice, data)
	txHash, err := s.gateway.SignAndSubmit(ctx, s.operatorKey, tx)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetOrCreateByWallet(ctx, strings.ToLower(req.Wallet))
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", req.Wallet, err)
	}
	entry := &model.Transaction{
		UserID:    user.ID,
		TxHash:    txHash.Hex(),
		Direction: req.Direction,
		Amount:    req.Direction.Signed(req.Amount).String(),
	}
	if err := s.transactions.CreatePending(ctx, entry); err != nil {
		// the transaction is already on its way; surface the bookkeeping gap
		return nil, fmt.Errorf("record debit %s: %w", txHash.Hex(), err)
	}

	logger.Info("debit transaction broadcast",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("direction", string(req.Direction)),
		zap.String("wallet", user.WalletAddress),
		zap.String("amount", req.Amount.String()))

	return &DebitReceipt{
		TxHash:    txHash.Hex(),
		Direction: req.Direction,
		Amount:    req.Amount.String(),
		Status:    model.StatusPending,
	}, nil
}
