package service

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/hashscope/backend/chain"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
)

// BalanceInfo pairs the off-chain ledger balance with the on-chain deposit
// balance. The contract is the source of truth; the ledger is the spendable
// mirror.
type BalanceInfo struct {
	WalletAddress   string `json:"wallet_address"`
	Balance         string `json:"balance"`         // off-chain, wei
	BalanceTokens   string `json:"balance_tokens"`  // off-chain, display
	OnChainBalance  string `json:"onchain_balance"` // contract, wei
	OnChainTokens   string `json:"onchain_tokens"`  // contract, display
	ContractAddress string `json:"contract_address"`
}

// DepositInfo describes where and how to deposit.
type DepositInfo struct {
	ContractAddress string `json:"contract_address"`
	ChainID         int64  `json:"chain_id"`
	OnChainBalance  string `json:"onchain_balance"`
	OnChainTokens   string `json:"onchain_tokens"`
}

// WalletService serves read-only balance and history views. It never writes
// the ledger; that stays with the reconciliation service.
type WalletService struct {
	transactions *repository.TransactionRepository
	gateway      *chain.Gateway
}

func NewWalletService(transactions *repository.TransactionRepository, gateway *chain.Gateway) *WalletService {
	return &WalletService{transactions: transactions, gateway: gateway}
}

func (s *WalletService) Balance(ctx context.Context, user *model.User) (*BalanceInfo, error) {
	onChain, err := s.gateway.DepositBalance(ctx, common.HexToAddress(user.WalletAddress))
	if err != nil {
		return nil, err
	}
	return &BalanceInfo{
		WalletAddress:   user.WalletAddress,
		Balance:         user.Balance,
		BalanceTokens:   chain.FormatTokens(user.BalanceWei()),
		OnChainBalance:  onChain.String(),
		OnChainTokens:   chain.FormatTokens(onChain),
		ContractAddress: s.gateway.ContractAddress().Hex(),
	}, nil
}

func (s *WalletService) DepositInfo(ctx context.Context, user *model.User) (*DepositInfo, error) {
	onChain, err := s.gateway.DepositBalance(ctx, common.HexToAddress(user.WalletAddress))
	if err != nil {
		return nil, err
	}
	return &DepositInfo{
		ContractAddress: s.gateway.ContractAddress().Hex(),
		ChainID:         s.gateway.ChainID().Int64(),
		OnChainBalance:  onChain.String(),
		OnChainTokens:   chain.FormatTokens(onChain),
	}, nil
}

func (s *WalletService) History(ctx context.Context, userID uint, page, size int) ([]*model.Transaction, int64, error) {
	return s.transactions.ListByUser(ctx, userID, page, size)
}
