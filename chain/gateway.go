package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/logger"
)

// EthClient is the subset of ethclient.Client the gateway needs; narrowed for
// test fakes.
type EthClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Config holds gateway parameters resolved from configuration.
type Config struct {
	ContractAddress      common.Address
	ChainID              *big.Int
	RequestTimeout       time.Duration
	ReceiptRetries       uint64
	ReceiptRetryInterval time.Duration
	AllowPlainTransfer   bool
}

// SigningError marks malformed transaction data or an unusable key.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return "signing failed: " + e.Err.Error() }
func (e *SigningError) Unwrap() error { return e.Err }

// BroadcastError marks a network-side rejection of a signed transaction.
type BroadcastError struct {
	Err error
}

func (e *BroadcastError) Error() string { return "broadcast failed: " + e.Err.Error() }
func (e *BroadcastError) Unwrap() error { return e.Err }

// Event is a decoded deposit-contract log.
type Event struct {
	Name      string
	User      common.Address
	Amount    *big.Int
	Recipient common.Address
}

// Gateway is a thin adapter over a JSON-RPC endpoint and the deposit
// contract. Constructed once in main and injected; no package-level handles.
type Gateway struct {
	client   EthClient
	cfg      Config
	contract abi.ABI
}

func NewGateway(client EthClient, cfg Config) *Gateway {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Gateway{
		client:   client,
		cfg:      cfg,
		contract: mustDepositABI(),
	}
}

// ContractAddress returns the configured deposit contract address.
func (g *Gateway) ContractAddress() common.Address {
	return g.cfg.ContractAddress
}

// ChainID returns the configured chain id.
func (g *Gateway) ChainID() *big.Int {
	return new(big.Int).Set(g.cfg.ChainID)
}

func (g *Gateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.cfg.RequestTimeout)
}

// isRPCError reports whether the node answered with a JSON-RPC level error.
// Anything else (transport failure, timeout) means the endpoint itself was
// unreachable.
func isRPCError(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// DepositBalance reads the contract's recorded balance for an address, in
// base units. RPC-level read errors (including a never-deposited address)
// resolve to zero; transport failures surface as ErrChainUnavailable.
func (g *Gateway) DepositBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	data, err := g.contract.Pack("getBalance", addr)
	if err != nil {
		return nil, fmt.Errorf("pack getBalance: %w", err)
	}

	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	out, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.cfg.ContractAddress, Data: data}, nil)
	if err != nil {
		if isRPCError(err) {
			logger.Warn("deposit balance read failed, treating as zero",
				zap.String("address", addr.Hex()), zap.Error(err))
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChainUnavailable, err)
	}

	results, err := g.contract.Unpack("getBalance", out)
	if err != nil || len(results) != 1 {
		logger.Warn("deposit balance decode failed, treating as zero",
			zap.String("address", addr.Hex()), zap.Error(err))
		return new(big.Int), nil
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return new(big.Int), nil
	}
	return balance, nil
}

// NativeBalance reads the chain-level (not contract-level) balance.
func (g *Gateway) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	balance, err := g.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		if isRPCError(err) {
			logger.Warn("native balance read failed, treating as zero",
				zap.String("address", addr.Hex()), zap.Error(err))
			return new(big.Int), nil
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChainUnavailable, err)
	}
	return balance, nil
}

// TransactionReceipt fetches the receipt for a hash. A nil receipt with nil
// error means not yet mined.
func (g *Gateway) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	receipt, err := g.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChainUnavailable, err)
	}
	return receipt, nil
}

// TransactionByHash fetches the transaction body; nil with nil error when the
// node does not know the hash.
func (g *Gateway) TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	tx, _, err := g.client.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChainUnavailable, err)
	}
	return tx, nil
}

// DecodeEvents parses the named event out of a receipt, scoped to logs the
// deposit contract emitted; logs from other contracts are ignored.
func (g *Gateway) DecodeEvents(receipt *types.Receipt, eventName string) []Event {
	ev, ok := g.contract.Events[eventName]
	if !ok {
		return nil
	}

	var events []Event
	for _, l := range receipt.Logs {
		if l.Address != g.cfg.ContractAddress {
			continue
		}
		if len(l.Topics) < 2 || l.Topics[0] != ev.ID {
			continue
		}

		decoded := Event{
			Name: eventName,
			// user is the single indexed field on every settlement event
			User: common.BytesToAddress(l.Topics[1].Bytes()[12:]),
		}

		values, err := ev.Inputs.NonIndexed().Unpack(l.Data)
		if err != nil || len(values) == 0 {
			logger.Warn("event data decode failed",
				zap.String("event", eventName),
				zap.String("tx_hash", l.TxHash.Hex()),
				zap.Error(err))
			continue
		}
		amount, ok := values[0].(*big.Int)
		if !ok {
			continue
		}
		decoded.Amount = amount
		if eventName == EventUsageDeduction && len(values) > 1 {
			if recipient, ok := values[1].(common.Address); ok {
				decoded.Recipient = recipient
			}
		}
		events = append(events, decoded)
	}
	return events
}

// PackCall ABI-encodes a call to a deposit-contract method.
func (g *Gateway) PackCall(method string, args ...interface{}) ([]byte, error) {
	data, err := g.contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	return data, nil
}

// BuildTransaction is pure construction; no network side effect.
func (g *Gateway) BuildTransaction(nonce uint64, to common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte) *types.Transaction {
	return types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
}

// SignAndSubmit signs locally and broadcasts. The key is used transiently and
// never retained or logged.
func (g *Gateway) SignAndSubmit(ctx context.Context, key *ecdsa.PrivateKey, tx *types.Transaction) (common.Hash, error) {
	if key == nil {
		return common.Hash{}, &SigningError{Err: errors.New("no signing key configured")}
	}

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.cfg.ChainID), key)
	if err != nil {
		return common.Hash{}, &SigningError{Err: err}
	}

	ctx, cancel := g.callCtx(ctx)
	defer cancel()
	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, &BroadcastError{Err: err}
	}
	return signedTx.Hash(), nil
}

// PendingNonce returns the next nonce for an account.
func (g *Gateway) PendingNonce(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	nonce, err := g.client.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperrors.ErrChainUnavailable, err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the node's gas price estimate.
func (g *Gateway) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := g.callCtx(ctx)
	defer cancel()

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrChainUnavailable, err)
	}
	return gasPrice, nil
}

// Sender recovers the signer of a transaction.
func (g *Gateway) Sender(tx *types.Transaction) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(g.cfg.ChainID), tx)
}

// SameAddress compares two hex addresses case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(a, b)
}
