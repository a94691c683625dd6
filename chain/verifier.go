package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/hashscope/backend/logger"
)

// Result is the closed verification outcome. Ordinary verification failures
// land here with Verified=false and a human-readable Reason; the only error
// returns from Verify are gateway connectivity failures, which callers treat
// as retryable.
type Result struct {
	Verified bool
	// Pending means the receipt is still absent after retries; callers must
	// poll rather than treat it as permanent failure.
	Pending bool
	Amount  *big.Int
	Reason  string
}

func failed(reason string) Result {
	return Result{Reason: reason}
}

// Verifier confirms that a transaction hash settles the expected event for
// the expected actor and amount on the configured deposit contract.
type Verifier struct {
	gateway *Gateway
}

func NewVerifier(gateway *Gateway) *Verifier {
	return &Verifier{gateway: gateway}
}

var errReceiptAbsent = errors.New("receipt not yet available")

// receiptWithRetry polls for the receipt with exponential backoff, retrying
// both connectivity failures and a still-absent receipt. A receipt that is
// still absent once the retries are exhausted reports as (nil, nil): the
// transaction is pending, not failed.
func (v *Verifier) receiptWithRetry(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt

	operation := func() error {
		r, err := v.gateway.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		if r == nil {
			return errReceiptAbsent
		}
		receipt = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = v.gateway.cfg.ReceiptRetryInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = backoff.DefaultInitialInterval
	}
	policy := backoff.WithMaxRetries(backoff.WithContext(b, ctx), v.gateway.cfg.ReceiptRetries)

	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, errReceiptAbsent) {
			return nil, nil
		}
		return nil, err
	}
	return receipt, nil
}

// Verify runs the state machine for one transaction hash:
// mined-success receipts pass through destination, event-presence and
// actor/amount checks; mined-failed and unknown hashes reject; an unmined
// hash reports Pending. expectedAmount nil skips the amount check; any
// supplied amount must match the on-chain amount exactly.
func (v *Verifier) Verify(ctx context.Context, txHash common.Hash, expectedWallet string, expectedAmount *big.Int, eventName string) (Result, error) {
	receipt, err := v.receiptWithRetry(ctx, txHash)
	if err != nil {
		return Result{}, fmt.Errorf("fetch receipt %s: %w", txHash.Hex(), err)
	}
	if receipt == nil {
		return Result{Pending: true, Reason: "transaction not yet mined"}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return failed("transaction failed or not found"), nil
	}

	tx, err := v.gateway.TransactionByHash(ctx, txHash)
	if err != nil {
		return Result{}, fmt.Errorf("fetch transaction %s: %w", txHash.Hex(), err)
	}
	if tx == nil {
		return failed("transaction failed or not found"), nil
	}

	// Destination check: the transaction itself must target the deposit
	// contract, even if matching-shaped events appear in its logs.
	if tx.To() == nil || !SameAddress(tx.To().Hex(), v.gateway.ContractAddress().Hex()) {
		return failed("transaction was not sent to the deposit contract"), nil
	}

	events := v.gateway.DecodeEvents(receipt, eventName)
	if len(events) == 0 {
		return v.plainTransferFallback(txHash, tx, expectedWallet, expectedAmount, eventName)
	}

	event := events[0]
	if !SameAddress(event.User.Hex(), expectedWallet) {
		return failed(fmt.Sprintf("%s was made by a different user", eventName)), nil
	}
	if expectedAmount != nil && event.Amount.Cmp(expectedAmount) != 0 {
		return failed(fmt.Sprintf("%s amount does not match: expected %s, actual %s",
			eventName, expectedAmount.String(), event.Amount.String())), nil
	}

	return Result{Verified: true, Amount: new(big.Int).Set(event.Amount)}, nil
}

// plainTransferFallback interprets a successful transaction to the contract
// as an implicit deposit when no event decodes. It bypasses event-level
// validation, so it only applies when explicitly enabled, and always logs.
func (v *Verifier) plainTransferFallback(txHash common.Hash, tx *types.Transaction, expectedWallet string, expectedAmount *big.Int, eventName string) (Result, error) {
	if !v.gateway.cfg.AllowPlainTransfer || eventName != EventDeposit {
		return failed(fmt.Sprintf("no %s event found in transaction", eventName)), nil
	}

	logger.Warn("accepting plain value transfer without event validation",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("expected_wallet", expectedWallet))

	sender, err := v.gateway.Sender(tx)
	if err != nil {
		return failed("could not recover transaction sender"), nil
	}
	if !SameAddress(sender.Hex(), expectedWallet) {
		return failed("transfer was made by a different user"), nil
	}

	amount := tx.Value()
	if amount.Sign() == 0 {
		return failed(fmt.Sprintf("no %s event found in transaction", eventName)), nil
	}
	if expectedAmount != nil && amount.Cmp(expectedAmount) != 0 {
		return failed(fmt.Sprintf("transfer amount does not match: expected %s, actual %s",
			expectedAmount.String(), amount.String())), nil
	}
	return Result{Verified: true, Amount: new(big.Int).Set(amount)}, nil
}
