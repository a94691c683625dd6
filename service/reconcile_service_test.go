package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/chain"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
)

const testWallet = "0x1111111111111111111111111111111111111111"

var fiveTokens, _ = new(big.Int).SetString("5000000000000000000", 10)

// testTxHash widens a short hex suffix into a canonical 32-byte hash string.
func testTxHash(suffix string) string {
	return "0x" + strings.Repeat("0", 64-len(suffix)) + suffix
}

// stubVerifier counts calls so tests can assert the idempotence gate never
// contacts the chain.
type stubVerifier struct {
	result chain.Result
	err    error
	calls  int
}

func (s *stubVerifier) Verify(context.Context, common.Hash, string, *big.Int, string) (chain.Result, error) {
	s.calls++
	return s.result, s.err
}

func newReconciler(t *testing.T, db *gorm.DB, verifier *stubVerifier) *ReconcileService {
	t.Helper()
	return NewReconcileService(db,
		repository.NewUserRepository(db),
		repository.NewTransactionRepository(db),
		verifier)
}

func userBalance(t *testing.T, db *gorm.DB, wallet string) string {
	t.Helper()
	var user model.User
	require.NoError(t, db.Where("wallet_address = ?", wallet).First(&user).Error)
	return user.Balance
}

func TestReconcileVerifiedDepositCreditsBalance(t *testing.T) {
	db := testDB(t)
	verifier := &stubVerifier{result: chain.Result{Verified: true, Amount: fiveTokens}}
	svc := newReconciler(t, db, verifier)

	result, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash:         testTxHash("abc"),
		Wallet:         testWallet,
		ExpectedAmount: fiveTokens,
		Direction:      model.DirectionDeposit,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, fiveTokens.String(), result.Amount)
	assert.Equal(t, fiveTokens.String(), result.NewBalance)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, fiveTokens.String(), userBalance(t, db, testWallet))

	var entry model.Transaction
	require.NoError(t, db.Where("tx_hash = ?", testTxHash("abc")).First(&entry).Error)
	assert.Equal(t, model.StatusCompleted, entry.Status)
	assert.Equal(t, fiveTokens.String(), entry.Amount)
}

func TestReconcileSecondCallIsIdempotent(t *testing.T) {
	db := testDB(t)
	verifier := &stubVerifier{result: chain.Result{Verified: true, Amount: fiveTokens}}
	svc := newReconciler(t, db, verifier)

	_, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("abc"), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)
	require.Equal(t, 1, verifier.calls)

	second, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("abc"), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)

	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, model.StatusCompleted, second.Status)
	assert.Equal(t, fiveTokens.String(), second.Amount)
	assert.Equal(t, 1, verifier.calls, "terminal entry must not be re-verified")
	assert.Equal(t, fiveTokens.String(), userBalance(t, db, testWallet), "balance applied exactly once")
}

func TestReconcileFailedVerificationRecordsReason(t *testing.T) {
	db := testDB(t)
	verifier := &stubVerifier{result: chain.Result{Reason: "transaction failed or not found"}}
	svc := newReconciler(t, db, verifier)

	result, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("dead"), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, "transaction failed or not found", result.Reason)
	assert.Equal(t, "0", userBalance(t, db, testWallet))

	// failed is terminal: a retry returns the stored outcome
	retry, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("dead"), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)
	assert.True(t, retry.AlreadyProcessed)
	assert.Equal(t, model.StatusFailed, retry.Status)
	assert.Equal(t, 1, verifier.calls)
}

func TestReconcileWithdrawRequiresAdmin(t *testing.T) {
	db := testDB(t)
	verifier := &stubVerifier{result: chain.Result{Verified: true, Amount: fiveTokens}}
	svc := newReconciler(t, db, verifier)

	_, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("e1"), Wallet: testWallet, Direction: model.DirectionWithdraw,
	})
	require.Error(t, err)

	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodeForbidden, apiErr.Code)
	assert.Equal(t, 0, verifier.calls, "authorization is checked before verification")
}

func TestReconcileWithdrawDebitsBalance(t *testing.T) {
	db := testDB(t)
	createUser(t, db, testWallet, fiveTokens.String(), false)
	two, _ := new(big.Int).SetString("2000000000000000000", 10)
	verifier := &stubVerifier{result: chain.Result{Verified: true, Amount: two}}
	svc := newReconciler(t, db, verifier)

	result, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash:       testTxHash("e2"),
		Wallet:       testWallet,
		Direction:    model.DirectionWithdraw,
		ActorIsAdmin: true,
	})
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, result.Status)
	assert.Equal(t, "3000000000000000000", result.NewBalance)
	assert.Equal(t, "3000000000000000000", userBalance(t, db, testWallet))

	var entry model.Transaction
	require.NoError(t, db.Where("tx_hash = ?", testTxHash("e2")).First(&entry).Error)
	assert.Equal(t, "-2000000000000000000", entry.Amount, "debits are stored signed")
}

func TestReconcilePendingStaysOpen(t *testing.T) {
	db := testDB(t)
	verifier := &stubVerifier{result: chain.Result{Pending: true, Reason: "transaction not yet mined"}}
	svc := newReconciler(t, db, verifier)

	result, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("b1"), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, result.Status)

	// the entry is not terminal, so a later notify re-verifies and can settle
	verifier.result = chain.Result{Verified: true, Amount: fiveTokens}
	settled, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("b1"), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, settled.Status)
	assert.Equal(t, 2, verifier.calls)
}

func TestReconcileConnectivityErrorLeavesEntryPending(t *testing.T) {
	db := testDB(t)
	verifier := &stubVerifier{err: errors.New("fetch receipt: chain unavailable")}
	svc := newReconciler(t, db, verifier)

	_, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("c1"), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.Error(t, err)

	var entry model.Transaction
	require.NoError(t, db.Where("tx_hash = ?", testTxHash("c1")).First(&entry).Error)
	assert.Equal(t, model.StatusPending, entry.Status)
	assert.Equal(t, "0", userBalance(t, db, testWallet))
}

func TestReconcileUnknownDirection(t *testing.T) {
	svc := newReconciler(t, testDB(t), &stubVerifier{})

	_, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: testTxHash("d1"), Wallet: testWallet, Direction: model.Direction("refund"),
	})
	require.Error(t, err)
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodeBadRequest, apiErr.Code)
}

func TestReconcileHashCaseAliasDoesNotDoubleCredit(t *testing.T) {
	db := testDB(t)
	verifier := &stubVerifier{result: chain.Result{Verified: true, Amount: fiveTokens}}
	svc := newReconciler(t, db, verifier)

	lower := testTxHash("5e11")
	first, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: lower, Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, first.Status)

	// same on-chain transaction, upper-cased hex digits
	second, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: "0x" + strings.ToUpper(lower[2:]), Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.NoError(t, err)

	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, 1, verifier.calls, "case alias must hit the idempotence gate")
	assert.Equal(t, fiveTokens.String(), userBalance(t, db, testWallet), "balance credited exactly once")

	var count int64
	require.NoError(t, db.Model(&model.Transaction{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "one ledger row per transaction hash")
}

func TestReconcileRejectsMalformedHash(t *testing.T) {
	db := testDB(t)
	svc := newReconciler(t, db, &stubVerifier{})

	for _, hash := range []string{"", "abc", "0xabc", testTxHash("ff")[2:], "0x" + strings.Repeat("zz", 32)} {
		_, err := svc.Reconcile(context.Background(), ReconcileRequest{
			TxHash: hash, Wallet: testWallet, Direction: model.DirectionDeposit,
		})
		require.Error(t, err, "hash %q", hash)
		var apiErr *apperrors.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, apperrors.ErrCodeValidationFailed, apiErr.Code, "hash %q", hash)
	}

	var count int64
	require.NoError(t, db.Model(&model.Transaction{}).Count(&count).Error)
	assert.EqualValues(t, 0, count, "malformed hashes must not reserve ledger rows")
}

func TestReconcileMismatchedNotifyCannotTouchReservation(t *testing.T) {
	db := testDB(t)
	admin := createUser(t, db, "0x9999999999999999999999999999999999999999", "0", true)
	verifier := &stubVerifier{result: chain.Result{Reason: "no Deposit event found in transaction"}}
	svc := newReconciler(t, db, verifier)

	// pending withdraw reservation, as written when an operator debit broadcasts
	withdrawHash := testTxHash("77")
	require.NoError(t, db.Create(&model.Transaction{
		UserID:    admin.ID,
		TxHash:    withdrawHash,
		Direction: model.DirectionWithdraw,
		Status:    model.StatusPending,
	}).Error)

	// a stranger notifying the same hash as a deposit must not finalize it
	_, err := svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: withdrawHash, Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.Error(t, err)
	var apiErr *apperrors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodeBadRequest, apiErr.Code)

	// matching direction but a different wallet is rejected the same way
	depositHash := testTxHash("78")
	require.NoError(t, db.Create(&model.Transaction{
		UserID:    admin.ID,
		TxHash:    depositHash,
		Direction: model.DirectionDeposit,
		Status:    model.StatusPending,
	}).Error)
	_, err = svc.Reconcile(context.Background(), ReconcileRequest{
		TxHash: depositHash, Wallet: testWallet, Direction: model.DirectionDeposit,
	})
	require.Error(t, err)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apperrors.ErrCodeBadRequest, apiErr.Code)

	assert.Equal(t, 0, verifier.calls, "mismatched notifies must never reach the verifier")
	var entry model.Transaction
	require.NoError(t, db.Where("tx_hash = ?", withdrawHash).First(&entry).Error)
	assert.Equal(t, model.StatusPending, entry.Status, "the reservation stays open for its owner")
}
