package handler

import (
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/chain"
	"github.com/hashscope/backend/middleware"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/service"
)

// NotifyHandler routes transaction notifications and operator debit requests.
type NotifyHandler struct {
	reconcile *service.ReconcileService
	withdraws *service.WithdrawService
}

func NewNotifyHandler(reconcile *service.ReconcileService, withdraws *service.WithdrawService) *NotifyHandler {
	return &NotifyHandler{reconcile: reconcile, withdraws: withdraws}
}

type notifyRequest struct {
	TransactionHash string `json:"transaction_hash" binding:"required"`
	Amount          string `json:"amount"` // tokens, decimal string; empty skips the amount check
}

type debitRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Amount        string `json:"amount" binding:"required"` // tokens, decimal string
	Recipient     string `json:"recipient"`                 // usage deductions only
}

// POST /deposit/notify
func (h *NotifyHandler) NotifyDeposit(c *gin.Context) {
	h.notify(c, model.DirectionDeposit)
}

// POST /withdraw/notify
func (h *NotifyHandler) NotifyWithdraw(c *gin.Context) {
	h.notify(c, model.DirectionWithdraw)
}

// POST /usage/notify
func (h *NotifyHandler) NotifyUsage(c *gin.Context) {
	h.notify(c, model.DirectionUsageDeduction)
}

func (h *NotifyHandler) notify(c *gin.Context, direction model.Direction) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	var expected *big.Int
	if req.Amount != "" {
		wei, ok := chain.ToWei(req.Amount)
		if !ok {
			writeError(c, apperrors.NewValidationError("amount must be a decimal token amount"))
			return
		}
		expected = wei
	}

	user := middleware.CurrentUser(c)
	result, err := h.reconcile.Reconcile(c.Request.Context(), service.ReconcileRequest{
		TxHash:         req.TransactionHash,
		Wallet:         user.WalletAddress,
		ExpectedAmount: expected,
		Direction:      direction,
		ActorIsAdmin:   user.IsAdmin,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	// Failed verification is permanent for this hash: surface it as a 400
	// with the reason. The ledger entry stays recorded as failed.
	if result.Status == model.StatusFailed {
		writeError(c, apperrors.NewVerificationFailedError(result.Reason))
		return
	}
	c.JSON(http.StatusOK, result)
}

// POST /withdraw/request
func (h *NotifyHandler) RequestWithdraw(c *gin.Context) {
	h.debit(c, model.DirectionWithdraw)
}

// POST /usage/request
func (h *NotifyHandler) RequestUsage(c *gin.Context) {
	h.debit(c, model.DirectionUsageDeduction)
}

func (h *NotifyHandler) debit(c *gin.Context, direction model.Direction) {
	var req debitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	wei, ok := chain.ToWei(req.Amount)
	if !ok {
		writeError(c, apperrors.NewValidationError("amount must be a decimal token amount"))
		return
	}

	receipt, err := h.withdraws.RequestDebit(c.Request.Context(), middleware.CurrentUser(c), service.DebitRequest{
		Wallet:    req.WalletAddress,
		Amount:    wei,
		Direction: direction,
		Recipient: req.Recipient,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}
