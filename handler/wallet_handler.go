package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/hashscope/backend/middleware"
	"github.com/hashscope/backend/service"
)

type WalletHandler struct {
	svc *service.WalletService
}

func NewWalletHandler(svc *service.WalletService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

// GET /users/me
func (h *WalletHandler) Me(c *gin.Context) {
	user := middleware.CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"wallet_address": user.WalletAddress,
		"balance":        user.Balance,
		"is_admin":       user.IsAdmin,
		"created_at":     user.CreatedAt,
	})
}

// GET /balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	user := middleware.CurrentUser(c)

	info, err := h.svc.Balance(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GET /deposit/info
func (h *WalletHandler) GetDepositInfo(c *gin.Context) {
	user := middleware.CurrentUser(c)

	info, err := h.svc.DepositInfo(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GET /transactions
func (h *WalletHandler) GetHistory(c *gin.Context) {
	user := middleware.CurrentUser(c)
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))

	list, total, err := h.svc.History(c.Request.Context(), user.ID, page, size)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "records": list})
}
