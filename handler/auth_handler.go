package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/service"
)

type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type nonceRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
}

type verifyRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	Signature     string `json:"signature" binding:"required"`
}

// POST /auth/nonce
func (h *AuthHandler) Nonce(c *gin.Context) {
	var req nonceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	nonce, message, err := h.auth.NonceChallenge(c.Request.Context(), req.WalletAddress)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet_address": req.WalletAddress,
		"nonce":          nonce,
		"message":        message,
	})
}

// POST /auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	token, user, err := h.auth.VerifySignature(c.Request.Context(), req.WalletAddress, req.Signature)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":   token,
		"token_type":     "bearer",
		"wallet_address": user.WalletAddress,
	})
}
