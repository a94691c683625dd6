package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/middleware"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/service"
)

type APIKeyHandler struct {
	keys *service.APIKeyService
}

func NewAPIKeyHandler(keys *service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

type createKeyRequest struct {
	Name               string `json:"name" binding:"required"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
}

func keyView(key *model.APIKey) gin.H {
	return gin.H{
		"key_id":                key.KeyID,
		"name":                  key.Name,
		"is_active":             key.IsActive,
		"rate_limit_per_minute": key.RateLimitPerMinute,
		"call_count":            key.CallCount,
		"last_used_at":          key.LastUsedAt,
		"expires_at":            key.ExpiresAt,
		"created_at":            key.CreatedAt,
	}
}

// POST /api-keys — the secret is returned once and never stored in clear.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.NewValidationError(err.Error()))
		return
	}

	user := middleware.CurrentUser(c)
	key, secret, err := h.keys.Issue(c.Request.Context(), user, req.Name, req.RateLimitPerMinute)
	if err != nil {
		writeError(c, err)
		return
	}

	view := keyView(key)
	view["secret_key"] = secret
	c.JSON(http.StatusCreated, view)
}

// GET /api-keys
func (h *APIKeyHandler) List(c *gin.Context) {
	user := middleware.CurrentUser(c)
	keys, err := h.keys.List(c.Request.Context(), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		views = append(views, keyView(key))
	}
	c.JSON(http.StatusOK, gin.H{"keys": views})
}

// GET /api-keys/:key_id
func (h *APIKeyHandler) Get(c *gin.Context) {
	user := middleware.CurrentUser(c)
	key, err := h.keys.Get(c.Request.Context(), c.Param("key_id"), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, keyView(key))
}

// GET /api-keys/:key_id/usage
func (h *APIKeyHandler) Usage(c *gin.Context) {
	user := middleware.CurrentUser(c)
	key, total, err := h.keys.Usage(c.Request.Context(), c.Param("key_id"), user.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"key_id":       key.KeyID,
		"call_count":   key.CallCount,
		"usage_events": total,
		"last_used_at": key.LastUsedAt,
	})
}

// DELETE /api-keys/:key_id
func (h *APIKeyHandler) Delete(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if err := h.keys.Delete(c.Request.Context(), c.Param("key_id"), user.ID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
