package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/logger"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/service"
)

const (
	// CurrentUserKey is the gin context key holding the authenticated *model.User.
	CurrentUserKey = "current_user"
	// APIKeyKey is the gin context key holding the authenticated *model.APIKey.
	APIKeyKey = "api_key"
)

// JWTAuth validates a Bearer token issued by the wallet-signature login and
// loads the token's user into the request context.
func JWTAuth(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abort(c, apperrors.NewUnauthorizedError("Authentication failed", "missing Authorization header"))
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abort(c, apperrors.NewUnauthorizedError("Authentication failed", "expected Bearer token"))
			return
		}

		wallet, err := auth.ParseToken(parts[1])
		if err != nil {
			logger.Warn("token validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
				zap.String("client_ip", c.ClientIP()))
			abort(c, apperrors.NewUnauthorizedError("Authentication failed", "invalid or expired token"))
			return
		}

		user, err := auth.CurrentUser(c.Request.Context(), wallet)
		if err != nil {
			abort(c, apperrors.NewUnauthorizedError("Authentication failed", "unknown user"))
			return
		}

		c.Set(CurrentUserKey, user)
		c.Next()
	}
}

// APIKeyAuth validates an "ApiKey key_id:secret" Authorization header,
// enforces the key's rate limit and records the call.
func APIKeyAuth(keys *service.APIKeyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "apikey") {
			abort(c, apperrors.NewUnauthorizedError("Authentication failed", "expected ApiKey credentials"))
			return
		}
		keyID, secret, ok := strings.Cut(parts[1], ":")
		if !ok || keyID == "" || secret == "" {
			abort(c, apperrors.NewUnauthorizedError("Authentication failed", "expected key_id:secret credentials"))
			return
		}

		key, err := keys.Authenticate(c.Request.Context(), keyID, secret, c.FullPath(), c.Request.Method)
		if err != nil {
			abort(c, err)
			return
		}

		c.Set(APIKeyKey, key)
		c.Next()
	}
}

// AdminRequired allows only administrator users past. Must run after JWTAuth.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil || !user.IsAdmin {
			abort(c, apperrors.NewForbiddenError("Administrator privilege required"))
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user set by JWTAuth, or nil.
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(CurrentUserKey)
	if !ok {
		return nil
	}
	user, _ := v.(*model.User)
	return user
}

// CurrentAPIKey returns the key set by APIKeyAuth, or nil.
func CurrentAPIKey(c *gin.Context) *model.APIKey {
	v, ok := c.Get(APIKeyKey)
	if !ok {
		return nil
	}
	key, _ := v.(*model.APIKey)
	return key
}

func abort(c *gin.Context, err error) {
	if apiErr, ok := err.(*apperrors.APIError); ok {
		c.AbortWithStatusJSON(apiErr.Status(), apiErr)
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.NewUnauthorizedError("Authentication failed"))
}
