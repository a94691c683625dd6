package router

import (
	"github.com/gin-gonic/gin"

	"github.com/hashscope/backend/handler"
	"github.com/hashscope/backend/middleware"
	"github.com/hashscope/backend/service"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Wallet  *handler.WalletHandler
	Notify  *handler.NotifyHandler
	APIKeys *handler.APIKeyHandler
	Markets *handler.MarketHandler
}

func SetupRouter(h Handlers, auth *service.AuthService, keys *service.APIKeyService) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.SetupCORS())

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/nonce", h.Auth.Nonce)
		authGroup.POST("/verify", h.Auth.Verify)
	}

	jwtAuth := middleware.JWTAuth(auth)

	users := r.Group("/users", jwtAuth)
	{
		users.GET("/me", h.Wallet.Me)
	}

	account := r.Group("/", jwtAuth)
	{
		account.GET("/balance", h.Wallet.GetBalance)
		account.GET("/deposit/info", h.Wallet.GetDepositInfo)
		account.GET("/transactions", h.Wallet.GetHistory)

		account.POST("/deposit/notify", h.Notify.NotifyDeposit)
		account.POST("/withdraw/notify", h.Notify.NotifyWithdraw)
		account.POST("/usage/notify", h.Notify.NotifyUsage)
	}

	admin := r.Group("/", jwtAuth, middleware.AdminRequired())
	{
		admin.POST("/withdraw/request", h.Notify.RequestWithdraw)
		admin.POST("/usage/request", h.Notify.RequestUsage)
	}

	apiKeys := r.Group("/api-keys", jwtAuth)
	{
		apiKeys.POST("", h.APIKeys.Create)
		apiKeys.GET("", h.APIKeys.List)
		apiKeys.GET("/:key_id", h.APIKeys.Get)
		apiKeys.GET("/:key_id/usage", h.APIKeys.Usage)
		apiKeys.DELETE("/:key_id", h.APIKeys.Delete)
	}

	crypto := r.Group("/crypto", middleware.APIKeyAuth(keys))
	{
		crypto.GET("/btc/usd", h.Markets.BTCUSD)
		crypto.GET("/btc/krw", h.Markets.BTCKRW)
		crypto.GET("/usdt/krw", h.Markets.USDTKRW)
		crypto.GET("/kimchi-premium", h.Markets.KimchiPremium)
		crypto.GET("/prices", h.Markets.Prices)
	}

	return r
}
