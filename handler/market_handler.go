package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hashscope/backend/service"
)

type MarketHandler struct {
	markets *service.MarketService
}

func NewMarketHandler(markets *service.MarketService) *MarketHandler {
	return &MarketHandler{markets: markets}
}

func quote(price float64, currency string) service.PriceQuote {
	return service.PriceQuote{Price: price, Currency: currency, Timestamp: time.Now().UTC()}
}

// GET /crypto/btc/usd
func (h *MarketHandler) BTCUSD(c *gin.Context) {
	price, err := h.markets.BinancePrice(c.Request.Context(), "BTCUSDT")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote(price, "USD"))
}

// GET /crypto/btc/krw
func (h *MarketHandler) BTCKRW(c *gin.Context) {
	price, err := h.markets.UpbitPrice(c.Request.Context(), "KRW-BTC")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote(price, "KRW"))
}

// GET /crypto/usdt/krw
func (h *MarketHandler) USDTKRW(c *gin.Context) {
	price, err := h.markets.UpbitPrice(c.Request.Context(), "KRW-USDT")
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote(price, "KRW"))
}

// GET /crypto/kimchi-premium
func (h *MarketHandler) KimchiPremium(c *gin.Context) {
	premium, err := h.markets.KimchiPremium(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, premium)
}

// GET /crypto/prices
func (h *MarketHandler) Prices(c *gin.Context) {
	prices, err := h.markets.Prices(c.Request.Context(), service.DefaultSymbols)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, prices)
}
