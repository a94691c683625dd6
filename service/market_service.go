package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/hashscope/backend/apperrors"
	"github.com/hashscope/backend/config"
)

// PriceQuote is a single market price.
type PriceQuote struct {
	Price     float64   `json:"price"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceList holds spot prices for several symbols in one currency.
type PriceList struct {
	Prices    map[string]float64 `json:"prices"`
	Currency  string             `json:"currency"`
	Timestamp time.Time          `json:"timestamp"`
}

// KimchiPremium is the Upbit/Binance BTC spread against the USD/KRW rate.
type KimchiPremium struct {
	PremiumPercentage float64   `json:"premium_percentage"`
	BinancePriceUSD   float64   `json:"binance_price_usd"`
	UpbitPriceKRW     float64   `json:"upbit_price_krw"`
	ExchangeRate      float64   `json:"exchange_rate"`
	Timestamp         time.Time `json:"timestamp"`
}

// MarketService aggregates prices from Binance, Upbit and an FX rate source.
// Multi-source reads fan out over a bounded worker pool.
type MarketService struct {
	http HTTPClient
	cfg  config.MarketsConfig
	pool pond.ResultPool[float64]
}

func NewMarketService(http HTTPClient, cfg config.MarketsConfig) *MarketService {
	return &MarketService{
		http: http,
		cfg:  cfg,
		pool: pond.NewResultPool[float64](cfg.PoolSize, pond.WithQueueSize(cfg.QueueSize)),
	}
}

// Stop drains the worker pool. Call on shutdown.
func (s *MarketService) Stop() {
	s.pool.StopAndWait()
}

// BinancePrice returns the latest trade price for a Binance pair, e.g. BTCUSDT.
func (s *MarketService) BinancePrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/api/v3/trades?symbol=%s&limit=1", s.cfg.BinanceURL, url.QueryEscape(symbol))

	var trades []struct {
		Price string `json:"price"`
	}
	if err := s.http.Get(ctx, endpoint, &trades); err != nil {
		return 0, apperrors.NewChainUnavailableError(fmt.Sprintf("binance %s: %v", symbol, err))
	}
	if len(trades) == 0 {
		return 0, apperrors.NewChainUnavailableError(fmt.Sprintf("binance returned no trades for %s", symbol))
	}
	price, err := strconv.ParseFloat(trades[0].Price, 64)
	if err != nil {
		return 0, apperrors.NewChainUnavailableError(fmt.Sprintf("binance %s: bad price %q", symbol, trades[0].Price))
	}
	return price, nil
}

// UpbitPrice returns the latest trade price for an Upbit market, e.g. KRW-BTC.
func (s *MarketService) UpbitPrice(ctx context.Context, market string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v1/ticker?markets=%s", s.cfg.UpbitURL, url.QueryEscape(market))

	var tickers []struct {
		TradePrice float64 `json:"trade_price"`
	}
	if err := s.http.Get(ctx, endpoint, &tickers); err != nil {
		return 0, apperrors.NewChainUnavailableError(fmt.Sprintf("upbit %s: %v", market, err))
	}
	if len(tickers) == 0 {
		return 0, apperrors.NewChainUnavailableError(fmt.Sprintf("upbit returned no ticker for %s", market))
	}
	return tickers[0].TradePrice, nil
}

// USDKRWRate returns the USD/KRW exchange rate from the configured FX source
// (open.er-api.com response shape).
func (s *MarketService) USDKRWRate(ctx context.Context) (float64, error) {
	var out struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := s.http.Get(ctx, s.cfg.FXRateURL, &out); err != nil {
		return 0, apperrors.NewChainUnavailableError(fmt.Sprintf("fx rate: %v", err))
	}
	rate, ok := out.Rates["KRW"]
	if !ok || rate <= 0 {
		return 0, apperrors.NewChainUnavailableError("fx source returned no KRW rate")
	}
	return rate, nil
}

// KimchiPremium fetches the Binance BTC/USDT price, the Upbit KRW-BTC price
// and the USD/KRW rate concurrently and computes
// (upbit - binance*fx) / (binance*fx) * 100.
func (s *MarketService) KimchiPremium(ctx context.Context) (*KimchiPremium, error) {
	binanceTask := s.pool.SubmitErr(func() (float64, error) {
		return s.BinancePrice(ctx, "BTCUSDT")
	})
	upbitTask := s.pool.SubmitErr(func() (float64, error) {
		return s.UpbitPrice(ctx, "KRW-BTC")
	})
	fxTask := s.pool.SubmitErr(func() (float64, error) {
		return s.USDKRWRate(ctx)
	})

	binancePrice, err := binanceTask.Wait()
	if err != nil {
		return nil, err
	}
	upbitPrice, err := upbitTask.Wait()
	if err != nil {
		return nil, err
	}
	fxRate, err := fxTask.Wait()
	if err != nil {
		return nil, err
	}

	binanceKRW := binancePrice * fxRate
	if binanceKRW == 0 {
		return nil, apperrors.NewChainUnavailableError("zero reference price, cannot compute premium")
	}

	return &KimchiPremium{
		PremiumPercentage: (upbitPrice - binanceKRW) / binanceKRW * 100,
		BinancePriceUSD:   binancePrice,
		UpbitPriceKRW:     upbitPrice,
		ExchangeRate:      fxRate,
		Timestamp:         time.Now().UTC(),
	}, nil
}

// Prices fetches Binance USD prices for the given pairs concurrently. A
// failure on any pair fails the whole aggregate.
func (s *MarketService) Prices(ctx context.Context, symbols map[string]string) (*PriceList, error) {
	tasks := make(map[string]pond.Result[float64], len(symbols))
	for name, pair := range symbols {
		pair := pair
		tasks[name] = s.pool.SubmitErr(func() (float64, error) {
			return s.BinancePrice(ctx, pair)
		})
	}

	prices := make(map[string]float64, len(tasks))
	for name, task := range tasks {
		price, err := task.Wait()
		if err != nil {
			return nil, err
		}
		prices[name] = price
	}

	return &PriceList{
		Prices:    prices,
		Currency:  "USD",
		Timestamp: time.Now().UTC(),
	}, nil
}

// DefaultSymbols is the pair set served by the public price list endpoint.
var DefaultSymbols = map[string]string{
	"BTC": "BTCUSDT",
	"ETH": "ETHUSDT",
	"XRP": "XRPUSDT",
}
