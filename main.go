package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/hashscope/backend/chain"
	"github.com/hashscope/backend/config"
	"github.com/hashscope/backend/handler"
	"github.com/hashscope/backend/logger"
	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
	"github.com/hashscope/backend/router"
	"github.com/hashscope/backend/service"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	envFile := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	cfg, err := config.Load(*configFile, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(logger.Config{Debug: cfg.Debug}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := initDB(cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}

	ethClient, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		logger.Fatal("failed to dial chain rpc", zap.Error(err), zap.String("rpc_url", cfg.Chain.RPCURL))
	}
	defer ethClient.Close()

	gateway := chain.NewGateway(ethClient, chain.Config{
		ContractAddress:      common.HexToAddress(cfg.Chain.DepositContractAddress),
		ChainID:              big.NewInt(cfg.Chain.ChainID),
		RequestTimeout:       cfg.Chain.RequestTimeout,
		ReceiptRetries:       cfg.Chain.ReceiptRetries,
		ReceiptRetryInterval: cfg.Chain.ReceiptRetryInterval,
		AllowPlainTransfer:   cfg.Chain.AllowPlainTransfer,
	})
	verifier := chain.NewVerifier(gateway)

	operatorKey, err := chain.LoadOperatorKey(cfg.Chain.OperatorPrivateKey, cfg.Chain.OperatorMnemonic)
	if err != nil {
		logger.Fatal("failed to load operator key", zap.Error(err))
	}
	if operatorKey == nil {
		logger.Warn("no operator key configured, withdraw/usage requests disabled")
	}

	users := repository.NewUserRepository(db)
	transactions := repository.NewTransactionRepository(db)
	apiKeys := repository.NewAPIKeyRepository(db)

	authSvc := service.NewAuthService(users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.NonceLength)
	keySvc := service.NewAPIKeyService(apiKeys, cfg.Auth.APIKeyTTL)
	walletSvc := service.NewWalletService(transactions, gateway)
	reconcileSvc := service.NewReconcileService(db, users, transactions, verifier)
	withdrawSvc := service.NewWithdrawService(users, transactions, gateway, operatorKey)
	marketSvc := service.NewMarketService(service.NewHTTPClient(cfg.Markets.HTTPTimeout), cfg.Markets)
	defer marketSvc.Stop()

	r := router.SetupRouter(router.Handlers{
		Auth:    handler.NewAuthHandler(authSvc),
		Wallet:  handler.NewWalletHandler(walletSvc),
		Notify:  handler.NewNotifyHandler(reconcileSvc, withdrawSvc),
		APIKeys: handler.NewAPIKeyHandler(keySvc),
		Markets: handler.NewMarketHandler(marketSvc),
	}, authSvc, keySvc)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error(err)
	}
}

func initDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	// TranslateError turns unique-constraint violations into
	// gorm.ErrDuplicatedKey, which the reconcile flow depends on.
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := model.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
