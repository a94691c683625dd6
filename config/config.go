package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN builds the postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host, c.User, c.Password, c.DBName, c.Port, c.SSLMode)
}

// ChainConfig holds blockchain gateway configuration
type ChainConfig struct {
	RPCURL                 string        `mapstructure:"rpc_url"`
	ChainID                int64         `mapstructure:"chain_id"`
	DepositContractAddress string        `mapstructure:"deposit_contract_address"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	ReceiptRetries         uint64        `mapstructure:"receipt_retries"`
	ReceiptRetryInterval   time.Duration `mapstructure:"receipt_retry_interval"`
	// AllowPlainTransfer lets the verifier accept a successful transaction to
	// the deposit contract without a decoded event. Bypasses event-level
	// validation; off unless explicitly enabled.
	AllowPlainTransfer bool `mapstructure:"allow_plain_transfer"`
	// Operator signing key: raw hex, or derived from a BIP-39 mnemonic at
	// m/44'/60'/0'/0/0 when only the mnemonic is set.
	OperatorPrivateKey string `mapstructure:"operator_private_key"`
	OperatorMnemonic   string `mapstructure:"operator_mnemonic"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string        `mapstructure:"jwt_secret"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	APIKeyTTL   time.Duration `mapstructure:"api_key_ttl"`
	NonceLength int           `mapstructure:"nonce_length"`
}

// MarketsConfig holds market data source configuration
type MarketsConfig struct {
	BinanceURL  string        `mapstructure:"binance_url"`
	UpbitURL    string        `mapstructure:"upbit_url"`
	FXRateURL   string        `mapstructure:"fx_rate_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
	QueueSize   int           `mapstructure:"queue_size"`
}

// Config holds configuration for the API server
type Config struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig   `mapstructure:"server"`
	Database   DatabaseConfig `mapstructure:"database"`
	Chain      ChainConfig    `mapstructure:"chain"`
	Auth       AuthConfig     `mapstructure:"auth"`
	Markets    MarketsConfig  `mapstructure:"markets"`
}

// Load reads configuration from the given file (or config.yaml in the usual
// locations) plus HASHSCOPE_-prefixed environment variables.
func Load(configFile string, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)
	v.SetDefault("server.idle_timeout", 60)
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("chain.rpc_url", "https://mainnet.hsk.xyz")
	v.SetDefault("chain.chain_id", 177)
	v.SetDefault("chain.request_timeout", "10s")
	v.SetDefault("chain.receipt_retries", 3)
	v.SetDefault("chain.receipt_retry_interval", "2s")
	v.SetDefault("chain.allow_plain_transfer", false)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.api_key_ttl", "8760h") // 365 days
	v.SetDefault("auth.nonce_length", 32)
	v.SetDefault("markets.binance_url", "https://api.binance.com")
	v.SetDefault("markets.upbit_url", "https://api.upbit.com")
	v.SetDefault("markets.fx_rate_url", "https://open.er-api.com/v6/latest/USD")
	v.SetDefault("markets.http_timeout", "10s")
	v.SetDefault("markets.pool_size", 8)
	v.SetDefault("markets.queue_size", 64)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Chain.DepositContractAddress == "" {
		return nil, fmt.Errorf("chain.deposit_contract_address is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	return &cfg, nil
}

// configureViper returns a viper instance with the config file and environment
// variables set
func configureViper(configFile string, envPath string) *viper.Viper {
	v := viper.New()

	if envPath != "" {
		// Missing .env is fine; env vars may come from the environment itself
		_ = godotenv.Load(envPath)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("HASHSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to struct fields when no config file
// exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"chain.rpc_url",
		"chain.chain_id",
		"chain.deposit_contract_address",
		"chain.request_timeout",
		"chain.receipt_retries",
		"chain.receipt_retry_interval",
		"chain.allow_plain_transfer",
		"chain.operator_private_key",
		"chain.operator_mnemonic",
		"auth.jwt_secret",
		"auth.token_ttl",
		"auth.api_key_ttl",
		"auth.nonce_length",
		"markets.binance_url",
		"markets.upbit_url",
		"markets.fx_rate_url",
		"markets.http_timeout",
		"markets.pool_size",
		"markets.queue_size",
	}
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}
