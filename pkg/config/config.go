// Package config loads the node's layered configuration: built-in
// defaults, then an optional config file, then environment variable
// overrides — using viper instead of the flat godotenv/os.Getenv parsing
// the rest of the pack's simpler tools use, because the key schema here is
// deeply nested (server.*, log.*, blockchain.*, trading.*, risk.*,
// settlement.*).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	ListenAddr      string
	CORSOrigins     []string
	RequestTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type BlockchainConfig struct {
	ChainID           int64
	VerifyingContract string
}

type TradingConfig struct {
	AutoMatching         bool
	Pairs                []PairConfig
	ExpirySweepInterval  time.Duration
	TriggerSweepInterval time.Duration
}

// PairConfig describes one trading pair to register at startup.
type PairConfig struct {
	Symbol      string `mapstructure:"symbol"`
	BaseToken   string `mapstructure:"base_token"`
	QuoteToken  string `mapstructure:"quote_token"`
	TickSize    string `mapstructure:"tick_size"`
	LotSize     string `mapstructure:"lot_size"`
	MinNotional string `mapstructure:"min_notional"`
	MakerFeeBps int64  `mapstructure:"maker_fee_bps"`
	TakerFeeBps int64  `mapstructure:"taker_fee_bps"`
}

type RiskConfig struct {
	MinOrderAmount       string
	MaxOrderAmount       string
	MaxPriceDeviationBps int64
	MaxOpenOrdersPerUser int
	OrdersPerMinute      int
	CancelsPerMinute     int
	MaxSlippageBps       int64
	Blacklist            []string
}

type SettlementConfig struct {
	BatchMaxSize    int
	BatchMaxAge     time.Duration
	GasMultiplier   float64
	MaxRetries      int
	RetryBackoff    time.Duration
}

type StorageConfig struct {
	DataDir string
}

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Blockchain BlockchainConfig
	Trading    TradingConfig
	Risk       RiskConfig
	Settlement SettlementConfig
	Storage    StorageConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.request_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")

	v.SetDefault("blockchain.chain_id", 1337)
	v.SetDefault("blockchain.verifying_contract", "0x0000000000000000000000000000000000000000")

	v.SetDefault("trading.auto_matching", true)
	v.SetDefault("trading.expiry_sweep_interval", "500ms")
	v.SetDefault("trading.trigger_sweep_interval", "500ms")
	v.SetDefault("trading.pairs", []map[string]interface{}{
		{
			"symbol":        "WETH-USDC",
			"base_token":    "0x0000000000000000000000000000000000000001",
			"quote_token":   "0x0000000000000000000000000000000000000002",
			"tick_size":     "0.01",
			"lot_size":      "0.0001",
			"min_notional":  "10",
			"maker_fee_bps": 10,
			"taker_fee_bps": 20,
		},
	})

	v.SetDefault("risk.min_order_amount", "0")
	v.SetDefault("risk.max_order_amount", "0")
	v.SetDefault("risk.max_price_deviation_bps", 1000)
	v.SetDefault("risk.max_open_orders_per_user", 200)
	v.SetDefault("risk.order_rate_per_minute", 300)
	v.SetDefault("risk.cancel_rate_per_minute", 300)
	v.SetDefault("risk.max_slippage_bps", 0)
	v.SetDefault("risk.blacklist", []string{})

	v.SetDefault("settlement.batch_max_size", 100)
	v.SetDefault("settlement.batch_max_age", "2s")
	v.SetDefault("settlement.gas_multiplier", 1.2)
	v.SetDefault("settlement.max_retries", 5)
	v.SetDefault("settlement.retry_backoff", "500ms")

	v.SetDefault("storage.data_dir", "data")
}

// Load reads configFile (if non-empty and present) layered over defaults,
// then applies environment variable overrides of the form
// SECTION_KEY (e.g. RISK_MAX_SLIPPAGE_BPS).
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}

	requestTimeout, err := time.ParseDuration(v.GetString("server.request_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid server.request_timeout: %w", err)
	}
	batchMaxAge, err := time.ParseDuration(v.GetString("settlement.batch_max_age"))
	if err != nil {
		return nil, fmt.Errorf("invalid settlement.batch_max_age: %w", err)
	}
	retryBackoff, err := time.ParseDuration(v.GetString("settlement.retry_backoff"))
	if err != nil {
		return nil, fmt.Errorf("invalid settlement.retry_backoff: %w", err)
	}
	expirySweepInterval, err := time.ParseDuration(v.GetString("trading.expiry_sweep_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid trading.expiry_sweep_interval: %w", err)
	}
	triggerSweepInterval, err := time.ParseDuration(v.GetString("trading.trigger_sweep_interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid trading.trigger_sweep_interval: %w", err)
	}

	var pairs []PairConfig
	if err := v.UnmarshalKey("trading.pairs", &pairs); err != nil {
		return nil, fmt.Errorf("invalid trading.pairs: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			ListenAddr:     v.GetString("server.listen_addr"),
			CORSOrigins:    v.GetStringSlice("server.cors_origins"),
			RequestTimeout: requestTimeout,
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   v.GetString("log.file"),
		},
		Blockchain: BlockchainConfig{
			ChainID:           v.GetInt64("blockchain.chain_id"),
			VerifyingContract: v.GetString("blockchain.verifying_contract"),
		},
		Trading: TradingConfig{
			AutoMatching:         v.GetBool("trading.auto_matching"),
			Pairs:                pairs,
			ExpirySweepInterval:  expirySweepInterval,
			TriggerSweepInterval: triggerSweepInterval,
		},
		Risk: RiskConfig{
			MinOrderAmount:       v.GetString("risk.min_order_amount"),
			MaxOrderAmount:       v.GetString("risk.max_order_amount"),
			MaxPriceDeviationBps: v.GetInt64("risk.max_price_deviation_bps"),
			MaxOpenOrdersPerUser: v.GetInt("risk.max_open_orders_per_user"),
			OrdersPerMinute:      v.GetInt("risk.order_rate_per_minute"),
			CancelsPerMinute:     v.GetInt("risk.cancel_rate_per_minute"),
			MaxSlippageBps:       v.GetInt64("risk.max_slippage_bps"),
			Blacklist:            v.GetStringSlice("risk.blacklist"),
		},
		Settlement: SettlementConfig{
			BatchMaxSize:  v.GetInt("settlement.batch_max_size"),
			BatchMaxAge:   batchMaxAge,
			GasMultiplier: v.GetFloat64("settlement.gas_multiplier"),
			MaxRetries:    v.GetInt("settlement.max_retries"),
			RetryBackoff:  retryBackoff,
		},
		Storage: StorageConfig{
			DataDir: v.GetString("storage.data_dir"),
		},
	}, nil
}

// MustDecimal parses a decimal config string, treating empty as zero.
func MustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
