// Package config handles application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines the structure for all application configuration.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Gate       GateConfig       `yaml:"gate"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Trader     TraderConfig     `yaml:"trader"`
	PriceFeed  PriceFeedConfig  `yaml:"price_feed"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	RPC        RPCConfig        `yaml:"rpc"`
	Jupiter    VenueConfig      `yaml:"jupiter"`
	Raydium    VenueConfig      `yaml:"raydium"`
	Database   DatabaseConfig   `yaml:"database"`
	DBWriter   DBWriterConfig   `yaml:"db_writer"`
	Store      StoreConfig      `yaml:"store"`
	Discord    DiscordConfig    `yaml:"discord"`
	Server     ServerConfig     `yaml:"server"`
	Snipe      SnipeConfig      `yaml:"snipe"`
	Secret     string           `yaml:"-"` // BOT_SECRET, never read from file
}

// LedgerConfig tunes the slot window signal engine.
type LedgerConfig struct {
	WindowDepth      int      `yaml:"window_depth"`
	DensityThreshold int      `yaml:"density_threshold"`
	RequiredBits     int      `yaml:"required_bits"`
	MaxFreshAssets   int      `yaml:"max_fresh_assets"`
	SameAuthority    FlexBool `yaml:"same_authority"`
}

// GateConfig holds the decision gate weights.
type GateConfig struct {
	MaskWeight   float64 `yaml:"mask_weight"`
	StrongWeight float64 `yaml:"strong_weight"`
	AuxWeight    float64 `yaml:"aux_weight"`
	Threshold    float64 `yaml:"threshold"`
}

// FeeSplitConfig configures the optional post-buy transfer to a reserve wallet.
type FeeSplitConfig struct {
	Enabled       FlexBool `yaml:"enabled"`
	Percent       float64  `yaml:"percent"`
	ReserveWallet string   `yaml:"reserve_wallet"`
	MinSOLReserve float64  `yaml:"min_sol_reserve"`
}

// ExecutionConfig configures the multi-venue orchestrator.
type ExecutionConfig struct {
	FastPathEnabled      FlexBool       `yaml:"fast_path_enabled"`
	FastPathVenue        string         `yaml:"fast_path_venue"`
	FastPathTimeoutMs    int            `yaml:"fast_path_timeout_ms"`
	PrecheckEnabled      FlexBool       `yaml:"precheck_enabled"`
	PrecheckTimeoutMs    int            `yaml:"precheck_timeout_ms"`
	PrecheckMinOut       uint64         `yaml:"precheck_min_out"`
	SourceTimeoutMs      int            `yaml:"source_timeout_ms"`
	BuySlippageBps       int            `yaml:"buy_slippage_bps"`
	SellSlippageBps      []int          `yaml:"sell_slippage_bps"`
	SellRetrySlippageBps int            `yaml:"sell_retry_slippage_bps"`
	LiveTrades           FlexBool       `yaml:"live_trades"`
	ForceSendOnSimFail   FlexBool       `yaml:"force_send_on_sim_fail"`
	FeeSplit             FeeSplitConfig `yaml:"fee_split"`
}

// FastPathTimeout returns the fast path bound as a duration.
func (c ExecutionConfig) FastPathTimeout() time.Duration {
	return time.Duration(c.FastPathTimeoutMs) * time.Millisecond
}

// PrecheckTimeout returns the precheck bound as a duration.
func (c ExecutionConfig) PrecheckTimeout() time.Duration {
	return time.Duration(c.PrecheckTimeoutMs) * time.Millisecond
}

// SourceTimeout returns the per-venue race bound as a duration.
func (c ExecutionConfig) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutMs) * time.Millisecond
}

// TraderConfig configures the per-(user, asset) trade loop.
type TraderConfig struct {
	PollIntervalMs        int      `yaml:"poll_interval_ms"`
	ProfitPercent         float64  `yaml:"profit_percent"`
	RebuyDropPercent      float64  `yaml:"rebuy_drop_percent"`
	CooldownMs            int      `yaml:"cooldown_ms"`
	MaxTrades             int      `yaml:"max_trades"`
	BalancePercent        float64  `yaml:"balance_percent"`
	MinBuySOL             float64  `yaml:"min_buy_sol"`
	MaxSlippagePercent    float64  `yaml:"max_slippage_percent"`
	Timeframes            []string `yaml:"timeframes"`
	RequiredConfirmations int      `yaml:"required_confirmations"`
}

// PollInterval returns the loop interval as a duration.
func (c TraderConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Cooldown returns the minimum spacing between trades.
func (c TraderConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// PriceFeedConfig configures the websocket and HTTP price sources.
type PriceFeedConfig struct {
	WSURL     string   `yaml:"ws_url"`
	UseWS     FlexBool `yaml:"use_ws"`
	HTTPURL   string   `yaml:"http_url"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

// IndicatorsConfig points at the multi-timeframe indicator API.
type IndicatorsConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// RPCConfig configures the chain RPC endpoint.
type RPCConfig struct {
	Endpoint   string `yaml:"endpoint"`
	Commitment string `yaml:"commitment"`
}

// VenueConfig holds the base URL of an HTTP execution venue.
type VenueConfig struct {
	BaseURL   string `yaml:"base_url"`
	PriceURL  string `yaml:"price_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN renders a pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// DBWriterConfig configures the batching journal writer.
type DBWriterConfig struct {
	BatchSize            int `yaml:"batch_size"`
	WriteIntervalSeconds int `yaml:"write_interval_seconds"`
}

// StoreConfig selects the trader state backend: memory, file or postgres.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// DiscordConfig configures the DM notifier.
type DiscordConfig struct {
	BotToken              string `yaml:"bot_token"`
	UserID                string `yaml:"user_id"`
	BufferIntervalMinutes int    `yaml:"buffer_interval_minutes"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SnipeConfig enables buying assets accepted by the gate.
type SnipeConfig struct {
	Enabled   FlexBool `yaml:"enabled"`
	AmountSOL float64  `yaml:"amount_sol"`
	UserID    string   `yaml:"user_id"`
	AutoTrade FlexBool `yaml:"auto_trade"`
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Ledger: LedgerConfig{
			WindowDepth:      3,
			DensityThreshold: 3,
			RequiredBits:     2,
			MaxFreshAssets:   20,
			SameAuthority:    true,
		},
		Gate: GateConfig{
			MaskWeight:   1,
			StrongWeight: 5,
			AuxWeight:    3,
			Threshold:    6,
		},
		Execution: ExecutionConfig{
			FastPathEnabled:      false,
			FastPathVenue:        "raydium",
			FastPathTimeoutMs:    800,
			PrecheckEnabled:      true,
			PrecheckTimeoutMs:    1200,
			PrecheckMinOut:       1,
			SourceTimeoutMs:      5000,
			BuySlippageBps:       15,
			SellSlippageBps:      []int{30, 100, 300},
			SellRetrySlippageBps: 100,
			FeeSplit: FeeSplitConfig{
				Percent:       25,
				MinSOLReserve: 0.001,
			},
		},
		Trader: TraderConfig{
			PollIntervalMs:        400,
			ProfitPercent:         1.5,
			RebuyDropPercent:      3,
			CooldownMs:            30000,
			MaxTrades:             3,
			BalancePercent:        10,
			MinBuySOL:             0.0005,
			MaxSlippagePercent:    3,
			Timeframes:            []string{"5m", "15m", "4h", "8h"},
			RequiredConfirmations: 3,
		},
		PriceFeed:  PriceFeedConfig{TimeoutMs: 3000},
		Indicators: IndicatorsConfig{TimeoutMs: 3000},
		RPC: RPCConfig{
			Endpoint:   "https://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
		},
		Jupiter: VenueConfig{
			BaseURL:   "https://quote-api.jup.ag/v6",
			PriceURL:  "https://api.jup.ag/price/v2",
			TimeoutMs: 5000,
		},
		Raydium: VenueConfig{
			BaseURL:   "https://transaction-v1.raydium.io",
			PriceURL:  "https://api-v3.raydium.io/mint/price",
			TimeoutMs: 5000,
		},
		Database: DatabaseConfig{Port: 5432, SSLMode: "disable"},
		DBWriter: DBWriterConfig{BatchSize: 100, WriteIntervalSeconds: 1},
		Store:    StoreConfig{Driver: "file", Path: "data/auto_trader_state.json"},
		Discord:  DiscordConfig{BufferIntervalMinutes: 1},
		Server:   ServerConfig{Addr: ":8080"},
		Snipe:    SnipeConfig{AmountSOL: 0.01},
	}
}

// LoadConfig loads configuration from the specified YAML file path
// and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *FlexBool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = FlexBool(b)
			}
		}
	}

	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("BOT_SECRET", &cfg.Secret)
	setString("RPC_ENDPOINT", &cfg.RPC.Endpoint)
	setString("DB_HOST", &cfg.Database.Host)
	setInt("DB_PORT", &cfg.Database.Port)
	setString("DB_USER", &cfg.Database.User)
	setString("DB_PASSWORD", &cfg.Database.Password)
	setString("DB_NAME", &cfg.Database.Name)
	setString("DISCORD_BOT_TOKEN", &cfg.Discord.BotToken)
	setString("RESERVE_WALLET", &cfg.Execution.FeeSplit.ReserveWallet)
	setBool("LIVE_TRADES", &cfg.Execution.LiveTrades)
	setBool("ENABLE_FEE_SPLIT", &cfg.Execution.FeeSplit.Enabled)
	setInt("LEDGER_REQUIRED_BITS", &cfg.Ledger.RequiredBits)
	setInt("LEDGER_DENSITY_THRESHOLD", &cfg.Ledger.DensityThreshold)
	setString("PRICE_WS_URL", &cfg.PriceFeed.WSURL)
	setString("PRICE_FEED_URL", &cfg.PriceFeed.HTTPURL)
	setString("INDICATORS_API_BASE", &cfg.Indicators.BaseURL)
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Ledger.WindowDepth <= 0:
		return fmt.Errorf("ledger.window_depth must be positive, got %d", c.Ledger.WindowDepth)
	case c.Ledger.RequiredBits < 0:
		return fmt.Errorf("ledger.required_bits must not be negative, got %d", c.Ledger.RequiredBits)
	case c.Execution.SourceTimeoutMs <= 0:
		return fmt.Errorf("execution.source_timeout_ms must be positive, got %d", c.Execution.SourceTimeoutMs)
	case c.Execution.FeeSplit.Percent < 0 || c.Execution.FeeSplit.Percent > 100:
		return fmt.Errorf("execution.fee_split.percent must be within [0,100], got %v", c.Execution.FeeSplit.Percent)
	case c.Trader.PollIntervalMs <= 0:
		return fmt.Errorf("trader.poll_interval_ms must be positive, got %d", c.Trader.PollIntervalMs)
	case c.Trader.MaxTrades <= 0:
		return fmt.Errorf("trader.max_trades must be positive, got %d", c.Trader.MaxTrades)
	}
	switch c.Store.Driver {
	case "memory", "file", "postgres":
	default:
		return fmt.Errorf("store.driver must be memory, file or postgres, got %q", c.Store.Driver)
	}
	return nil
}

var current atomic.Value

// ReloadConfig loads the file again and swaps it in as the active config.
func ReloadConfig(configPath string) (*Config, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

// GetConfig returns the active config, or the defaults if nothing was loaded.
func GetConfig() *Config {
	if cfg, ok := current.Load().(*Config); ok {
		return cfg
	}
	return Default()
}
