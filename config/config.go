package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Environment
	IsProd bool `json:"is_prod"`

	// Kiwoom brokerage API
	Kiwoom KiwoomConfig `json:"kiwoom"`

	// Auto-trading behavior
	Trading TradingConfig `json:"trading"`

	// Discord
	Discord DiscordConfig `json:"discord"`

	// Telegram
	Telegram TelegramConfig `json:"telegram"`

	// Health server
	HealthServer HealthServerConfig `json:"health_server"`
}

// KiwoomConfig holds brokerage API endpoints and credentials.
type KiwoomConfig struct {
	AppKey    string `json:"-"` // Excluded - env var only
	SecretKey string `json:"-"` // Excluded - env var only

	// IsMock routes all traffic to the paper-trading environment.
	IsMock bool `json:"is_mock"`

	APIHost    string `json:"api_host"`
	WSEndpoint string `json:"ws_endpoint"`

	ConnectTimeout time.Duration `json:"connect_timeout"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	SearchTimeout  time.Duration `json:"search_timeout"`
}

// TradingConfig holds auto-trading engine configuration.
type TradingConfig struct {
	ConditionID   string `json:"condition_id"`   // Server-side screening condition index
	ConditionName string `json:"condition_name"` // Optional; resolved from the condition list when empty

	BuyAmount    int64 `json:"buy_amount"`    // KRW budget per position
	MaxPositions int   `json:"max_positions"` // Concurrent position cap (positions + in-flight orders)

	BuyMarketOrder  bool `json:"buy_market_order"`
	BuyTickOffset   int  `json:"buy_tick_offset"` // Ticks above reference for limit buys
	SellMarketOrder bool `json:"sell_market_order"`
	SellTickOffset  int  `json:"sell_tick_offset"`

	TickInterval      time.Duration `json:"tick_interval"`      // Periodic re-evaluation; faster trips API limits
	OrderTimeout      time.Duration `json:"order_timeout"`      // Per-order REST deadline
	PendingTimeout    time.Duration `json:"pending_timeout"`    // Stuck reservation expiry
	BlacklistCooldown time.Duration `json:"blacklist_cooldown"` // Re-eligibility delay after a failed buy
	OrdersPerSecond   float64       `json:"orders_per_second"`  // Dispatch rate limit
}

// DiscordConfig holds Discord-related configuration.
type DiscordConfig struct {
	BotToken      string `json:"-"` // Excluded - env var only
	ProdChannelID string `json:"prod_channel_id"`
	BetaChannelID string `json:"beta_channel_id"`
}

// TelegramConfig holds Telegram-related configuration.
type TelegramConfig struct {
	BotToken   string `json:"-"` // Excluded - env var only
	ProdChatID string `json:"prod_chat_id"`
	BetaChatID string `json:"beta_chat_id"`
}

// HealthServerConfig holds health check server configuration.
type HealthServerConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

const (
	realAPIHost = "https://api.kiwoom.com"
	mockAPIHost = "https://mockapi.kiwoom.com"

	realWSEndpoint = "wss://api.kiwoom.com:10000/api/dostk/websocket"
	mockWSEndpoint = "wss://mockapi.kiwoom.com:10000/api/dostk/websocket"
)

// Clone creates a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Defaults returns a config with hardcoded default values.
func Defaults() *Config {
	return &Config{
		IsProd: false,
		Kiwoom: KiwoomConfig{
			IsMock:         true,
			APIHost:        mockAPIHost,
			WSEndpoint:     mockWSEndpoint,
			ConnectTimeout: 10 * time.Second,
			ReadTimeout:    30 * time.Second,
			SearchTimeout:  15 * time.Second,
		},
		Trading: TradingConfig{
			BuyAmount:         500000,
			MaxPositions:      10,
			BuyMarketOrder:    true,
			SellMarketOrder:   true,
			TickInterval:      2 * time.Second,
			OrderTimeout:      30 * time.Second,
			PendingTimeout:    30 * time.Second,
			BlacklistCooldown: 5 * time.Minute,
			OrdersPerSecond:   1.0,
		},
		Discord:  DiscordConfig{},
		Telegram: TelegramConfig{},
		HealthServer: HealthServerConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	isMock := envBoolDefault("KIWOOM_MOCK_TRADING", true)

	apiHost := realAPIHost
	wsEndpoint := realWSEndpoint
	if isMock {
		apiHost = mockAPIHost
		wsEndpoint = mockWSEndpoint
	}

	return &Config{
		IsProd: envBool("STAGE", "PROD"),

		Kiwoom: KiwoomConfig{
			AppKey:         envString("KIWOOM_APP_KEY", ""),
			SecretKey:      envString("KIWOOM_SECRET_KEY", ""),
			IsMock:         isMock,
			APIHost:        envString("KIWOOM_API_HOST", apiHost),
			WSEndpoint:     envString("KIWOOM_WS_ENDPOINT", wsEndpoint),
			ConnectTimeout: envDuration("KIWOOM_CONNECT_TIMEOUT", 10*time.Second),
			ReadTimeout:    envDuration("KIWOOM_READ_TIMEOUT", 30*time.Second),
			SearchTimeout:  envDuration("KIWOOM_SEARCH_TIMEOUT", 15*time.Second),
		},

		Trading: TradingConfig{
			ConditionID:       envString("TRADING_CONDITION_ID", ""),
			ConditionName:     envString("TRADING_CONDITION_NAME", ""),
			BuyAmount:         envInt64("TRADING_BUY_AMOUNT", 500000),
			MaxPositions:      envInt("TRADING_MAX_POSITIONS", 10),
			BuyMarketOrder:    envBoolDefault("TRADING_BUY_MARKET_ORDER", true),
			BuyTickOffset:     envInt("TRADING_BUY_TICK_OFFSET", 0),
			SellMarketOrder:   envBoolDefault("TRADING_SELL_MARKET_ORDER", true),
			SellTickOffset:    envInt("TRADING_SELL_TICK_OFFSET", 0),
			TickInterval:      envDuration("TRADING_TICK_INTERVAL", 2*time.Second),
			OrderTimeout:      envDuration("TRADING_ORDER_TIMEOUT", 30*time.Second),
			PendingTimeout:    envDuration("TRADING_PENDING_TIMEOUT", 30*time.Second),
			BlacklistCooldown: envDuration("TRADING_BLACKLIST_COOLDOWN", 5*time.Minute),
			OrdersPerSecond:   envFloat("TRADING_ORDERS_PER_SECOND", 1.0),
		},

		Discord: DiscordConfig{
			BotToken:      envString("DISCORD_BOT_TOKEN", ""),
			ProdChannelID: envString("DISCORD_PROD_CHANNEL_ID", ""),
			BetaChannelID: envString("DISCORD_BETA_CHANNEL_ID", ""),
		},

		Telegram: TelegramConfig{
			BotToken:   envString("TELEGRAM_BOT_KEY", ""),
			ProdChatID: envString("TELEGRAM_PROD_CHAT_ID", ""),
			BetaChatID: envString("TELEGRAM_BETA_CHAT_ID", ""),
		},

		HealthServer: HealthServerConfig{
			Enabled: envBoolDefault("HEALTH_SERVER_ENABLED", true),
			Port:    envInt("HEALTH_SERVER_PORT", 8080),
		},
	}
}

// Helper functions for parsing environment variables

func envString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envInt64(key string, defaultVal int64) int64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envBool(key, trueValue string) bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv(key)), trueValue)
}

func envBoolDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1") || strings.EqualFold(v, "yes")
}
