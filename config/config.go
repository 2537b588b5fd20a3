package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"fractalTrader/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config is an immutable snapshot of the application configuration.
// Components receive a copy at construction; UpdateConfig produces a new snapshot.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Instruments
	TradingPairs   []string
	MaxInstruments int
	QuoteAsset     string
	CandleInterval string
	CandleLimit    int
	ScanTopN       int

	// Indicators
	EMAFast          int
	EMAMedium        int
	EMASlow          int
	TrendEMA         int // Short EMA used to confirm fractals
	PACLength        int
	FractalLookback  int
	WilliamsFractals bool
	UseHeikinAshi    bool

	// Positions (fractions, e.g. 0.02 for 2%)
	PositionSizePercent     float64
	Leverage                int
	MarginMode              string
	TakeProfitPercent       float64
	StopLossPercent         float64
	MaxTradeDuration        time.Duration
	TrailingActivation      float64 // Fraction of the entry-to-TP distance that arms the trailing stop
	TrailingCallbackPercent float64
	MaxOpenPositions        int
	MinSignalStrength       float64
	AllowShort              bool
	MinNotional             float64
	BalanceSafetyMargin     float64
	SettleDelay             time.Duration

	// Capital policy
	ReinvestmentPercent float64 // Reported only
	WithdrawalThreshold float64 // Absolute profit in quote asset
	WithdrawalPercent   float64

	// Task intervals
	MarketRefreshInterval  time.Duration
	StrategyInterval       time.Duration
	ReconcileInterval      time.Duration
	StatusInterval         time.Duration
	BalanceHistoryInterval time.Duration
	DailyCheckInterval     time.Duration
	DurationCheckInterval  time.Duration

	// Transport retries
	MaxRetries int
	RetryDelay time.Duration

	SignalLogSize int

	// Persistence
	StoreBackend string // "sqlite" or "redis"
	DBPath       string
	RedisAddr    string

	// Notifications and metrics
	KafkaBrokers   []string
	KafkaTopic     string
	TelegramToken  string
	TelegramChatID int64
	MetricsAddr    string

	// Logging
	LogLevel logger.LogLevel
}

var defaults = map[string]interface{}{
	"IS_TESTNET":                 true, // Default to testnet for safety
	"TRADING_PAIRS":              "BTCUSDT,ETHUSDT",
	"MAX_INSTRUMENTS":            5,
	"QUOTE_ASSET":                "USDT",
	"CANDLE_INTERVAL":            "5m",
	"CANDLE_LIMIT":               200,
	"SCAN_TOP_N":                 20,
	"EMA_FAST":                   8,
	"EMA_MEDIUM":                 13,
	"EMA_SLOW":                   21,
	"TREND_EMA":                  5,
	"PAC_LENGTH":                 34,
	"FRACTAL_LOOKBACK":           2,
	"WILLIAMS_FRACTALS":          true,
	"USE_HEIKIN_ASHI":            true,
	"POSITION_SIZE_PERCENT":      0.1,
	"LEVERAGE":                   5,
	"MARGIN_MODE":                "ISOLATED",
	"TAKE_PROFIT_PERCENT":        0.02,
	"STOP_LOSS_PERCENT":          0.01,
	"MAX_TRADE_DURATION_MINUTES": 240,
	"TRAILING_ACTIVATION":        0.5,
	"TRAILING_CALLBACK_PERCENT":  0.005,
	"MAX_OPEN_POSITIONS":         3,
	"MIN_SIGNAL_STRENGTH":        0.0,
	"ALLOW_SHORT":                true,
	"MIN_NOTIONAL":               5.0,
	"BALANCE_SAFETY_MARGIN":      0.95,
	"SETTLE_DELAY_MS":            1500,
	"REINVESTMENT_PERCENT":       0.0,
	"WITHDRAWAL_THRESHOLD":       0.0,
	"WITHDRAWAL_PERCENT":         0.0,
	"MARKET_REFRESH_SECONDS":     30,
	"STRATEGY_SECONDS":           30,
	"RECONCILE_SECONDS":          15,
	"STATUS_SECONDS":             10,
	"BALANCE_HISTORY_MINUTES":    15,
	"DAILY_CHECK_SECONDS":        60,
	"DURATION_CHECK_SECONDS":     60,
	"MAX_RETRIES":                3,
	"RETRY_DELAY_MS":             500,
	"SIGNAL_LOG_SIZE":            100,
	"STORE_BACKEND":              "sqlite",
	"DB_PATH":                    "./data/fractal_trader.db",
	"REDIS_ADDR":                 "localhost:6379",
	"KAFKA_TOPIC":                "fractal-trader.positions",
	"LOG_LEVEL":                  "INFO",
}

// LoadConfig loads configuration from the environment (.env file), optionally
// layered over a YAML file named by CONFIG_FILE.
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	r := reader{v: v}
	cfg := &Config{}

	// Binance API
	cfg.APIKey = v.GetString("BINANCE_API_KEY")
	cfg.SecretKey = v.GetString("BINANCE_API_SECRET")
	cfg.IsTestnet = r.boolean("IS_TESTNET")

	// Instruments
	cfg.TradingPairs = ParseSymbols(v.GetString("TRADING_PAIRS"))
	cfg.MaxInstruments = r.integer("MAX_INSTRUMENTS")
	cfg.QuoteAsset = strings.ToUpper(v.GetString("QUOTE_ASSET"))
	cfg.CandleInterval = v.GetString("CANDLE_INTERVAL")
	cfg.CandleLimit = r.integer("CANDLE_LIMIT")
	cfg.ScanTopN = r.integer("SCAN_TOP_N")

	// Indicators
	cfg.EMAFast = r.integer("EMA_FAST")
	cfg.EMAMedium = r.integer("EMA_MEDIUM")
	cfg.EMASlow = r.integer("EMA_SLOW")
	cfg.TrendEMA = r.integer("TREND_EMA")
	cfg.PACLength = r.integer("PAC_LENGTH")
	cfg.FractalLookback = r.integer("FRACTAL_LOOKBACK")
	cfg.WilliamsFractals = r.boolean("WILLIAMS_FRACTALS")
	cfg.UseHeikinAshi = r.boolean("USE_HEIKIN_ASHI")

	// Positions
	cfg.PositionSizePercent = r.float("POSITION_SIZE_PERCENT")
	cfg.Leverage = r.integer("LEVERAGE")
	cfg.MarginMode = strings.ToUpper(v.GetString("MARGIN_MODE"))
	cfg.TakeProfitPercent = r.float("TAKE_PROFIT_PERCENT")
	cfg.StopLossPercent = r.float("STOP_LOSS_PERCENT")
	cfg.MaxTradeDuration = time.Duration(r.integer("MAX_TRADE_DURATION_MINUTES")) * time.Minute
	cfg.TrailingActivation = r.float("TRAILING_ACTIVATION")
	cfg.TrailingCallbackPercent = r.float("TRAILING_CALLBACK_PERCENT")
	cfg.MaxOpenPositions = r.integer("MAX_OPEN_POSITIONS")
	cfg.MinSignalStrength = r.float("MIN_SIGNAL_STRENGTH")
	cfg.AllowShort = r.boolean("ALLOW_SHORT")
	cfg.MinNotional = r.float("MIN_NOTIONAL")
	cfg.BalanceSafetyMargin = r.float("BALANCE_SAFETY_MARGIN")
	cfg.SettleDelay = time.Duration(r.integer("SETTLE_DELAY_MS")) * time.Millisecond

	// Capital policy
	cfg.ReinvestmentPercent = r.float("REINVESTMENT_PERCENT")
	cfg.WithdrawalThreshold = r.float("WITHDRAWAL_THRESHOLD")
	cfg.WithdrawalPercent = r.float("WITHDRAWAL_PERCENT")

	// Task intervals
	cfg.MarketRefreshInterval = time.Duration(r.integer("MARKET_REFRESH_SECONDS")) * time.Second
	cfg.StrategyInterval = time.Duration(r.integer("STRATEGY_SECONDS")) * time.Second
	cfg.ReconcileInterval = time.Duration(r.integer("RECONCILE_SECONDS")) * time.Second
	cfg.StatusInterval = time.Duration(r.integer("STATUS_SECONDS")) * time.Second
	cfg.BalanceHistoryInterval = time.Duration(r.integer("BALANCE_HISTORY_MINUTES")) * time.Minute
	cfg.DailyCheckInterval = time.Duration(r.integer("DAILY_CHECK_SECONDS")) * time.Second
	cfg.DurationCheckInterval = time.Duration(r.integer("DURATION_CHECK_SECONDS")) * time.Second

	cfg.MaxRetries = r.integer("MAX_RETRIES")
	cfg.RetryDelay = time.Duration(r.integer("RETRY_DELAY_MS")) * time.Millisecond
	cfg.SignalLogSize = r.integer("SIGNAL_LOG_SIZE")

	// Persistence
	cfg.StoreBackend = strings.ToLower(v.GetString("STORE_BACKEND"))
	cfg.DBPath = v.GetString("DB_PATH")
	cfg.RedisAddr = v.GetString("REDIS_ADDR")

	// Notifications and metrics
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.KafkaTopic = v.GetString("KAFKA_TOPIC")
	cfg.TelegramToken = v.GetString("TELEGRAM_TOKEN")
	if raw := v.GetString("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Sprintf("invalid TELEGRAM_CHAT_ID: %v", err))
		}
		cfg.TelegramChatID = id
	}
	cfg.MetricsAddr = v.GetString("METRICS_ADDR")

	// Logging
	cfg.LogLevel = logger.ParseLevel(v.GetString("LOG_LEVEL")) // Use the parser from the logger package

	errs := append(r.errs, cfg.validationErrors()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Validate checks numeric ranges and cross-field constraints.
func (c Config) Validate() error {
	if errs := c.validationErrors(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ValidateCredentials checks that exchange credentials are present.
func (c Config) ValidateCredentials() error {
	var errs []string
	if c.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if c.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("missing credentials: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) validationErrors() []string {
	var errs []string

	if c.MaxInstruments <= 0 {
		errs = append(errs, "MAX_INSTRUMENTS must be positive")
	} else if len(c.TradingPairs) > c.MaxInstruments {
		errs = append(errs, fmt.Sprintf("TRADING_PAIRS lists %d instruments, more than MAX_INSTRUMENTS (%d)", len(c.TradingPairs), c.MaxInstruments))
	}
	if c.QuoteAsset == "" {
		errs = append(errs, "QUOTE_ASSET must be set")
	}
	if c.CandleInterval == "" {
		errs = append(errs, "CANDLE_INTERVAL must be set")
	}
	if c.CandleLimit < 5 || c.CandleLimit > 1500 {
		errs = append(errs, "CANDLE_LIMIT must be between 5 and 1500")
	}

	// Validate indicator periods
	if c.EMAFast <= 0 || c.EMAMedium <= 0 || c.EMASlow <= 0 || c.TrendEMA <= 0 || c.PACLength <= 0 {
		errs = append(errs, "indicator periods (EMA, PAC) must be positive")
	} else if c.EMAFast >= c.EMAMedium || c.EMAMedium >= c.EMASlow {
		errs = append(errs, "EMA_FAST < EMA_MEDIUM < EMA_SLOW is required")
	} else if c.EMASlow > c.CandleLimit {
		errs = append(errs, "EMA_SLOW cannot exceed CANDLE_LIMIT")
	}
	if c.FractalLookback < 2 {
		errs = append(errs, "FRACTAL_LOOKBACK must be at least 2")
	}

	if c.PositionSizePercent <= 0 || c.PositionSizePercent > 1 {
		errs = append(errs, "POSITION_SIZE_PERCENT must be in (0, 1]")
	}
	if c.Leverage <= 0 || c.Leverage > 125 {
		errs = append(errs, "LEVERAGE must be between 1 and 125")
	}
	if c.MarginMode != "ISOLATED" && c.MarginMode != "CROSSED" {
		errs = append(errs, "MARGIN_MODE must be ISOLATED or CROSSED")
	}
	if c.TakeProfitPercent < 0 || c.TakeProfitPercent >= 1 {
		errs = append(errs, "TAKE_PROFIT_PERCENT must be in [0, 1)")
	}
	if c.StopLossPercent < 0 || c.StopLossPercent >= 1 {
		errs = append(errs, "STOP_LOSS_PERCENT must be in [0, 1)")
	}
	if c.MaxTradeDuration < 0 {
		errs = append(errs, "MAX_TRADE_DURATION_MINUTES cannot be negative")
	}
	if c.TrailingActivation < 0 || c.TrailingActivation > 1 {
		errs = append(errs, "TRAILING_ACTIVATION must be in [0, 1]")
	}
	if c.TrailingCallbackPercent < 0 || c.TrailingCallbackPercent > 0.05 {
		errs = append(errs, "TRAILING_CALLBACK_PERCENT must be in [0, 0.05]")
	}
	if c.MaxOpenPositions <= 0 {
		errs = append(errs, "MAX_OPEN_POSITIONS must be positive")
	}
	if c.MinSignalStrength < 0 || c.MinSignalStrength > 100 {
		errs = append(errs, "MIN_SIGNAL_STRENGTH must be between 0 and 100")
	}
	if c.MinNotional < 0 {
		errs = append(errs, "MIN_NOTIONAL cannot be negative")
	}
	if c.BalanceSafetyMargin <= 0 || c.BalanceSafetyMargin > 1 {
		errs = append(errs, "BALANCE_SAFETY_MARGIN must be in (0, 1]")
	}
	if c.SettleDelay < 0 {
		errs = append(errs, "SETTLE_DELAY_MS cannot be negative")
	}

	if c.ReinvestmentPercent < 0 || c.ReinvestmentPercent > 1 {
		errs = append(errs, "REINVESTMENT_PERCENT must be in [0, 1]")
	}
	if c.WithdrawalThreshold < 0 {
		errs = append(errs, "WITHDRAWAL_THRESHOLD cannot be negative")
	}
	if c.WithdrawalPercent < 0 || c.WithdrawalPercent > 1 {
		errs = append(errs, "WITHDRAWAL_PERCENT must be in [0, 1]")
	}

	for name, d := range map[string]time.Duration{
		"MARKET_REFRESH_SECONDS":  c.MarketRefreshInterval,
		"STRATEGY_SECONDS":        c.StrategyInterval,
		"RECONCILE_SECONDS":       c.ReconcileInterval,
		"STATUS_SECONDS":          c.StatusInterval,
		"BALANCE_HISTORY_MINUTES": c.BalanceHistoryInterval,
		"DAILY_CHECK_SECONDS":     c.DailyCheckInterval,
		"DURATION_CHECK_SECONDS":  c.DurationCheckInterval,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}

	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		errs = append(errs, "MAX_RETRIES must be between 0 and 10")
	}
	if c.RetryDelay < 0 {
		errs = append(errs, "RETRY_DELAY_MS cannot be negative")
	}
	if c.SignalLogSize <= 0 {
		errs = append(errs, "SIGNAL_LOG_SIZE must be positive")
	}

	switch c.StoreBackend {
	case "sqlite":
		if c.DBPath == "" {
			errs = append(errs, "DB_PATH must be set")
		}
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR must be set")
		}
	default:
		errs = append(errs, "STORE_BACKEND must be sqlite or redis")
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, "TELEGRAM_CHAT_ID must be set when TELEGRAM_TOKEN is set")
	}

	return errs
}

// ParseSymbols splits a comma separated symbol list, upper-casing and de-duplicating it.
func ParseSymbols(raw string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range splitList(raw) {
		s = strings.ToUpper(s)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- Value Helpers ---

// reader parses typed values and collects errors instead of failing on the first one.
type reader struct {
	v    *viper.Viper
	errs []string
}

func (r *reader) integer(key string) int {
	raw := strings.TrimSpace(r.v.GetString(key))
	value, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid integer value '%s' for key %s", raw, key))
		return 0
	}
	return value
}

func (r *reader) float(key string) float64 {
	raw := strings.TrimSpace(r.v.GetString(key))
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid float value '%s' for key %s", raw, key))
		return 0
	}
	return value
}

func (r *reader) boolean(key string) bool {
	raw := strings.TrimSpace(r.v.GetString(key))
	value, err := strconv.ParseBool(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Sprintf("invalid boolean value '%s' for key %s", raw, key))
		return false
	}
	return value
}
