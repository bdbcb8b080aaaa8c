// Package config loads the trader's configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// State backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string
	AngelRootURL    string

	// Instrument
	Underlying     string
	SymbolToken    string
	Exchange       string
	OptionExchange string
	Interval       string
	HistoryDays    int
	OptionExpiry   string

	// Strategy
	ATRLength       int
	Factor          float64
	StopLoss        float64 // fraction of the entry level, e.g. 0.01
	TradeAllocation float64 // fraction of the balance spent per entry
	LotSize         int
	CooldownPeriod  time.Duration
	PollInterval    time.Duration
	CycleTimeout    time.Duration

	// Paper trading
	PaperTrading     bool
	PaperBalance     decimal.Decimal
	PaperSlippageBps int64

	// State
	StateBackend string
	StatePath    string
	StartFresh   bool
	JournalPath  string

	// Infrastructure
	RedisAddr     string // empty disables the Redis event sink
	RedisPassword string
	MetricsAddr   string
	LogLevel      string
	LogFile       string

	// Market calendar
	MarketHoursOnly bool
	MarketHolidays  string

	// Notifications
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads an optional .env file and then the environment. It returns an
// error naming every value that failed to parse; range checks are left to
// Validate.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}

	p := &parser{}
	cfg := &Config{
		AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
		AngelClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
		AngelPassword:   getEnv("ANGEL_PASSWORD", ""),
		AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),
		AngelRootURL:    getEnv("ANGEL_ROOT_URL", ""),

		Underlying:     strings.ToUpper(getEnv("UNDERLYING", "NIFTY")),
		SymbolToken:    getEnv("SYMBOL_TOKEN", "99926000"),
		Exchange:       getEnv("EXCHANGE", "NSE"),
		OptionExchange: getEnv("OPTION_EXCHANGE", "NFO"),
		Interval:       getEnv("INTERVAL", "FIVE_MINUTE"),
		HistoryDays:    p.int("HISTORY_DAYS", 5),
		OptionExpiry:   getEnv("OPTION_EXPIRY", ""),

		ATRLength:       p.int("ATR_LENGTH", 10),
		Factor:          p.float("FACTOR", 3),
		StopLoss:        p.float("STOP_LOSS", 0.01),
		TradeAllocation: p.float("TRADE_ALLOCATION", 0.5),
		LotSize:         p.int("LOT_SIZE", 75),
		CooldownPeriod:  p.seconds("COOLDOWN_PERIOD", 300),
		PollInterval:    p.seconds("POLL_INTERVAL", 60),
		CycleTimeout:    p.seconds("CYCLE_TIMEOUT", 45),

		PaperTrading:     p.bool("PAPER_TRADING", true),
		PaperBalance:     p.decimal("PAPER_BALANCE", "100000"),
		PaperSlippageBps: int64(p.int("PAPER_SLIPPAGE_BPS", 0)),

		StateBackend: strings.ToLower(getEnv("STATE_BACKEND", BackendFile)),
		StatePath:    getEnv("STATE_PATH", "data/trade_state.json"),
		StartFresh:   p.bool("START_FRESH", false),
		JournalPath:  getEnv("JOURNAL_PATH", "data/journal.db"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),

		MarketHoursOnly: p.bool("MARKET_HOURS_ONLY", true),
		MarketHolidays:  getEnv("MARKET_HOLIDAYS", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
	if err := errors.Join(p.errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and mode-dependent requirements.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.ATRLength > 0, "ATR_LENGTH must be > 0, got %d", c.ATRLength)
	check(c.Factor > 0, "FACTOR must be > 0, got %g", c.Factor)
	// A LONG stop at entry*(1-STOP_LOSS) <= 0 could never trigger.
	check(c.StopLoss > 0 && c.StopLoss < 1, "STOP_LOSS must be in (0,1), got %g", c.StopLoss)
	check(c.TradeAllocation > 0 && c.TradeAllocation <= 1, "TRADE_ALLOCATION must be in (0,1], got %g", c.TradeAllocation)
	check(c.LotSize > 0, "LOT_SIZE must be > 0, got %d", c.LotSize)
	check(c.CooldownPeriod >= 0, "COOLDOWN_PERIOD must be >= 0, got %s", c.CooldownPeriod)
	check(c.PollInterval > 0, "POLL_INTERVAL must be > 0, got %s", c.PollInterval)
	check(c.CycleTimeout > 0, "CYCLE_TIMEOUT must be > 0, got %s", c.CycleTimeout)
	check(c.HistoryDays > 0, "HISTORY_DAYS must be > 0, got %d", c.HistoryDays)
	check(c.PaperSlippageBps >= 0, "PAPER_SLIPPAGE_BPS must be >= 0, got %d", c.PaperSlippageBps)
	check(c.Underlying != "", "UNDERLYING is required")
	check(c.SymbolToken != "", "SYMBOL_TOKEN is required")
	check(c.StateBackend == BackendFile || c.StateBackend == BackendBadger,
		"STATE_BACKEND must be %q or %q, got %q", BackendFile, BackendBadger, c.StateBackend)
	check(c.StatePath != "", "STATE_PATH is required")
	check(c.JournalPath != "", "JOURNAL_PATH is required")
	if c.PaperTrading {
		check(c.PaperBalance.IsPositive(), "PAPER_BALANCE must be > 0, got %s", c.PaperBalance)
	}

	// Live mode needs credentials for orders. Paper mode still reads market
	// data from the broker, so the login fields are required either way.
	for _, kv := range [][2]string{
		{"ANGEL_API_KEY", c.AngelAPIKey},
		{"ANGEL_CLIENT_CODE", c.AngelClientCode},
		{"ANGEL_PASSWORD", c.AngelPassword},
		{"ANGEL_TOTP_SECRET", c.AngelTOTPSecret},
	} {
		check(kv[1] != "", "%s is required", kv[0])
	}
	if (c.TelegramBotToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	return errors.Join(errs...)
}

// Mode returns "paper" or "live".
func (c *Config) Mode() string {
	if c.PaperTrading {
		return "paper"
	}
	return "live"
}

type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a number", key, v))
		return fallback
	}
	return f
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

// seconds reads a whole number of seconds.
func (p *parser) seconds(key string, fallback int) time.Duration {
	return time.Duration(p.int(key, fallback)) * time.Second
}

func (p *parser) decimal(key, fallback string) decimal.Decimal {
	v := getEnv(key, fallback)
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a decimal", key, v))
		return decimal.Zero
	}
	return d
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
