// Package config loads the receptionist's configuration from the
// environment, with optional .env overlay, and validates it before any
// component starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dmaraujo/recepcionista/rules"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultHTTPPort         = 8080
	DefaultTimezone         = "America/Sao_Paulo"
	DefaultDailyBudgetBRL   = 5.00
	DefaultRateLimitPerMin  = 10
	DefaultRateLimitBurst   = 3
	DefaultGlobalRateCap    = 120
	DefaultTurnDeadline     = 20 * time.Second
	DefaultMailboxDepth     = 8
	DefaultDeliveryWorkers  = 4
	DefaultMinMessageGap    = 250 * time.Millisecond
	DefaultValidatorMinConf = 0.8
	DefaultCheckpointKeep   = 720 * time.Hour
	DefaultStartupDeadline  = 10 * time.Second
	DefaultDBDriver         = "sqlite"
	DefaultBusinessHours    = "08:00-12:00,14:00-17:00"
	DefaultProviders        = "anthropic,openai,google"
	DefaultThresholdHigh    = 0.85
	DefaultThresholdMedium  = 0.70
	DefaultThresholdLow     = 0.30
)

// Config is the validated runtime configuration.
type Config struct {
	WebhookSecret    string
	GatewayBaseURL   string
	GatewayAPIKey    string
	GatewayInstances []string

	HTTPPort      int
	Timezone      *time.Location
	BusinessHours []rules.Window

	DailyBudgetBRL float64
	Providers      []string
	AnthropicKey   string
	OpenAIKey      string
	GoogleKey      string

	RateLimitPerMin int
	RateLimitBurst  int
	GlobalRateCap   int

	TurnDeadline    time.Duration
	MailboxDepth    int
	DeliveryWorkers int
	MinMessageGap   time.Duration

	ThresholdHigh   float64
	ThresholdMedium float64
	ThresholdLow    float64

	ValidatorMinConfidence float64

	DBDriver string
	DBDSN    string

	RedisAddr string

	RAGEnabled bool
	RAGURL     string

	CalendarEnabled bool
	CalendarURL     string

	CheckpointRetention time.Duration
	StartupDeadline     time.Duration

	TracingEnabled bool
}

// Load reads an optional .env file, then the environment, and validates
// the result. envFile may be empty.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		// Best-effort default; a missing ./.env is not an error.
		_ = godotenv.Load()
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment.
func FromEnv() (*Config, error) {
	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	cfg := &Config{
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		GatewayBaseURL: os.Getenv("GATEWAY_BASE_URL"),
		GatewayAPIKey:  os.Getenv("GATEWAY_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		GoogleKey:      os.Getenv("GOOGLE_API_KEY"),
		DBDSN:          os.Getenv("DB_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RAGURL:         os.Getenv("RAG_URL"),
		CalendarURL:    os.Getenv("CALENDAR_URL"),
	}

	cfg.GatewayInstances = splitList(os.Getenv("GATEWAY_INSTANCES"))
	cfg.Providers = splitList(getDefault("LLM_PROVIDERS", DefaultProviders))
	cfg.DBDriver = getDefault("DB_DRIVER", DefaultDBDriver)

	cfg.HTTPPort = intVar("HTTP_PORT", DefaultHTTPPort, fail)
	cfg.DailyBudgetBRL = floatVar("LLM_DAILY_BUDGET_BRL", DefaultDailyBudgetBRL, fail)
	cfg.RateLimitPerMin = intVar("RATE_LIMIT_PER_MIN", DefaultRateLimitPerMin, fail)
	cfg.RateLimitBurst = intVar("RATE_LIMIT_BURST", DefaultRateLimitBurst, fail)
	cfg.GlobalRateCap = intVar("GLOBAL_RATE_CAP", DefaultGlobalRateCap, fail)
	cfg.TurnDeadline = durationVar("TURN_DEADLINE", DefaultTurnDeadline, fail)
	cfg.MailboxDepth = intVar("MAILBOX_DEPTH", DefaultMailboxDepth, fail)
	cfg.DeliveryWorkers = intVar("DELIVERY_CONCURRENCY", DefaultDeliveryWorkers, fail)
	cfg.MinMessageGap = durationVar("MIN_MESSAGE_GAP", DefaultMinMessageGap, fail)
	cfg.ValidatorMinConfidence = floatVar("VALIDATOR_MIN_CONFIDENCE", DefaultValidatorMinConf, fail)
	cfg.CheckpointRetention = durationVar("CHECKPOINT_RETENTION", DefaultCheckpointKeep, fail)
	cfg.StartupDeadline = durationVar("STARTUP_DEADLINE", DefaultStartupDeadline, fail)
	cfg.RAGEnabled = boolVar("RAG_ENABLED", false, fail)
	cfg.CalendarEnabled = boolVar("CALENDAR_ENABLED", false, fail)
	cfg.TracingEnabled = boolVar("TRACING_ENABLED", false, fail)

	cfg.ThresholdHigh, cfg.ThresholdMedium, cfg.ThresholdLow = DefaultThresholdHigh, DefaultThresholdMedium, DefaultThresholdLow
	if raw := os.Getenv("INTENT_THRESHOLDS"); raw != "" {
		parts := splitList(raw)
		if len(parts) != 3 {
			fail("INTENT_THRESHOLDS: want three comma-separated values, got %q", raw)
		} else {
			var vals [3]float64
			ok := true
			for i, part := range parts {
				v, err := strconv.ParseFloat(part, 64)
				if err != nil {
					fail("INTENT_THRESHOLDS[%d]: %v", i, err)
					ok = false
				}
				vals[i] = v
			}
			if ok {
				cfg.ThresholdHigh, cfg.ThresholdMedium, cfg.ThresholdLow = vals[0], vals[1], vals[2]
			}
		}
	}

	windows, err := parseBusinessHours(getDefault("BUSINESS_HOURS", DefaultBusinessHours))
	if err != nil {
		fail("BUSINESS_HOURS: %v", err)
	}
	cfg.BusinessHours = windows

	tz := getDefault("TIMEZONE", DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		fail("TIMEZONE: unknown zone %q", tz)
	}
	cfg.Timezone = loc

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency. Called by FromEnv; exported so
// hand-built configs in tests go through the same gate.
func (c *Config) Validate() error {
	var errs []string
	fail := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.WebhookSecret == "" {
		fail("WEBHOOK_SECRET is required")
	}
	if c.GatewayBaseURL == "" {
		fail("GATEWAY_BASE_URL is required")
	}
	if len(c.GatewayInstances) == 0 {
		fail("GATEWAY_INSTANCES must list at least one pinned instance")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		fail("HTTP_PORT %d out of range", c.HTTPPort)
	}
	if c.DailyBudgetBRL <= 0 {
		fail("LLM_DAILY_BUDGET_BRL must be positive")
	}
	if len(c.Providers) == 0 {
		fail("LLM_PROVIDERS must list at least one provider")
	}
	for _, p := range c.Providers {
		switch p {
		case "anthropic", "openai", "google", "mock":
		default:
			fail("LLM_PROVIDERS: unknown provider %q", p)
		}
	}
	if !(c.ThresholdHigh > c.ThresholdMedium && c.ThresholdMedium > c.ThresholdLow && c.ThresholdLow > 0) {
		fail("INTENT_THRESHOLDS must be strictly decreasing and positive")
	}
	if c.ValidatorMinConfidence <= 0 || c.ValidatorMinConfidence > 1 {
		fail("VALIDATOR_MIN_CONFIDENCE must be in (0,1]")
	}
	switch c.DBDriver {
	case "memory":
	case "sqlite", "mysql":
		if c.DBDSN == "" {
			fail("DB_DSN is required for driver %q", c.DBDriver)
		}
	default:
		fail("DB_DRIVER: unknown driver %q", c.DBDriver)
	}
	if c.RAGEnabled && c.RAGURL == "" {
		fail("RAG_URL is required when RAG_ENABLED")
	}
	if c.CalendarEnabled && c.CalendarURL == "" {
		fail("CALENDAR_URL is required when CALENDAR_ENABLED")
	}
	if c.RateLimitPerMin <= 0 || c.RateLimitBurst <= 0 {
		fail("rate limit values must be positive")
	}
	if c.MailboxDepth <= 0 || c.DeliveryWorkers <= 0 {
		fail("MAILBOX_DEPTH and DELIVERY_CONCURRENCY must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// parseBusinessHours reads a schedule like "08:00-12:00,14:00-17:00"
// into daily windows.
func parseBusinessHours(raw string) ([]rules.Window, error) {
	var windows []rules.Window
	for _, part := range splitList(raw) {
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			return nil, fmt.Errorf("window %q: want HH:MM-HH:MM", part)
		}
		start, err := parseClock(bounds[0])
		if err != nil {
			return nil, fmt.Errorf("window %q: %v", part, err)
		}
		end, err := parseClock(bounds[1])
		if err != nil {
			return nil, fmt.Errorf("window %q: %v", part, err)
		}
		if end <= start {
			return nil, fmt.Errorf("window %q: end before start", part)
		}
		windows = append(windows, rules.Window{StartMin: start, EndMin: end})
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("no windows in %q", raw)
	}
	return windows, nil
}

func parseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad clock %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", raw)
	}
	return h*60 + m, nil
}

func getDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intVar(key string, fallback int, fail func(string, ...interface{})) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		fail("%s: %v", key, err)
		return fallback
	}
	return v
}

func floatVar(key string, fallback float64, fail func(string, ...interface{})) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		fail("%s: %v", key, err)
		return fallback
	}
	return v
}

func durationVar(key string, fallback time.Duration, fail func(string, ...interface{})) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		fail("%s: %v", key, err)
		return fallback
	}
	return v
}

func boolVar(key string, fallback bool, fail func(string, ...interface{})) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		fail("%s: %v", key, err)
		return fallback
	}
	return v
}
