package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Market data
	Symbols       string // comma-separated, e.g. "BTCUSDT,ETHUSDT"
	EnabledTFs    string // comma-separated seconds, e.g. "60,300,900"
	BinanceWSURL  string
	BinanceREST   string
	BackfillLimit int

	// Engine
	WindowSize int

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Export cadence (seconds)
	StatsInterval int

	// Alerting (empty disables the channel)
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string
}

// Load reads configuration from a .env file (if present) and environment
// variables, with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("[config] loaded .env")
	}

	return &Config{
		Symbols:       getEnv("SYMBOLS", "BTCUSDT"),
		EnabledTFs:    getEnv("ENABLED_TFS", "60,300,900"),
		BinanceWSURL:  getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443"),
		BinanceREST:   getEnv("BINANCE_REST_URL", "https://api.binance.com"),
		BackfillLimit: getEnvInt("BACKFILL_LIMIT", 500),

		WindowSize: getEnvInt("WINDOW_SIZE", 500),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/fvg.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		StatsInterval: getEnvInt("STATS_INTERVAL", 30),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
	}
}

// ParseSymbols parses the Symbols string into upper-cased symbols.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	syms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			syms = append(syms, p)
		}
	}
	return syms
}

// ParseTFs parses the EnabledTFs string into timeframe durations in seconds.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
