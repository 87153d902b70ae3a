package config

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Broker credentials (live feed only)
	BrokerAPIKey     string
	BrokerClientCode string
	BrokerPassword   string
	BrokerTOTPSecret string
	StreamURL        string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string

	// Instruments and timeframes
	Symbols     string // comma-separated, e.g. "SBIN,TCS,INFY"
	PrimaryTF   string
	SecondaryTF string

	// Paper account
	StartingBalance float64
	OrderQty        float64

	// Notifications (empty = disabled)
	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with sensible defaults.
// Broker credentials are left empty when unset; callers that need the live
// feed must call RequireBroker.
func Load() *Config {
	return &Config{
		BrokerAPIKey:     getEnv("BROKER_API_KEY", ""),
		BrokerClientCode: getEnv("BROKER_CLIENT_CODE", ""),
		BrokerPassword:   getEnv("BROKER_PASSWORD", ""),
		BrokerTOTPSecret: getEnv("BROKER_TOTP_SECRET", ""),
		StreamURL:        getEnv("STREAM_URL", "wss://smartapisocket.angelone.in/smart-stream"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/nova.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		Symbols:     getEnv("SYMBOLS", "SBIN"),
		PrimaryTF:   getEnv("PRIMARY_TF", "15m"),
		SecondaryTF: getEnv("SECONDARY_TF", "1h"),

		StartingBalance: getEnvFloat("STARTING_BALANCE", 100000),
		OrderQty:        getEnvFloat("ORDER_QTY", 1),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}
}

// RequireBroker exits if any live-feed credential is missing.
func (c *Config) RequireBroker() {
	for key, v := range map[string]string{
		"BROKER_API_KEY":     c.BrokerAPIKey,
		"BROKER_CLIENT_CODE": c.BrokerClientCode,
		"BROKER_PASSWORD":    c.BrokerPassword,
		"BROKER_TOTP_SECRET": c.BrokerTOTPSecret,
	} {
		if v == "" {
			log.Fatalf("[config] required env var %s not set", key)
		}
	}
}

// ParseSymbols splits the Symbols list, trimming blanks and duplicates.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	seen := make(map[string]struct{}, len(parts))
	syms := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		syms = append(syms, p)
	}
	return syms
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using default %.2f", key, v, fallback)
		return fallback
	}
	return f
}
