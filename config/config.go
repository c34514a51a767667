// Package config loads application configuration from environment
// variables, the same flat os.Getenv-with-fallback shape the teacher
// uses, generalized from Angel One/NIFTY-specific settings to the
// exchange-stream/alert-engine settings this system needs.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment
// variables.
type Config struct {
	// Exchange Stream Client (C1)
	ExchangeEndpoints     []string // comma-separated WS base URLs, in failover order
	ExchangeSymbols       []string // comma-separated symbols to subscribe, e.g. "BTCUSDT,ETHUSDT"
	MaxStreamsPerConn     int
	ExchangeDialTimeout   time.Duration
	ExchangeHeartbeatIdle time.Duration
	ExchangePongGrace     time.Duration

	// Candle Fetcher (C3)
	KlinesBaseURL string
	CandleTimeout time.Duration

	// Condition Evaluator (C5)
	EvaluatorWorkers        int
	EvaluatorQueueSize      int
	FailClosedOnCandleError bool

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Notification channels
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	WebhookURL   string

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults.
func Load() *Config {
	return &Config{
		ExchangeEndpoints:     splitCSV(getEnv("EXCHANGE_ENDPOINTS", "wss://stream.binance.com:9443/ws")),
		ExchangeSymbols:       splitCSV(getEnv("EXCHANGE_SYMBOLS", "BTCUSDT,ETHUSDT")),
		MaxStreamsPerConn:     getEnvInt("MAX_STREAMS_PER_CONN", 200),
		ExchangeDialTimeout:   getEnvDuration("EXCHANGE_DIAL_TIMEOUT", 10*time.Second),
		ExchangeHeartbeatIdle: getEnvDuration("EXCHANGE_HEARTBEAT_IDLE", 30*time.Second),
		ExchangePongGrace:     getEnvDuration("EXCHANGE_PONG_GRACE", 30*time.Second),

		KlinesBaseURL: getEnv("KLINES_BASE_URL", "https://api.binance.com/api/v3/klines"),
		CandleTimeout: getEnvDuration("CANDLE_FETCH_TIMEOUT", 5*time.Second),

		EvaluatorWorkers:        getEnvInt("EVALUATOR_WORKERS", 8),
		EvaluatorQueueSize:      getEnvInt("EVALUATOR_QUEUE_SIZE", 1024),
		FailClosedOnCandleError: getEnvBool("ALERT_FAIL_CLOSED_ON_CANDLE_ERROR", false),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/alerts.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "alerts@localhost"),
		WebhookURL:   getEnv("WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
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
		log.Printf("[config] invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s=%q, using default %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}
