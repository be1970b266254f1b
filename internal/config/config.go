package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// IdP
	IdPSecretKey string
	IdPBaseURL   string
	IdPVerifyURL string // 設定時はリモート検証デリゲートを使用する
	IdPTimeout   time.Duration
	IdPRateLimit float64 // IdP APIへの送信レート（req/sec）

	// Token
	TokenDefaultTTLMinutes int
	TokenMaxTTLMinutes     int

	// Worker
	PurgeInterval time.Duration

	// Server
	ServerPort string
}

// デフォルト値。TTLの上限は7日間。
const (
	DefaultIdPBaseURL        = "https://api.clerk.com/v1"
	DefaultTokenTTLMinutes   = 1440
	DefaultMaxTokenTTLMinutes = 10080
)

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.IdPSecretKey = os.Getenv("IDP_SECRET_KEY")
	if cfg.IdPSecretKey == "" {
		missing = append(missing, "IDP_SECRET_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.IdPBaseURL = getEnvString("IDP_BASE_URL", DefaultIdPBaseURL)
	cfg.IdPVerifyURL = getEnvString("IDP_VERIFY_URL", "")
	cfg.IdPTimeout = getEnvDuration("IDP_TIMEOUT", 10*time.Second)
	cfg.IdPRateLimit = getEnvFloat("IDP_RATE_LIMIT", 10)
	cfg.TokenDefaultTTLMinutes = getEnvInt("TOKEN_DEFAULT_TTL_MINUTES", DefaultTokenTTLMinutes)
	cfg.TokenMaxTTLMinutes = getEnvInt("TOKEN_MAX_TTL_MINUTES", DefaultMaxTokenTTLMinutes)
	cfg.PurgeInterval = getEnvDuration("PURGE_INTERVAL", 1*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
