// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Notify
	// NotifyDriver は通知チャネルの実装。"listen"（LISTEN/NOTIFYプッシュ）
	// または"poll"（固定間隔ポーリング）。
	NotifyDriver string
	// PollInterval はポーリング型通知チャネルの確認間隔。
	PollInterval time.Duration
	// NotifyMinReconnect / NotifyMaxReconnect はLISTEN/NOTIFYリスナーの再接続間隔。
	NotifyMinReconnect time.Duration
	NotifyMaxReconnect time.Duration

	// Rate Limit（req/min/identity）
	RateLimitGeneral int
	RateLimitCreate  int

	// Cleanup
	CleanupInterval time.Duration
	// SessionTTL は終了済みセッションを削除するまでの保持期間。
	SessionTTL time.Duration

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

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

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.NotifyDriver = getEnvString("NOTIFY_DRIVER", "listen")
	cfg.PollInterval = getEnvDuration("POLL_INTERVAL", 3*time.Second)
	cfg.NotifyMinReconnect = getEnvDuration("NOTIFY_MIN_RECONNECT", 10*time.Second)
	cfg.NotifyMaxReconnect = getEnvDuration("NOTIFY_MAX_RECONNECT", time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCreate = getEnvInt("RATE_LIMIT_CREATE", 10)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

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
