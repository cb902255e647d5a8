package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// セッションストアの種類
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// minSessionSecretLen はSESSION_SECRETに要求する最小バイト数。
const minSessionSecretLen = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Session storage
	SessionStore string
	DatabaseURL  string
	RedisURL     string

	// Identity provider (Keycloak)
	KeycloakIssuer         string
	KeycloakClientID       string
	KeycloakClientSecret   string
	KeycloakLegacyClientID string

	// Workflow backend
	BackendURL     string
	BackendTimeout time.Duration
	TemplateID     string

	// Session
	SessionSecret string
	SessionMaxAge int

	// Rate Limit（req/min）
	RateLimitGeneral  int
	RateLimitMutation int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// BACKEND_URL、KEYCLOAK_ISSUER、TEMPLATE_IDはNEXT_PUBLIC_接頭辞付きの旧名もフォールバックとして受け付ける。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.KeycloakIssuer = strings.TrimRight(getEnvFirst("KEYCLOAK_ISSUER", "NEXT_PUBLIC_KEYCLOAK_ISSUER"), "/")
	if cfg.KeycloakIssuer == "" {
		missing = append(missing, "KEYCLOAK_ISSUER")
	}

	cfg.KeycloakClientID = os.Getenv("KEYCLOAK_CLIENT_ID")
	if cfg.KeycloakClientID == "" {
		missing = append(missing, "KEYCLOAK_CLIENT_ID")
	}

	cfg.KeycloakClientSecret = os.Getenv("KEYCLOAK_CLIENT_SECRET")
	if cfg.KeycloakClientSecret == "" {
		missing = append(missing, "KEYCLOAK_CLIENT_SECRET")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	// セッションストアに応じて接続先が必須になる
	cfg.SessionStore = strings.ToLower(getEnvString("SESSION_STORE", SessionStorePostgres))
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	switch cfg.SessionStore {
	case SessionStorePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case SessionStoreRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE: %q", cfg.SessionStore)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < minSessionSecretLen {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLen)
	}

	// Optional fields with defaults
	cfg.BackendURL = strings.TrimRight(getEnvFirst("BACKEND_URL", "NEXT_PUBLIC_BACKEND_URL"), "/")
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://localhost:8082"
	}
	cfg.TemplateID = getEnvFirst("TEMPLATE_ID", "NEXT_PUBLIC_TEMPLATE_ID")
	cfg.KeycloakLegacyClientID = getEnvString("KEYCLOAK_LEGACY_CLIENT_ID", "leave_application")
	cfg.BackendTimeout = getEnvDuration("BACKEND_TIMEOUT", 15*time.Second)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	return cfg, nil
}

// getEnvFirst は指定順に環境変数を参照し、最初に設定されている値を返す。
func getEnvFirst(keys ...string) string {
	for _, key := range keys {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
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
