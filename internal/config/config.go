package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"recipe-gateway/internal/pkg/jwt"
	"recipe-gateway/internal/service/upstream"
)

type AppConfig struct {
	// Server
	HTTPAddr           string
	AppEnv             string
	CORSAllowedOrigins []string
	MetricsEnabled     bool

	// Upstream backend
	Upstream upstream.Config

	// Rate limiting
	RedisAddr       string
	RedisPass       string
	RateLimitMax    int
	RateLimitWindow time.Duration

	// Chat relay
	VectorAPIURL string
	LLMAPIURL    string
	LLMAPIKey    string
	LLMModel     string

	// Development upstream
	DevUpstreamAddr    string
	DevCookieDomain    string
	DevAdminBearerOnly bool
	JWT                jwt.Config
}

// Load loads environment variables into AppConfig.
func Load() AppConfig {
	backend := strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8080"), "/")
	prefix := normalizePath(getEnv("API_PREFIX", "/api/v1"))

	return AppConfig{
		HTTPAddr:           getEnv("HTTP_ADDR", ":3000"),
		AppEnv:             getEnv("APP_ENV", "production"),
		CORSAllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),

		Upstream: upstream.Config{
			BaseURL:         backend,
			APIPrefix:       prefix,
			ProxyBase:       strings.TrimRight(getEnv("PROXY_BASE_URL", ""), "/"),
			RefreshPath:     normalizePath(getEnv("UPSTREAM_REFRESH_PATH", "/api/auth/refresh")),
			LogoutPath:      normalizePath(getEnv("UPSTREAM_LOGOUT_PATH", "/api/auth/logout")),
			MeFallbackPaths: getEnvSlice("UPSTREAM_ME_FALLBACK_PATHS", []string{prefix + "/users/me"}),
			Timeout:         getEnvDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		},

		RedisAddr:       getEnv("REDIS_ADDR", ""),
		RedisPass:       getEnv("REDIS_PASS", ""),
		RateLimitMax:    getEnvInt("RATE_LIMIT_MAX", 30),
		RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		VectorAPIURL: strings.TrimRight(getEnv("VECTOR_API_URL", "http://localhost:8000"), "/"),
		LLMAPIURL:    getEnv("LLM_API_URL", "https://api.groq.com/openai/v1/chat/completions"),
		LLMAPIKey:    getEnv("LLM_API_KEY", os.Getenv("GROQ_API_KEY")),
		LLMModel:     getEnv("LLM_MODEL", "llama-3.1-8b-instant"),

		DevUpstreamAddr:    getEnv("DEV_UPSTREAM_ADDR", ":8080"),
		DevCookieDomain:    getEnv("DEV_COOKIE_DOMAIN", "localhost"),
		DevAdminBearerOnly: getEnvBool("DEV_ADMIN_BEARER_ONLY", false),
		JWT: jwt.Config{
			PrivPath:   getEnv("JWT_PRIVATE_KEY_PATH", ""),
			PubPath:    getEnv("JWT_PUBLIC_KEY_PATH", ""),
			Issuer:     "recipe-backend",
			Audience:   "recipe-clients",
			AccessTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			KID:        "recipe-dev-key",
		},
	}
}

// IsDevelopment reports whether APP_ENV selects development logging.
func (c AppConfig) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development") || strings.EqualFold(c.AppEnv, "dev")
}

// --- Helper functions ---

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func normalizePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}
