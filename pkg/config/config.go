package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv       string
	IsStaging    bool
	IsProduction bool
	LogLevel     string

	JWTSecret   string
	Port        string
	CORSOrigins []string
	UploadDir   string

	// storage
	DBDriver       string // sqlite | mysql | postgres
	DBDSN          string
	HistoryBackend string // gorm | pgx
	RedisURL       string

	// generation
	GenerationProvider string // gemini | openai | local
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	GenerationTimeout  time.Duration
	TitleTimeout       time.Duration

	// pipeline limits
	MaxMessageChars int
	MaxHistoryTurns int

	// runtime tunables
	RateLimitWindowSeconds int
	RateLimitCapacity      int
	UserConcurrencyLimit   int
	DuplicateWindowSeconds int
	TitleCacheTTLSeconds   int
	TitleCacheMaxItems     int
}

// loadAppEnv loads .env unless APP_ENV is production.
func loadAppEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
}

func defaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "staging")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "5000")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://127.0.0.1:3000,http://localhost:5173,http://127.0.0.1:5173")
	v.SetDefault("UPLOAD_DIR", "./uploads")

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "app.db")
	v.SetDefault("HISTORY_BACKEND", "gorm")

	v.SetDefault("GENERATION_PROVIDER", "gemini")
	v.SetDefault("GEMINI_MODEL", "gemini-2.5-flash")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("OPENAI_MODEL", "gpt-4o-mini")
	v.SetDefault("GENERATION_TIMEOUT", "90s")
	v.SetDefault("TITLE_TIMEOUT", "10s")

	v.SetDefault("MAX_MESSAGE_CHARS", 32000)
	v.SetDefault("MAX_HISTORY_TURNS", 100)

	v.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 10)
	v.SetDefault("RATE_LIMIT_CAPACITY", 5)
	v.SetDefault("USER_CONCURRENCY_LIMIT", 2)
	v.SetDefault("DUPLICATE_WINDOW_SECONDS", 3)
	v.SetDefault("TITLE_CACHE_TTL_SECONDS", 600)
	v.SetDefault("TITLE_CACHE_MAX_ITEMS", 500)
}

// Load reads configuration from the process environment (and .env outside
// production) and validates it.
func Load() (*Config, error) {
	loadAppEnv()

	v := viper.New()
	v.AutomaticEnv()
	defaults(v)

	c := &Config{
		AppEnv:   strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		LogLevel: v.GetString("LOG_LEVEL"),

		JWTSecret:   v.GetString("JWT_SECRET_KEY"),
		Port:        v.GetString("PORT"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		UploadDir:   v.GetString("UPLOAD_DIR"),

		DBDriver:       strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:          v.GetString("DB_DSN"),
		HistoryBackend: strings.ToLower(v.GetString("HISTORY_BACKEND")),
		RedisURL:       v.GetString("REDIS_URL"),

		GenerationProvider: strings.ToLower(v.GetString("GENERATION_PROVIDER")),
		GeminiAPIKey:       v.GetString("GEMINI_API_KEY"),
		GeminiModel:        v.GetString("GEMINI_MODEL"),
		GeminiBaseURL:      v.GetString("GEMINI_BASE_URL"),
		OpenAIAPIKey:       v.GetString("OPENAI_API_KEY"),
		OpenAIModel:        v.GetString("OPENAI_MODEL"),
		OpenAIBaseURL:      v.GetString("OPENAI_BASE_URL"),
		GenerationTimeout:  v.GetDuration("GENERATION_TIMEOUT"),
		TitleTimeout:       v.GetDuration("TITLE_TIMEOUT"),

		MaxMessageChars: v.GetInt("MAX_MESSAGE_CHARS"),
		MaxHistoryTurns: v.GetInt("MAX_HISTORY_TURNS"),

		RateLimitWindowSeconds: v.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		RateLimitCapacity:      v.GetInt("RATE_LIMIT_CAPACITY"),
		UserConcurrencyLimit:   v.GetInt("USER_CONCURRENCY_LIMIT"),
		DuplicateWindowSeconds: v.GetInt("DUPLICATE_WINDOW_SECONDS"),
		TitleCacheTTLSeconds:   v.GetInt("TITLE_CACHE_TTL_SECONDS"),
		TitleCacheMaxItems:     v.GetInt("TITLE_CACHE_MAX_ITEMS"),
	}

	if !slices.Contains([]string{"staging", "production"}, c.AppEnv) {
		return nil, fmt.Errorf("environment variable APP_ENV must be 'staging' or 'production', got %q", c.AppEnv)
	}
	c.IsStaging = c.AppEnv == "staging"
	c.IsProduction = c.AppEnv == "production"

	if c.IsProduction && c.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET_KEY must be set in production")
	}
	if !slices.Contains([]string{"sqlite", "mysql", "postgres"}, c.DBDriver) {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if !slices.Contains([]string{"gorm", "pgx"}, c.HistoryBackend) {
		return nil, fmt.Errorf("unsupported HISTORY_BACKEND %q", c.HistoryBackend)
	}
	if c.HistoryBackend == "pgx" && c.DBDriver != "postgres" {
		return nil, fmt.Errorf("HISTORY_BACKEND=pgx requires DB_DRIVER=postgres")
	}
	if !slices.Contains([]string{"gemini", "openai", "local"}, c.GenerationProvider) {
		return nil, fmt.Errorf("unsupported GENERATION_PROVIDER %q", c.GenerationProvider)
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 90 * time.Second
	}
	if c.TitleTimeout <= 0 {
		c.TitleTimeout = 10 * time.Second
	}
	return c, nil
}

// LogSummary writes the non-secret parts of the configuration to the log.
func (c *Config) LogSummary() {
	log.Info().
		Str("app_env", c.AppEnv).
		Str("db_driver", c.DBDriver).
		Str("history_backend", c.HistoryBackend).
		Bool("redis", c.RedisURL != "").
		Msg("config loaded")
	log.Info().
		Str("provider", c.GenerationProvider).
		Str("gemini_model", c.GeminiModel).
		Bool("gemini_key_present", c.GeminiAPIKey != "").
		Str("openai_model", c.OpenAIModel).
		Dur("generation_timeout", c.GenerationTimeout).
		Msg("generation config")
	log.Info().
		Int("rate_window_s", c.RateLimitWindowSeconds).
		Int("rate_capacity", c.RateLimitCapacity).
		Int("user_concurrency", c.UserConcurrencyLimit).
		Int("dup_window_s", c.DuplicateWindowSeconds).
		Int("max_message_chars", c.MaxMessageChars).
		Int("max_history_turns", c.MaxHistoryTurns).
		Msg("runtime tunables")
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
