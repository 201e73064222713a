package config

import (
	"log"
	"os"
	"slices"
	"strconv"

	"github.com/joho/godotenv"
)

var (
	GeminiAPIKey string
	GeminiModel  string
	AppEnv       string
	IsStaging    bool
	IsProduction bool
	// IsGeminiEnabled is a flag to enable/disable Gemini API usage (enum: "1" or "0")
	IsGeminiEnabled bool

	// database
	DBDriver string // "sqlite" or "mysql"
	DBDSN    string

	// remote hosted session store (backend-as-a-service)
	RemoteStoreURL    string // empty disables mirroring
	RemoteStoreAPIKey string

	JWTSecret string
	Port      string

	// runtime tunables
	RateLimitWindowSeconds  int
	RateLimitCapacity       int
	SessionConcurrencyLimit int
	DuplicateWindowSeconds  int
	ChatCacheTTLSeconds     int
	ChatCacheMaxItems       int

	// chat behavior
	HistoryLimit     int // max messages loaded per session
	ToolResultLimit  int // cap per tool lookup
	PendingRetries   int // POST attempts before a payload is queued
	PendingBackoffMS int // first backoff step, doubled per attempt
	OnlineProbeSecs  int // remote health probe interval
	TypingChunkRunes int // typewriter reveal chunk size
	TypingTickMS     int // typewriter reveal interval
	MaxToolRounds    int // dispatcher loop bound
)

// loadAppEnv: only load .env outside production. A missing .env is not fatal;
// tests and CI run on plain environment variables.
func loadAppEnv() {
	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "production" {
		return
	}
	if err := godotenv.Load(); err != nil {
		log.Printf("[config] no .env file loaded: %v", err)
	}
}

func init() {
	loadAppEnv()

	GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	GeminiModel = os.Getenv("GEMINI_MODEL")

	AppEnv = os.Getenv("APP_ENV")
	if AppEnv == "" {
		AppEnv = "staging"
	}
	if !slices.Contains([]string{"staging", "production"}, AppEnv) {
		log.Fatal("environment variable APP_ENV must be 'staging' or 'production'")
	}
	IsStaging = AppEnv == "staging"
	IsProduction = AppEnv == "production"

	IsGeminiEnabled = os.Getenv("IS_GEMINI_ENABLED") == "1"
	if GeminiModel == "" {
		GeminiModel = "gemini-2.0-flash"
	}

	DBDriver = os.Getenv("DB_DRIVER")
	if DBDriver == "" {
		DBDriver = "sqlite"
	}
	DBDSN = os.Getenv("DB_DSN")
	if DBDSN == "" && DBDriver == "sqlite" {
		DBDSN = "app.db"
	}

	RemoteStoreURL = os.Getenv("REMOTE_STORE_URL")
	RemoteStoreAPIKey = os.Getenv("REMOTE_STORE_API_KEY")

	JWTSecret = os.Getenv("JWT_SECRET_KEY")
	Port = os.Getenv("PORT")
	if Port == "" {
		Port = "5000"
	}

	// Tunables with defaults
	RateLimitWindowSeconds = atoiOr(os.Getenv("RATE_LIMIT_WINDOW_SECONDS"), 10)
	RateLimitCapacity = atoiOr(os.Getenv("RATE_LIMIT_CAPACITY"), 5)
	SessionConcurrencyLimit = atoiOr(os.Getenv("SESSION_CONCURRENCY_LIMIT"), 2)
	DuplicateWindowSeconds = atoiOr(os.Getenv("DUPLICATE_WINDOW_SECONDS"), 45)
	ChatCacheTTLSeconds = atoiOr(os.Getenv("CHAT_CACHE_TTL_SECONDS"), 600)
	ChatCacheMaxItems = atoiOr(os.Getenv("CHAT_CACHE_MAX_ITEMS"), 500)

	HistoryLimit = atoiOr(os.Getenv("HISTORY_LIMIT"), 200)
	ToolResultLimit = atoiOr(os.Getenv("TOOL_RESULT_LIMIT"), 6)
	PendingRetries = atoiOr(os.Getenv("PENDING_RETRIES"), 3)
	PendingBackoffMS = atoiOr(os.Getenv("PENDING_BACKOFF_MS"), 500)
	OnlineProbeSecs = atoiOr(os.Getenv("ONLINE_PROBE_SECONDS"), 15)
	TypingChunkRunes = atoiOr(os.Getenv("TYPING_CHUNK_RUNES"), 28)
	TypingTickMS = atoiOr(os.Getenv("TYPING_TICK_MS"), 12)
	MaxToolRounds = atoiOr(os.Getenv("MAX_TOOL_ROUNDS"), 4)

	if IsProduction && JWTSecret == "" {
		log.Fatal("JWT_SECRET_KEY must be set in production")
	}

	log.Printf("[config] AppEnv=%s IsStaging=%v IsProduction=%v", AppEnv, IsStaging, IsProduction)
	log.Printf("[config] IsGeminiEnabled=%v GeminiAPIKeyPresent=%v GeminiModel=%s", IsGeminiEnabled, GeminiAPIKey != "", GeminiModel)
	log.Printf("[config] DBDriver=%s RemoteStorePresent=%v", DBDriver, RemoteStoreURL != "")
	log.Printf("[config] RateLimit window=%ds capacity=%d sessionConc=%d dupWindow=%ds cacheTTL=%ds cacheMax=%d",
		RateLimitWindowSeconds, RateLimitCapacity, SessionConcurrencyLimit, DuplicateWindowSeconds, ChatCacheTTLSeconds, ChatCacheMaxItems)
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
