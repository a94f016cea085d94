package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"listenparty/internal/infra/setup"
)

// Session store backends.
const (
	SessionStoreRedis  = "redis"
	SessionStoreSQL    = "sql"
	SessionStoreMemory = "memory"
)

// Config holds everything read from the environment.
type Config struct {
	ServerPort string
	AppEnv     string
	LogLevel   string

	StorageDriver string
	SQLitePath    string
	DBUser        string
	DBPassword    string
	DBHost        string
	DBPort        string
	DBName        string

	SessionStore  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	JWTSecret      string
	JWTExpiryHours int

	RateLimitMax    int
	RateLimitWindow time.Duration

	MaxQueueSize       int
	DefaultMaxMembers  int
	MaxActiveInvites   int
	InviteTTL          time.Duration
	InviteMaxUses      int
	StreamRetries      int
	StreamRetryBase    time.Duration
	SessionIdleTimeout time.Duration
	SessionTTL         time.Duration
	SweepInterval      string

	CatalogPath       string
	CORSAllowedOrigin string
}

// LoadConfig reads .env if present, then the environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort: envString("SERVER_PORT", "8080"),
		AppEnv:     envString("APP_ENV", "development"),
		LogLevel:   envString("LOG_LEVEL", "info"),

		StorageDriver: envString("STORAGE_DRIVER", setup.DriverSQLite),
		SQLitePath:    envString("SQLITE_PATH", "listenparty.db"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),

		SessionStore:  envString("SESSION_STORE", SessionStoreRedis),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),
		KeyPrefix:     envString("REDIS_KEY_PREFIX", "lp:"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTExpiryHours: envInt("JWT_EXPIRY_HOURS", 24),

		RateLimitMax:    envInt("RATE_LIMIT_MAX", 100),
		RateLimitWindow: time.Duration(envInt("RATE_LIMIT_WINDOW_SECONDS", 1)) * time.Second,

		MaxQueueSize:       envInt("MAX_QUEUE_SIZE", 100),
		DefaultMaxMembers:  envInt("DEFAULT_MAX_MEMBERS", 10),
		MaxActiveInvites:   envInt("MAX_ACTIVE_INVITES", 10),
		InviteTTL:          time.Duration(envInt("INVITE_TTL_SECONDS", 86400)) * time.Second,
		InviteMaxUses:      envInt("INVITE_MAX_USES", 10),
		StreamRetries:      envInt("STREAM_RETRY_ATTEMPTS", 3),
		StreamRetryBase:    time.Duration(envInt("STREAM_RETRY_BASE_MS", 500)) * time.Millisecond,
		SessionIdleTimeout: time.Duration(envInt("SESSION_IDLE_MINUTES", 30)) * time.Minute,
		SessionTTL:         time.Duration(envInt("SESSION_TTL_HOURS", 72)) * time.Hour,
		SweepInterval:      envString("SESSION_SWEEP_INTERVAL", "@every 5m"),

		CatalogPath:       os.Getenv("CATALOG_PATH"),
		CORSAllowedOrigin: envString("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	switch cfg.StorageDriver {
	case setup.DriverSQLite, setup.DriverMySQL, setup.DriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	switch cfg.SessionStore {
	case SessionStoreRedis, SessionStoreMemory:
	case SessionStoreSQL:
		if cfg.StorageDriver == setup.DriverMemory {
			return nil, fmt.Errorf("SESSION_STORE=sql requires a SQL STORAGE_DRIVER")
		}
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE %q", cfg.SessionStore)
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		logrus.Warnf("Invalid %s '%s', using default %d", key, raw, def)
		return def
	}
	return v
}
