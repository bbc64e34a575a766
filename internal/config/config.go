// Package config loads runtime settings from .env files and the process environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds every setting the api server and portalctl read at startup.
type Config struct {
	Addr           string
	GRPCAddr       string
	Storage        string
	PostgresDSN    string
	AuthSecret     string
	TokenTTL       time.Duration
	RedisAddr      string
	CacheTTL       time.Duration
	EmailAPIURL    string
	EmailAPIKey    string
	EmailWorkspace string
	ImportBatch    int
	SessionTimeout time.Duration
	DataTimeout    time.Duration
	DevSeed        bool
	RateBurst      int
	RatePerSec     int
}

// LoadEnv overlays .env and .env.dev (when present) onto the process environment.
func LoadEnv(logger *logrus.Logger) {
	files := []string{".env", ".env.dev"}
	loaded := make([]string, 0, len(files))
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).Warnf("failed to load %s", file)
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger == nil {
		return
	}
	if len(loaded) == 0 {
		logger.Debug("no local env files loaded; relying on process environment")
		return
	}
	logger.Debugf("loaded env files: %s", strings.Join(loaded, ", "))
}

// Load reads the typed configuration. Call LoadEnv first to pick up .env files.
func Load() Config {
	cfg := Config{
		Addr:           GetEnv("LOYALTYDESK_ADDR", ":8080"),
		GRPCAddr:       GetEnv("LOYALTYDESK_GRPC_ADDR", ":9090"),
		Storage:        strings.ToLower(GetEnv("LOYALTYDESK_STORAGE", StoragePostgres)),
		PostgresDSN:    GetEnv("LOYALTYDESK_PG_DSN", ""),
		AuthSecret:     GetEnv("LOYALTYDESK_AUTH_SECRET", ""),
		TokenTTL:       GetEnvDuration("LOYALTYDESK_TOKEN_TTL", 24*time.Hour),
		RedisAddr:      GetEnv("LOYALTYDESK_REDIS_ADDR", ""),
		CacheTTL:       GetEnvDuration("LOYALTYDESK_CACHE_TTL", 10*time.Minute),
		EmailAPIURL:    GetEnv("LOYALTYDESK_EMAIL_API_URL", ""),
		EmailAPIKey:    GetEnv("LOYALTYDESK_EMAIL_API_KEY", ""),
		EmailWorkspace: GetEnv("LOYALTYDESK_EMAIL_WORKSPACE_ID", ""),
		ImportBatch:    GetEnvInt("LOYALTYDESK_IMPORT_BATCH_SIZE", 15),
		SessionTimeout: GetEnvDuration("LOYALTYDESK_SESSION_TIMEOUT", 5*time.Second),
		DataTimeout:    GetEnvDuration("LOYALTYDESK_DATA_TIMEOUT", 10*time.Second),
		DevSeed:        GetEnvBool("LOYALTYDESK_DEV_SEED", false),
		RateBurst:      GetEnvInt("LOYALTYDESK_RATE_BURST", 20),
		RatePerSec:     GetEnvInt("LOYALTYDESK_RATE_PER_SEC", 10),
	}
	if cfg.Storage != StorageMemory {
		cfg.Storage = StoragePostgres
	}
	if cfg.ImportBatch <= 0 {
		cfg.ImportBatch = 15
	}
	return cfg
}

// GetEnv returns the variable or defaultValue when unset or empty.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt parses an integer variable, falling back on parse failure.
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvBool parses a boolean variable, falling back on parse failure.
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// GetEnvDuration parses a time.Duration variable such as "5s" or "24h".
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

// LogLevel maps LOG_LEVEL to a logrus level.
func LogLevel() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
