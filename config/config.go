package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"docsync/pkg/logger"
)

type Config struct {
	Port string

	DBUser    string
	DBPass    string
	DBHost    string
	DBPort    string
	DBName    string
	DBSSLMode string

	JWTSecret string

	AutosaveDelay     time.Duration
	PersistTimeout    time.Duration
	MaxMessageBytes   int64
	AllowedOrigins    []string
	RedisAddr         string
	RedisGrantChannel string
	LogLevel          string
}

// Load reads the .env file, when present, and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	return Config{
		Port: getEnv("PORT", "8080"),

		DBUser:    getEnv("user", ""),
		DBPass:    getEnv("password", ""),
		DBHost:    getEnv("host", "localhost"),
		DBPort:    getEnv("port", "5432"),
		DBName:    getEnv("dbname", "docsync"),
		DBSSLMode: getEnv("sslmode", "require"),

		JWTSecret: getEnv("JWT_SECRET", ""),

		AutosaveDelay:     getDuration("AUTOSAVE_DELAY", 2*time.Second),
		PersistTimeout:    getDuration("PERSIST_TIMEOUT", 5*time.Second),
		MaxMessageBytes:   getInt64("WS_MAX_MESSAGE_BYTES", 1<<20),
		AllowedOrigins:    getList("ALLOWED_ORIGINS", []string{"*"}),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisGrantChannel: getEnv("REDIS_CHANNEL", "document_shares"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		logger.Sugar.Warnf("Invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func getInt64(key string, fallback int64) int64 {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		logger.Sugar.Warnf("Invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getList(key string, fallback []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
