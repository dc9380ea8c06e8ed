package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration.
type Config struct {
	ServerPort string
	LogLevel   string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Target site
	BaseURL  string
	LoginURL string

	// Crawl behavior
	RequestsPerMinute   int
	JitterMax           time.Duration
	DetailConcurrency   int
	PageLoadTimeout     time.Duration
	SessionWaitInterval time.Duration

	// OTP login
	OtpCooldownWindow time.Duration
	OtpValidity       time.Duration

	// Image capture
	ImagesPath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "user"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresDB:       getEnv("POSTGRES_DB", "divar_crawler"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvAsInt("REDIS_DB", 0),

		BaseURL:  getEnv("DIVAR_BASE_URL", "https://divar.ir"),
		LoginURL: getEnv("DIVAR_LOGIN_URL", "https://divar.ir/my-divar/my-posts"),

		RequestsPerMinute:   getEnvAsInt("REQUESTS_PER_MINUTE", 20),
		JitterMax:           getEnvAsDuration("JITTER_MAX_SECONDS", 3) * time.Second,
		DetailConcurrency:   getEnvAsInt("DETAIL_CONCURRENCY", 3),
		PageLoadTimeout:     getEnvAsDuration("PAGE_LOAD_TIMEOUT_SECONDS", 60) * time.Second,
		SessionWaitInterval: getEnvAsDuration("SESSION_WAIT_SECONDS", 15) * time.Second,

		OtpCooldownWindow: getEnvAsDuration("OTP_COOLDOWN_SECONDS", 120) * time.Second,
		OtpValidity:       getEnvAsDuration("OTP_VALIDITY_SECONDS", 300) * time.Second,

		ImagesPath: getEnv("IMAGES_PATH", "./data/images"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallback))
}
