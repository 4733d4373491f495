package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	ServerPort  string
	Environment string

	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis configuration
	RedisAddress string

	// JWT secret shared with the API server that mints tokens
	JWTSecret string

	// internal secret used for communication between servers
	InternalSecret string

	FrontendAddress string

	// Session coordination policy
	FlushInterval  time.Duration
	SessionGrace   time.Duration
	StoreTimeout   time.Duration
	WorkerPoolSize int
}

// Global application configuration
var AppConfig Config

// LoadConfig loads configuration from environment variables
func LoadConfig() {
	// Find .env file
	envPath := ".env"
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		// Try to find .env in parent directories
		envPath = filepath.Join("..", ".env")
		if _, err := os.Stat(envPath); os.IsNotExist(err) {
			envPath = filepath.Join("..", "..", ".env")
		}
	}

	// Load .env file if it exists
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			log.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	flushInterval := getEnvInt("FLUSH_INTERVAL_SECONDS", 60)
	sessionGrace := getEnvInt("SESSION_GRACE_SECONDS", 30)
	// A session must not outlive the flush interval with zero participants
	if sessionGrace >= flushInterval {
		sessionGrace = flushInterval / 2
	}

	AppConfig = Config{
		ServerPort:      getEnv("PORT", "8787"),
		Environment:     getEnv("ENV", "development"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "collab_sync"),
		RedisAddress:    getEnv("REDIS_ADDRESS", "localhost:6379"),
		JWTSecret:       getEnv("JWT_SECRET", "collab-jwt-secret"),
		InternalSecret:  getEnv("INTERNAL_SECRET", "collab-internal-secret"),
		FrontendAddress: getEnv("FRONTEND_ADDRESS", "https://production-frontend.com"),
		FlushInterval:   time.Duration(flushInterval) * time.Second,
		SessionGrace:    time.Duration(sessionGrace) * time.Second,
		StoreTimeout:    time.Duration(getEnvInt("STORE_TIMEOUT_SECONDS", 5)) * time.Second,
		WorkerPoolSize:  getEnvInt("WORKER_POOL_SIZE", 4),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid %s=%q, using default %d\n", key, value, defaultValue)
		return defaultValue
	}
	return n
}
