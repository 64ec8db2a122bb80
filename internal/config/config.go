package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings of the lending API service
type Config struct {
	Port        string
	Environment string
	CORSOrigin  string
	InstanceID  string
	// SQLite Configuration
	SQLitePath string
	// Session Configuration
	JWTSecret     string
	SessionTTL    time.Duration
	SecureCookies bool
	// Bootstrap account created when the user table is empty
	SeedAdminName     string
	SeedAdminEmail    string
	SeedAdminPassword string
	// Redis Configuration (optional - catalog page cache)
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      int  // Cache TTL in seconds
	UseCache      bool // Whether to use cache (Redis) or not
	// Kafka Configuration (optional - lending events)
	KafkaBrokers    []string
	KafkaTopicBooks string
	KafkaTopicLoans string
	KafkaClientID   string
	KafkaGroupID    string
	KafkaAcks       string
	KafkaRetries    int
	UseKafka        bool
}

// ClientConfig holds the settings of the desk CLI and dashboards
type ClientConfig struct {
	Environment    string
	APIURL         string
	RequestTimeout time.Duration
	SearchDebounce time.Duration
	SessionFile    string
	LogFile        string
}

// Load reads the API service configuration from the environment (and .env if present)
func Load() *Config {
	_ = godotenv.Load()

	instanceID := getEnv("INSTANCE_ID", defaultInstanceID())
	return &Config{
		Port:        getEnv("PORT", "5000"),
		Environment: getEnv("ENVIRONMENT", "development"),
		CORSOrigin:  getEnv("CORS_ORIGIN", "*"),
		InstanceID:  instanceID,
		// SQLite Configuration
		SQLitePath: getEnv("SQLITE_PATH", "./library.db"),
		// Session Configuration
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production-min-32-chars"),
		SessionTTL:    time.Duration(getEnvAsInt("SESSION_TTL_MINUTES", 60)) * time.Minute,
		SecureCookies: getEnvAsBool("SECURE_COOKIES", false),
		// Bootstrap account
		SeedAdminName:     getEnv("SEED_ADMIN_NAME", "Administrator"),
		SeedAdminEmail:    getEnv("SEED_ADMIN_EMAIL", "admin@library.local"),
		SeedAdminPassword: getEnv("SEED_ADMIN_PASSWORD", "admin123"),
		// Redis Configuration (optional)
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		CacheTTL:      getEnvAsInt("CACHE_TTL", 60),
		UseCache:      getEnvAsBool("USE_CACHE", false),
		// Kafka Configuration (optional)
		KafkaBrokers:    getEnvAsList("KAFKA_BROKERS", "localhost:9093"),
		KafkaTopicBooks: getEnv("KAFKA_TOPIC_BOOKS", "library.books"),
		KafkaTopicLoans: getEnv("KAFKA_TOPIC_LOANS", "library.loans"),
		KafkaClientID:   getEnv("KAFKA_CLIENT_ID", "library-api"),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "library-api-"+instanceID),
		KafkaAcks:       getEnv("KAFKA_ACKS", "all"),
		KafkaRetries:    getEnvAsInt("KAFKA_RETRIES", 3),
		UseKafka:        getEnvAsBool("USE_KAFKA", false),
	}
}

// LoadClient reads the desk configuration from the environment (and .env if present)
func LoadClient() *ClientConfig {
	_ = godotenv.Load()

	return &ClientConfig{
		Environment:    getEnv("ENVIRONMENT", "development"),
		APIURL:         strings.TrimRight(getEnv("LIBRARY_API_URL", "http://localhost:5000"), "/"),
		RequestTimeout: time.Duration(getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second,
		SearchDebounce: time.Duration(getEnvAsInt("SEARCH_DEBOUNCE_MS", 500)) * time.Millisecond,
		SessionFile:    getEnv("SESSION_FILE", defaultSessionFile()),
		LogFile:        getEnv("LOG_FILE", ""),
	}
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "local"
	}
	return host
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".library-desk-session"
	}
	return filepath.Join(dir, "library-desk", "session")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return result
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

// getEnvAsList parses a comma-separated value
func getEnvAsList(key, defaultValue string) []string {
	parts := strings.Split(getEnv(key, defaultValue), ",")
	for i, part := range parts {
		parts[i] = strings.TrimSpace(part)
	}
	return parts
}
