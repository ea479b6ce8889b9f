package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	AgentHTTP = "http"
	AgentMock = "mock"

	DispatchJetStream = "jetstream"
	DispatchDirect    = "direct"
)

type Config struct {
	WebPort        int
	MLLPListenPort int
	DataDir        string

	StoreBackend string
	DatabaseURL  string
	DBMaxConns   int32
	DBMinConns   int32

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	StateCacheTTL time.Duration

	AgentMode     string
	AgentEndpoint string
	AgentTimeout  time.Duration
	RequestPDF    bool

	MaxConcurrentConversions int
	DispatchMode             string

	MaxFileSize   int64
	MaxBatchFiles int

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		WebPort:        getEnvAsInt("WEB_PORT", 5678),
		MLLPListenPort: getEnvAsInt("MLLP_LISTEN_PORT", 7001),
		DataDir:        getEnv("DATA_DIR", "/data"),

		StoreBackend: getEnv("STORE_BACKEND", BackendNATS),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		DBMaxConns:   int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		DBMinConns:   int32(getEnvAsInt("DB_MIN_CONNS", 2)),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		StateCacheTTL: getEnvAsDuration("STATE_CACHE_TTL", 30*time.Second),

		AgentMode:     getEnv("AGENT_MODE", AgentHTTP),
		AgentEndpoint: getEnv("AGENT_ENDPOINT", "http://localhost:3001"),
		AgentTimeout:  getEnvAsDuration("AGENT_TIMEOUT", 300*time.Second),
		RequestPDF:    getEnvAsBool("REQUEST_PDF", true),

		MaxConcurrentConversions: getEnvAsInt("MAX_CONCURRENT_CONVERSIONS", 5),
		DispatchMode:             getEnv("DISPATCH_MODE", DispatchJetStream),

		MaxFileSize:   int64(getEnvAsInt("MAX_FILE_SIZE", 10*1024*1024)),
		MaxBatchFiles: getEnvAsInt("MAX_BATCH_FILES", 10),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	setupLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	slog.Info("Yapılandırma yüklendi",
		"webPort", cfg.WebPort,
		"mllpPort", cfg.MLLPListenPort,
		"storeBackend", cfg.StoreBackend,
		"agentMode", cfg.AgentMode,
		"agentEndpoint", cfg.AgentEndpoint,
		"dispatchMode", cfg.DispatchMode,
		"stateCache", cfg.RedisAddr != "",
	)

	return cfg, nil
}

// Validate rejects unknown modes and missing settings they depend on.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendNATS, BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres için DATABASE_URL gerekli")
		}
	default:
		return fmt.Errorf("geçersiz STORE_BACKEND: %q", c.StoreBackend)
	}

	if c.AgentMode != AgentHTTP && c.AgentMode != AgentMock {
		return fmt.Errorf("geçersiz AGENT_MODE: %q", c.AgentMode)
	}
	if c.DispatchMode != DispatchJetStream && c.DispatchMode != DispatchDirect {
		return fmt.Errorf("geçersiz DISPATCH_MODE: %q", c.DispatchMode)
	}
	if c.MaxConcurrentConversions < 1 {
		return fmt.Errorf("MAX_CONCURRENT_CONVERSIONS en az 1 olmalı")
	}
	if c.MaxBatchFiles < 1 {
		return fmt.Errorf("MAX_BATCH_FILES en az 1 olmalı")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("45s") or plain seconds ("300").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)
}
