package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-level defaults for webmock. CLI flags override
// these per invocation.
type Config struct {
	// Snapshot storage
	StoreDir string

	// Capture behavior
	CaptureTimeout time.Duration
	QuietWindow    time.Duration
	Headless       bool
	BrowserPath    string
	ProxyAddr      string

	// Serve behavior
	ServeHost string
	ServePort int

	// Admin API
	APIAddr string

	// Logging
	LogFile  string
	LogLevel string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		StoreDir:       getEnvOrDefault("WEBMOCK_STORE_DIR", defaultStoreDir()),
		CaptureTimeout: getEnvDurationOrDefault("WEBMOCK_CAPTURE_TIMEOUT", 60*time.Second),
		QuietWindow:    getEnvDurationOrDefault("WEBMOCK_QUIET_WINDOW", 1500*time.Millisecond),
		Headless:       getEnvBoolOrDefault("WEBMOCK_HEADLESS", true),
		BrowserPath:    os.Getenv("WEBMOCK_BROWSER_PATH"),
		ProxyAddr:      getEnvOrDefault("WEBMOCK_PROXY_ADDR", "127.0.0.1:0"),
		ServeHost:      getEnvOrDefault("WEBMOCK_SERVE_HOST", "127.0.0.1"),
		ServePort:      getEnvIntOrDefault("WEBMOCK_SERVE_PORT", 8080),
		APIAddr:        getEnvOrDefault("WEBMOCK_API_ADDR", "127.0.0.1:8553"),
		LogFile:        getEnvOrDefault("WEBMOCK_LOG_FILE", "logs/webmock.log"),
		LogLevel:       getEnvOrDefault("WEBMOCK_LOG_LEVEL", "info"),
	}

	return cfg, nil
}

func defaultStoreDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./snapshots"
	}
	return filepath.Join(home, ".webmock", "snapshots")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}
