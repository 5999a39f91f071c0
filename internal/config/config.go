package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Storage backend selectors.
const (
	BackendSQLite   = "sqlite"
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config holds all configuration for a single CLI invocation or a hub
// process. Everything is environment-first; flags narrow it further.
type Config struct {
	Home        string // storage root (COURIER_HOME)
	Session     string // session identity (COURIER_SESSION)
	Backend     string // sqlite | file | postgres (COURIER_BACKEND)
	DatabaseURL string // postgres DSN (COURIER_DATABASE_URL)
	MetricsAddr string // optional hub HTTP listener (COURIER_METRICS_ADDR)
	Env         string // development | production (ENV)
}

// Load reads configuration from environment variables.
// A .env file is honored when present (for development).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Home:        getEnv("COURIER_HOME", filepath.Join(os.TempDir(), "courier")),
		Session:     getEnv("COURIER_SESSION", defaultSession()),
		Backend:     getEnv("COURIER_BACKEND", BackendSQLite),
		DatabaseURL: os.Getenv("COURIER_DATABASE_URL"),
		MetricsAddr: os.Getenv("COURIER_METRICS_ADDR"),
		Env:         getEnv("ENV", "development"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// RoomDir returns the per-room storage directory used by the file
// backend and by the hub socket.
func (c *Config) RoomDir(room string) string {
	return filepath.Join(c.Home, "rooms", room)
}

// defaultSession derives a stable session identity from the working
// directory so repeated invocations from the same checkout share a
// cursor. COURIER_SESSION overrides it.
func defaultSession() string {
	wd, err := os.Getwd()
	if err != nil {
		return "agent"
	}
	name := filepath.Base(wd)
	if name == "" || name == "/" || name == "." {
		return "agent"
	}
	return name
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
