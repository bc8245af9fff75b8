// Package config loads the arbiter process's environment configuration,
// following the same .env + os.Getenv pattern the rest of this codebase
// uses for its process wiring.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-tunable setting listed in spec §6.
type Config struct {
	BrokerURL        string
	DBPath           string
	ListenPort       string
	PrivateModeCode  string
	SnapshotInterval time.Duration
	BehindProxy      bool
}

// Load reads a .env file if present (non-fatal if missing) and returns a
// Config populated from the environment, falling back to the documented
// defaults for anything unset.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		BrokerURL:        getenv("BROKER_URL", ""),
		DBPath:           getenv("DB_PATH", "data/control_plane.db"),
		ListenPort:       getenv("LISTEN_PORT", "8090"),
		PrivateModeCode:  getenv("PRIVATE_MODE_CODE", "unlock"),
		SnapshotInterval: time.Duration(getenvInt("SNAPSHOT_INTERVAL_SECONDS", 60)) * time.Second,
		BehindProxy:      getenv("BEHIND_PROXY", "false") == "true",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
