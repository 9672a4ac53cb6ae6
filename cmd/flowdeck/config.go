package main

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds the engine's host configuration.
// Priority: env vars > settings.json > defaults. A .env file in the
// working directory is loaded into the environment first.
type Config struct {
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token"`
	CachePath string `json:"cache_path"`
	LogLevel  string `json:"log_level"`
}

func defaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:4700",
		CachePath: filepath.Join(flowdeckDir(), "flowdeck.db"),
		LogLevel:  "info",
	}
}

func flowdeckDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowdeck"
	}
	return filepath.Join(home, ".flowdeck")
}

func settingsPath() string {
	return filepath.Join(flowdeckDir(), "settings.json")
}

func loadConfig() Config {
	// Layer 0: .env into the process environment (ignore if missing).
	_ = godotenv.Load()

	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWDECK_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("FLOWDECK_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("FLOWDECK_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}
	if v := os.Getenv("FLOWDECK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}
