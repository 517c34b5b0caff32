// Package config loads gateway configuration from the environment and
// applies defaults, so the rest of the process receives a fully
// populated struct instead of reading globals.
package config

import (
	"errors"
	"os"
)

type Config struct {
	Port       string
	DBPath     string
	JWTSecret  string
	MLURL      string
	CORSOrigin string
	LogLevel   string
	LogJSON    bool
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:       getenv("PORT", "8080"),
		DBPath:     getenv("DB_PATH", "./data/gateway.db"),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		MLURL:      getenv("ML_URL", "https://homura.makeup/"),
		CORSOrigin: getenv("CORS_ORIGIN", "http://127.0.0.1:5500"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogJSON:    os.Getenv("LOG_JSON") == "1",
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
