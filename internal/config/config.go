// Package config содержит логику чтения конфигурации сервиса заказов.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Режимы журнала.
const (
	LogModeProduction  = "production"
	LogModeDevelopment = "development"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultJWTSecret  = "marketplace-secret"
)

// Config содержит параметры конфигурации сервиса заказов.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	CatalogAddress string `env:"CATALOG_ADDRESS"`
	RedisAddr      string `env:"REDIS_ADDR"`
	JWTSecret      string `env:"JWT_SECRET"`

	RedisChannel              string `env:"REDIS_CHANNEL" envDefault:"notifications"`
	AutoCompleteOnFirstUpload bool   `env:"AUTO_COMPLETE_ON_FIRST_UPLOAD" envDefault:"true"`
	OTelEndpoint              string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	LogMode                   string `env:"LOG_MODE" envDefault:"production"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envCatalogAddress := cfg.CatalogAddress
	envRedisAddr := cfg.RedisAddr
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage if empty")
	flag.StringVar(&cfg.CatalogAddress, "c", "", "quote catalog address")
	flag.StringVar(&cfg.RedisAddr, "n", "", "redis address for notifications")
	flag.StringVar(&cfg.JWTSecret, "s", defaultJWTSecret, "HS256 secret for access tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envCatalogAddress != "" {
		cfg.CatalogAddress = envCatalogAddress
	}
	if envRedisAddr != "" {
		cfg.RedisAddr = envRedisAddr
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}

	switch cfg.LogMode {
	case LogModeProduction, LogModeDevelopment:
	default:
		return nil, fmt.Errorf("unknown log mode %q", cfg.LogMode)
	}

	return cfg, nil
}
