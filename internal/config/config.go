// Package config provides application configuration management, loading
// settings from .env files, an optional YAML file and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// Service configuration
	ServiceName string `yaml:"service_name" validate:"required"`
	Environment string `yaml:"environment"`
	GRPCPort    string `yaml:"grpc_port" validate:"required,numeric"`
	HTTPPort    string `yaml:"http_port" validate:"required,numeric"`

	// Tracked vehicle and where its history lives
	VehicleID       string `yaml:"vehicle_id" validate:"required"`
	HistoryBackend  string `yaml:"history_backend" validate:"oneof=redis postgres"`
	HistoryTimezone string `yaml:"history_timezone" validate:"required"`

	// Redis configuration
	RedisAddr     string `yaml:"redis_addr" validate:"required"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`

	// Database configuration
	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     string `yaml:"postgres_port"`
	PostgresDB       string `yaml:"postgres_db"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`

	// Map center shown before the first live position arrives
	MapCenterLatitude  float64 `yaml:"map_center_lat" validate:"latitude"`
	MapCenterLongitude float64 `yaml:"map_center_lng" validate:"longitude"`

	// Trip reports
	CSVOutputPath string `yaml:"csv_output_path"`
	QueueWorkers  int    `yaml:"queue_workers" validate:"gt=0"`

	// Ingest authentication, HS256 shared secret
	JWTSecret string `yaml:"jwt_secret" validate:"required,min=16"`

	// OpenTelemetry configuration
	OTELEnabled  bool   `yaml:"otel_enabled"`
	OTELEndpoint string `yaml:"otel_endpoint"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

func defaults() *Config {
	return &Config{
		ServiceName: "trip-tracker",
		Environment: "development",
		GRPCPort:    "50051",
		HTTPPort:    "8080",

		VehicleID:       "vehicle1",
		HistoryBackend:  "redis",
		HistoryTimezone: "UTC",

		RedisAddr: "localhost:6379",

		PostgresHost:     "192.168.1.175",
		PostgresPort:     "6432",
		PostgresDB:       "owntracks",
		PostgresUser:     "development",
		PostgresPassword: "development",

		MapCenterLatitude:  -32.48,
		MapCenterLongitude: -58.23,

		CSVOutputPath: "/data/csv",
		QueueWorkers:  5,

		OTELEndpoint: "localhost:4317",
		LogLevel:     "info",
	}
}

// Load reads configuration: defaults, then CONFIG_FILE (YAML) when set, then
// environment variables. The result is validated.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.GRPCPort = getEnv("GRPC_PORT", cfg.GRPCPort)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)

	cfg.VehicleID = getEnv("VEHICLE_ID", cfg.VehicleID)
	cfg.HistoryBackend = getEnv("HISTORY_BACKEND", cfg.HistoryBackend)
	cfg.HistoryTimezone = getEnv("HISTORY_TIMEZONE", cfg.HistoryTimezone)

	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)

	cfg.PostgresHost = getEnv("POSTGRES_HOST", cfg.PostgresHost)
	cfg.PostgresPort = getEnv("POSTGRES_PORT", cfg.PostgresPort)
	cfg.PostgresDB = getEnv("POSTGRES_DB", cfg.PostgresDB)
	cfg.PostgresUser = getEnv("POSTGRES_USER", cfg.PostgresUser)
	cfg.PostgresPassword = getEnv("POSTGRES_PASSWORD", cfg.PostgresPassword)

	cfg.CSVOutputPath = getEnv("CSV_OUTPUT_PATH", cfg.CSVOutputPath)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.OTELEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTELEndpoint)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.RedisDB, err = parseInt("REDIS_DB", cfg.RedisDB); err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	if cfg.QueueWorkers, err = parseInt("QUEUE_WORKERS", cfg.QueueWorkers); err != nil {
		return nil, fmt.Errorf("invalid QUEUE_WORKERS: %w", err)
	}
	if cfg.MapCenterLatitude, err = parseFloat("MAP_CENTER_LAT", cfg.MapCenterLatitude); err != nil {
		return nil, fmt.Errorf("invalid MAP_CENTER_LAT: %w", err)
	}
	if cfg.MapCenterLongitude, err = parseFloat("MAP_CENTER_LNG", cfg.MapCenterLongitude); err != nil {
		return nil, fmt.Errorf("invalid MAP_CENTER_LNG: %w", err)
	}
	if cfg.OTELEnabled, err = parseBool("OTEL_ENABLED", cfg.OTELEnabled); err != nil {
		return nil, fmt.Errorf("invalid OTEL_ENABLED: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field constraints and the history timezone
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid HISTORY_TIMEZONE: %w", err)
	}
	return nil
}

// Location returns the timezone history days are bucketed in
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.HistoryTimezone)
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.ParseFloat(value, 64)
}

func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.ParseBool(value)
}
