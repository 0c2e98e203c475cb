package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all pipeline settings, populated from environment variables.
type Config struct {
	DataDir        string
	PopulationFile string
	OutputDir      string

	LogLevel  string
	LogFormat string

	// Destination boundaries (load / publish commands).
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string
	BatchSize    int

	// Optional /healthz + /metrics listener for long runs. Empty disables it.
	MetricsAddr string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	batchSize, err := parseBatchSize()
	if err != nil {
		return nil, err
	}

	dataDir := EnvOrDefault("DATA_DIR", "data")

	cfg := &Config{
		DataDir:        dataDir,
		PopulationFile: EnvOrDefault("POPULATION_FILE", filepath.Join(dataDir, "population_2020.csv")),
		OutputDir:      EnvOrDefault("OUTPUT_DIR", dataDir),
		LogLevel:       EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      EnvOrDefault("LOG_FORMAT", "json"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		KafkaBrokers:   ParseBrokers(EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:     EnvOrDefault("KAFKA_TOPIC", "location-forecasts"),
		BatchSize:      batchSize,
		MetricsAddr:    os.Getenv("METRICS_ADDR"),
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required")
	}

	return cfg, nil
}

// EnvOrDefault returns the environment value for key, or def when unset or empty.
func EnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ParseBrokers splits a comma-separated broker list, dropping empty entries.
func ParseBrokers(s string) []string {
	parts := strings.Split(s, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}

func parseBatchSize() (int, error) {
	s := EnvOrDefault("BATCH_SIZE", "500")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid BATCH_SIZE %q: %w", s, err)
	}
	if n < 1 || n > 10000 {
		return 0, errors.New("BATCH_SIZE must be between 1 and 10000")
	}
	return n, nil
}
