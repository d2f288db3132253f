package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/nfirs-geocode-etl/internal/workspace"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	RawDir          string
	InterimDir      string
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Batch geocoding.
	BatchSize    int
	MaxAttempts  int
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Workers      int
	RateLimit    float64 // requests per second across workers, 0 disables
	AllowPartial bool

	// Census geocoder.
	CensusBaseURL   string
	CensusBenchmark string
	CensusVintage   string
	CensusTimeout   time.Duration

	// Optional sinks.
	KafkaEnabled bool
	KafkaBrokers []string
	KafkaTopic   string

	MinioEnabled   bool
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	AMQPURL   string
	AMQPQueue string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := parsePositiveInt("GEOCODE_BATCH_SIZE", workspace.MaxBatchSize)
	if err != nil {
		return nil, err
	}
	if batchSize > workspace.MaxBatchSize {
		return nil, fmt.Errorf("invalid GEOCODE_BATCH_SIZE: must be at most %d", workspace.MaxBatchSize)
	}

	maxAttempts, err := parsePositiveInt("GEOCODE_MAX_ATTEMPTS", 10)
	if err != nil {
		return nil, err
	}

	workers, err := parsePositiveInt("GEOCODE_WORKERS", 1)
	if err != nil {
		return nil, err
	}

	minDelay, err := parseDuration("GEOCODE_MIN_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	maxDelay, err := parseDuration("GEOCODE_MAX_DELAY", "4s")
	if err != nil {
		return nil, err
	}
	if maxDelay < minDelay {
		return nil, errors.New("invalid GEOCODE_MAX_DELAY: must not be below GEOCODE_MIN_DELAY")
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("GEOCODE_RATE_LIMIT", "0"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid GEOCODE_RATE_LIMIT")
	}

	censusTimeout, err := parseDuration("CENSUS_TIMEOUT", "10m")
	if err != nil {
		return nil, err
	}
	if censusTimeout <= 0 {
		return nil, errors.New("invalid CENSUS_TIMEOUT")
	}

	minioEndpoint := os.Getenv("MINIO_ENDPOINT")
	minioEnabled := minioEndpoint != ""
	if v := os.Getenv("MINIO_ENABLED"); v != "" {
		minioEnabled = v == "true"
	}

	cfg := &Config{
		RawDir:          sharedcfg.EnvOrDefault("NFIRS_RAW_DIR", "data/raw/nfirs"),
		InterimDir:      sharedcfg.EnvOrDefault("NFIRS_INTERIM_DIR", "data/interim/nfirs"),
		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BatchSize:    batchSize,
		MaxAttempts:  maxAttempts,
		MinDelay:     minDelay,
		MaxDelay:     maxDelay,
		Workers:      workers,
		RateLimit:    rateLimit,
		AllowPartial: os.Getenv("GEOCODE_ALLOW_PARTIAL") == "true",

		CensusBaseURL:   sharedcfg.EnvOrDefault("CENSUS_BASE_URL", "https://geocoding.geo.census.gov"),
		CensusBenchmark: sharedcfg.EnvOrDefault("CENSUS_BENCHMARK", "Public_AR_Current"),
		CensusVintage:   sharedcfg.EnvOrDefault("CENSUS_VINTAGE", "Current_Current"),
		CensusTimeout:   censusTimeout,

		KafkaEnabled: os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers: sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "nfirs-geocoded-addresses"),

		MinioEnabled:   minioEnabled,
		MinioEndpoint:  minioEndpoint,
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    sharedcfg.EnvOrDefault("MINIO_BUCKET", "nfirs-geocoded"),
		MinioUseSSL:    os.Getenv("MINIO_USE_SSL") == "true",

		AMQPURL:   os.Getenv("AMQP_URL"),
		AMQPQueue: sharedcfg.EnvOrDefault("AMQP_QUEUE", "nfirs.geocoded"),
	}

	if cfg.InterimDir == "" {
		return nil, errors.New("NFIRS_INTERIM_DIR is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.MinioEnabled && cfg.MinioEndpoint == "" {
		return nil, errors.New("MINIO_ENABLED is true but MINIO_ENDPOINT is not set")
	}

	return cfg, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive integer", key)
	}
	return n, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
