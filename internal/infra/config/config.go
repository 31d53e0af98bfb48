package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory   = "memory"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	TransportMemory = "memory"
	TransportKafka  = "kafka"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env      string
	HTTPAddr string

	StoreBackend       string
	IdempotencyBackend string
	MongoURI           string
	MongoDB            string
	PostgresDSN        string
	RedisAddr          string
	IdempotencyTTL     time.Duration

	EventTransport     string
	KafkaBrokers       []string
	KafkaTopicPrefix   string
	KafkaGroupID       string
	OutboxPollInterval time.Duration
	RetryBackoff       []time.Duration

	StepTimeout              time.Duration
	SagaTimeout              time.Duration
	CompensationRetryBackoff []time.Duration
	DispatchWorkers          int
	ReconcileInterval        time.Duration

	Faults FaultConfig
}

// FaultConfig drives the simulated step services.
type FaultConfig struct {
	FlightFailureRate float64
	HotelFailureRate  float64
	CarFailureRate    float64
	CancelFailureRate float64
	Latency           time.Duration
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:                getEnv("APP_ENV", "dev"),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		StoreBackend:       strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		IdempotencyBackend: strings.ToLower(getEnv("IDEMPOTENCY_BACKEND", BackendMemory)),
		MongoURI:           os.Getenv("MONGO_URI"),
		MongoDB:            getEnv("MONGO_DB", "travel"),
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		EventTransport:     strings.ToLower(getEnv("EVENT_TRANSPORT", TransportMemory)),
		KafkaTopicPrefix:   getEnv("KAFKA_TOPIC_PREFIX", ""),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "travelsaga-listeners"),
	}
	brokers := getEnv("KAFKA_BROKERS", "")
	if brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	var err error
	if cfg.IdempotencyTTL, err = parseDurationEnv("IDEMP_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = parseDurationEnv("OUTBOX_POLL_INTERVAL", 500*time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.StepTimeout, err = parseDurationEnv("STEP_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SagaTimeout, err = parseDurationEnv("SAGA_TIMEOUT", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = parseDurationEnv("RECONCILE_INTERVAL", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RetryBackoff, err = parseBackoffEnv("RETRY_BACKOFF", "1s,5s,30s"); err != nil {
		return Config{}, err
	}
	if cfg.CompensationRetryBackoff, err = parseBackoffEnv("COMPENSATION_RETRY_BACKOFF", "100ms,500ms"); err != nil {
		return Config{}, err
	}
	if cfg.DispatchWorkers, err = parseIntEnv("DISPATCH_WORKERS", 16); err != nil {
		return Config{}, err
	}
	if cfg.Faults, err = loadFaults(); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFaults() (FaultConfig, error) {
	var (
		f   FaultConfig
		err error
	)
	if f.FlightFailureRate, err = parseFloatEnv("FLIGHT_FAILURE_RATE", 0); err != nil {
		return f, err
	}
	if f.HotelFailureRate, err = parseFloatEnv("HOTEL_FAILURE_RATE", 0); err != nil {
		return f, err
	}
	if f.CarFailureRate, err = parseFloatEnv("CAR_FAILURE_RATE", 0); err != nil {
		return f, err
	}
	if f.CancelFailureRate, err = parseFloatEnv("CANCEL_FAILURE_RATE", 0); err != nil {
		return f, err
	}
	if f.Latency, err = parseDurationEnv("STEP_LATENCY", 0); err != nil {
		return f, err
	}
	return f, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for STORE_BACKEND=mongo")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.IdempotencyBackend {
	case BackendMemory, BackendRedis:
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for IDEMPOTENCY_BACKEND=mongo")
		}
	default:
		return fmt.Errorf("invalid IDEMPOTENCY_BACKEND %q", c.IdempotencyBackend)
	}
	switch c.EventTransport {
	case TransportMemory:
	case TransportKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for EVENT_TRANSPORT=kafka")
		}
	default:
		return fmt.Errorf("invalid EVENT_TRANSPORT %q", c.EventTransport)
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("STEP_TIMEOUT must be positive")
	}
	if c.DispatchWorkers <= 0 {
		return fmt.Errorf("DISPATCH_WORKERS must be positive")
	}
	for key, rate := range map[string]float64{
		"FLIGHT_FAILURE_RATE": c.Faults.FlightFailureRate,
		"HOTEL_FAILURE_RATE":  c.Faults.HotelFailureRate,
		"CAR_FAILURE_RATE":    c.Faults.CarFailureRate,
		"CANCEL_FAILURE_RATE": c.Faults.CancelFailureRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", key, rate)
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBackoffEnv(key, def string) ([]time.Duration, error) {
	var out []time.Duration
	for _, raw := range strings.Split(getEnv(key, def), ",") {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s component %q: %w", key, raw, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return v, nil
}

func parseFloatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s number: %w", key, err)
	}
	return v, nil
}
