package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	RedisRatesKey string
	RedisSeqKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	FCMEndpoint string
	FCMKey      string

	OSRMEndpoint string

	DedupWindow     time.Duration
	ReapInterval    time.Duration
	ReapIdle        time.Duration
	CompletionDelay time.Duration
	RideCodePrefix  string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "presence_geo",
		RedisRatesKey:   "rates_per_km",
		RedisSeqKey:     "ride_seq",
		KafkaTopic:      "driver-locations",
		DedupWindow:     5 * time.Second,
		ReapInterval:    60 * time.Second,
		ReapIdle:        5 * time.Minute,
		CompletionDelay: 1500 * time.Millisecond,
		RideCodePrefix:  "RB",
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.RedisRatesKey, "REDIS_RATES_KEY")
	setStringFromEnv(&cfg.RedisSeqKey, "REDIS_SEQ_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.FCMEndpoint = strings.TrimSpace(os.Getenv("FCM_ENDPOINT"))
	cfg.FCMKey = os.Getenv("FCM_KEY")
	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))

	setDurationFromEnv(&cfg.DedupWindow, "DISPATCH_DEDUP_WINDOW", &errs)
	setDurationFromEnv(&cfg.ReapInterval, "PRESENCE_REAP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.ReapIdle, "PRESENCE_REAP_IDLE", &errs)
	setDurationFromEnv(&cfg.CompletionDelay, "COMPLETION_STATUS_DELAY", &errs)
	setStringFromEnv(&cfg.RideCodePrefix, "RIDE_CODE_PREFIX")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.DedupWindow <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_DEDUP_WINDOW must be > 0"))
	}
	if cfg.ReapInterval <= 0 {
		errs = append(errs, fmt.Errorf("PRESENCE_REAP_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
