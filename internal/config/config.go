package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch process.
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

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	// Dispatch tunables. The radius schedule and notify fan-out are load
	// bearing for the assignment loop.
	InitialRadiusKm  float64
	RadiusStepKm     float64
	DefaultMaxRadius float64
	NotifyTopN       int
	CandidateLimit   int
	NotificationTTL  time.Duration
	OrderSearchTTL   time.Duration
	ExpandRetryDelay time.Duration
	RejectRetryDelay time.Duration
	SweepInterval    time.Duration
	StaleOrderAfter  time.Duration
	DefaultSpeedKmh  float64

	JWTSecret string
	TokenTTL  time.Duration

	PushEndpoint string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "drivers_geo",
		KafkaTopic:       "driver-locations",
		InitialRadiusKm:  2.0,
		RadiusStepKm:     2.0,
		DefaultMaxRadius: 10.0,
		NotifyTopN:       3,
		CandidateLimit:   50,
		NotificationTTL:  60 * time.Second,
		OrderSearchTTL:   10 * time.Minute,
		ExpandRetryDelay: 3 * time.Second,
		RejectRetryDelay: 2 * time.Second,
		SweepInterval:    30 * time.Second,
		StaleOrderAfter:  2 * time.Minute,
		DefaultSpeedKmh:  30,
		TokenTTL:         15 * time.Minute,
		LogLevel:         "info",
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

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setFloatFromEnv(&cfg.InitialRadiusKm, "DISPATCH_INITIAL_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.RadiusStepKm, "DISPATCH_RADIUS_STEP_KM", &errs)
	setFloatFromEnv(&cfg.DefaultMaxRadius, "DISPATCH_MAX_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.NotifyTopN, "DISPATCH_NOTIFY_TOP_N", &errs)
	setIntFromEnv(&cfg.CandidateLimit, "DISPATCH_CANDIDATE_LIMIT", &errs)
	setDurationFromEnv(&cfg.NotificationTTL, "DISPATCH_NOTIFICATION_TTL", &errs)
	setDurationFromEnv(&cfg.OrderSearchTTL, "DISPATCH_ORDER_TTL", &errs)
	setDurationFromEnv(&cfg.ExpandRetryDelay, "DISPATCH_EXPAND_RETRY_DELAY", &errs)
	setDurationFromEnv(&cfg.RejectRetryDelay, "DISPATCH_REJECT_RETRY_DELAY", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "DISPATCH_SWEEP_INTERVAL", &errs)
	setDurationFromEnv(&cfg.StaleOrderAfter, "DISPATCH_STALE_ORDER_AFTER", &errs)
	setFloatFromEnv(&cfg.DefaultSpeedKmh, "DISPATCH_DEFAULT_SPEED_KMH", &errs)

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	setDurationFromEnv(&cfg.TokenTTL, "TOKEN_TTL", &errs)

	cfg.PushEndpoint = os.Getenv("PUSH_ENDPOINT")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.NotifyTopN <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_NOTIFY_TOP_N must be > 0"))
	}
	if cfg.RadiusStepKm <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_RADIUS_STEP_KM must be > 0"))
	}
	if cfg.InitialRadiusKm <= 0 || cfg.InitialRadiusKm > cfg.DefaultMaxRadius {
		errs = append(errs, fmt.Errorf("DISPATCH_INITIAL_RADIUS_KM must be in (0, max radius]"))
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-only-secret"
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

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
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
