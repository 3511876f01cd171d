package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures all tunable parameters for the in-process client
// core. Values are primarily loaded from environment variables with sane
// defaults so an embedding app can run locally without excessive setup.
type ClientConfig struct {
	// BackendURL is the request/response API base, e.g. http://localhost:5000.
	BackendURL string
	// ChannelURL is the websocket endpoint of the live channel.
	ChannelURL string

	// LocationCadence is the recurring presence publish interval while a
	// driver is online. Kept inside the 5-10s band expected by dispatch.
	LocationCadence time.Duration
	// SubscriptionInterval is the paywall re-check cadence.
	SubscriptionInterval time.Duration
	// RequestExpiry bounds how long a rider waits for a match before the
	// request is treated as expired locally.
	RequestExpiry time.Duration

	// ReconnectMin/Max bound the live channel redial backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	HTTPTimeout time.Duration
	LogLevel    string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		BackendURL:           "http://localhost:5000",
		ChannelURL:           "ws://localhost:5000/ws",
		LocationCadence:      7 * time.Second,
		SubscriptionInterval: 60 * time.Second,
		RequestExpiry:        90 * time.Second,
		ReconnectMin:         500 * time.Millisecond,
		ReconnectMax:         15 * time.Second,
		HTTPTimeout:          10 * time.Second,
		LogLevel:             "info",
	}
}

// LoadClientConfig reads the environment, accumulating every parse failure
// rather than stopping at the first one.
func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.BackendURL, "YELY_API_URL")
	setStringFromEnv(&cfg.ChannelURL, "YELY_WS_URL")
	setDurationFromEnv(&cfg.LocationCadence, "YELY_LOCATION_CADENCE", &errs)
	setDurationFromEnv(&cfg.SubscriptionInterval, "YELY_SUBSCRIPTION_INTERVAL", &errs)
	setDurationFromEnv(&cfg.RequestExpiry, "YELY_REQUEST_EXPIRY", &errs)
	setDurationFromEnv(&cfg.ReconnectMin, "YELY_RECONNECT_MIN", &errs)
	setDurationFromEnv(&cfg.ReconnectMax, "YELY_RECONNECT_MAX", &errs)
	setDurationFromEnv(&cfg.HTTPTimeout, "YELY_HTTP_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.LocationCadence <= 0 {
		errs = append(errs, fmt.Errorf("YELY_LOCATION_CADENCE must be > 0"))
	}
	if cfg.SubscriptionInterval <= 0 {
		errs = append(errs, fmt.Errorf("YELY_SUBSCRIPTION_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// SimConfig captures tunables for the local dispatch simulator.
type SimConfig struct {
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

	JWTSecret string

	// AcceptLockTTL bounds how long a ride claim is held while the accept
	// transaction completes.
	AcceptLockTTL time.Duration
	// SubscriptionTerm is how long a paid subscription stays active.
	SubscriptionTerm time.Duration
	// OfferRadiusKm bounds which online drivers receive an offer.
	OfferRadiusKm float64

	LogLevel string
}

func defaultSimConfig() SimConfig {
	return SimConfig{
		HTTPAddr:         ":5000",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RedisGeoKey:      "drivers_geo",
		KafkaTopic:       "driver-locations",
		JWTSecret:        "yely-dev-secret",
		AcceptLockTTL:    30 * time.Second,
		SubscriptionTerm: 30 * 24 * time.Hour,
		OfferRadiusKm:    10,
		LogLevel:         "info",
	}
}

func LoadSimConfig() (SimConfig, error) {
	cfg := defaultSimConfig()
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
	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")

	setDurationFromEnv(&cfg.AcceptLockTTL, "ACCEPT_LOCK_TTL", &errs)
	setDurationFromEnv(&cfg.SubscriptionTerm, "SUBSCRIPTION_TERM", &errs)
	setFloatFromEnv(&cfg.OfferRadiusKm, "OFFER_RADIUS_KM", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.OfferRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_RADIUS_KM must be > 0"))
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
