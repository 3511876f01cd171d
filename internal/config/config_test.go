package config

import (
	"strings"
	"testing"
	"time"
)

func TestClientDefaults(t *testing.T) {
	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BackendURL != "http://localhost:5000" {
		t.Fatalf("unexpected backend url: %s", cfg.BackendURL)
	}
	if cfg.LocationCadence != 7*time.Second {
		t.Fatalf("unexpected cadence: %s", cfg.LocationCadence)
	}
	if cfg.SubscriptionInterval != 60*time.Second {
		t.Fatalf("unexpected subscription interval: %s", cfg.SubscriptionInterval)
	}
	if cfg.RequestExpiry != 90*time.Second {
		t.Fatalf("unexpected request expiry: %s", cfg.RequestExpiry)
	}
}

func TestClientEnvOverrides(t *testing.T) {
	t.Setenv("YELY_API_URL", "https://api.example.com")
	t.Setenv("YELY_LOCATION_CADENCE", "5s")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadClientConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BackendURL != "https://api.example.com" {
		t.Fatalf("override ignored: %s", cfg.BackendURL)
	}
	if cfg.LocationCadence != 5*time.Second {
		t.Fatalf("override ignored: %s", cfg.LocationCadence)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level not normalized: %s", cfg.LogLevel)
	}
}

func TestClientInvalidValuesAccumulate(t *testing.T) {
	t.Setenv("YELY_LOCATION_CADENCE", "not-a-duration")
	t.Setenv("YELY_RECONNECT_MIN", "also-bad")

	_, err := LoadClientConfig()
	if err == nil {
		t.Fatal("expected parse errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "YELY_LOCATION_CADENCE") || !strings.Contains(msg, "YELY_RECONNECT_MIN") {
		t.Fatalf("errors not accumulated: %s", msg)
	}
}

func TestSimBrokersSplitAndTrim(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " b1:9092 , b2:9092 ,, ")

	cfg, err := LoadSimConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "b1:9092" || cfg.KafkaBrokers[1] != "b2:9092" {
		t.Fatalf("unexpected brokers: %+v", cfg.KafkaBrokers)
	}
}

func TestSimRadiusMustBePositive(t *testing.T) {
	t.Setenv("OFFER_RADIUS_KM", "-3")
	if _, err := LoadSimConfig(); err == nil {
		t.Fatal("expected validation error for negative radius")
	}
}
