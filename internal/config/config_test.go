package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("defaults should load: %v", err)
	}
	m := cfg.Matcher
	if m.DistanceWeight != 0.6 || m.RatingWeight != 0.3 || m.WheelchairBonus != 10 {
		t.Fatalf("unexpected weights %+v", m)
	}
	if m.LocationFreshness != 0 || m.TopN != 5 {
		t.Fatalf("unexpected matcher defaults %+v", m)
	}
	if cfg.Dispatch.DefaultCommissionRate != 0.15 || !cfg.Dispatch.SendReceipts {
		t.Fatalf("unexpected dispatch defaults %+v", cfg.Dispatch)
	}
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("MATCHER_DISTANCE_WEIGHT", "0.5")
	t.Setenv("MATCHER_LOCATION_FRESHNESS", "90s")
	t.Setenv("SEND_RECEIPTS", "false")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matcher.DistanceWeight != 0.5 || cfg.Matcher.LocationFreshness != 90*time.Second {
		t.Fatalf("env not applied: %+v", cfg.Matcher)
	}
	if cfg.Dispatch.SendReceipts {
		t.Fatal("SEND_RECEIPTS=false not applied")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("MATCHER_RATING_WEIGHT", "heavy")
	t.Setenv("SIDE_EFFECT_TIMEOUT", "soon")
	t.Setenv("DEFAULT_COMMISSION_RATE", "1.5")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, key := range []string{"MATCHER_RATING_WEIGHT", "SIDE_EFFECT_TIMEOUT", "DEFAULT_COMMISSION_RATE"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error should mention %s: %v", key, err)
		}
	}
}

func TestLoadConsumerConfig(t *testing.T) {
	t.Setenv("REDIS_RETRY_ATTEMPTS", "0")
	if _, err := LoadConsumerConfig(); err == nil {
		t.Fatal("zero retry attempts should be rejected")
	}
}

func TestLoadServerConfigRejectsNonFiniteFloats(t *testing.T) {
	for _, v := range []string{"NaN", "nan", "Inf", "-Inf"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("MATCHER_DISTANCE_WEIGHT", v)
			cfg, err := LoadServerConfig()
			if err == nil || !strings.Contains(err.Error(), "MATCHER_DISTANCE_WEIGHT") {
				t.Fatalf("expected MATCHER_DISTANCE_WEIGHT error, got %v", err)
			}
			if cfg.Matcher.DistanceWeight != 0.6 {
				t.Fatalf("default should be kept, got %v", cfg.Matcher.DistanceWeight)
			}
		})
	}
}

func TestDirectoryTimeoutFromEnv(t *testing.T) {
	t.Setenv("MATCHER_DIRECTORY_TIMEOUT", "750ms")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matcher.DirectoryTimeout != 750*time.Millisecond {
		t.Fatalf("got %s", cfg.Matcher.DirectoryTimeout)
	}
}
