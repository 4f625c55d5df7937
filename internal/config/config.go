package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
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

	KafkaBrokers         []string
	KafkaHeartbeatTopic  string
	KafkaAccountingTopic string
	KafkaReceiptTopic    string

	AMQPURL      string
	AMQPExchange string

	PGDSN string

	StripeAPIKey string

	Matcher  MatcherConfig
	Dispatch DispatchConfig

	LogLevel      string
	RunMigrations bool
}

// MatcherConfig holds the scoring policy and the driver search bounds.
type MatcherConfig struct {
	DistanceWeight    float64
	RatingWeight      float64
	WheelchairBonus   float64
	LocationFreshness time.Duration
	SearchRadiusKm    float64
	CandidateLimit    int
	TopN              int
	MaxTopN           int
	DirectoryTimeout  time.Duration
}

// DispatchConfig holds lifecycle side-effect policy.
type DispatchConfig struct {
	SideEffectTimeout     time.Duration
	StoreTimeout          time.Duration
	SendReceipts          bool
	DefaultCommissionRate float64
	Currency              string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:             ":8080",
		ReadTimeout:          5 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          120 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		RedisGeoKey:          "drivers_geo",
		KafkaHeartbeatTopic:  "driver-heartbeats",
		KafkaAccountingTopic: "booking-accounting",
		KafkaReceiptTopic:    "booking-receipts",
		AMQPExchange:         "ride.notifications",
		Matcher: MatcherConfig{
			DistanceWeight:   0.6,
			RatingWeight:     0.3,
			WheelchairBonus:  10,
			SearchRadiusKm:   50,
			CandidateLimit:   200,
			TopN:             5,
			MaxTopN:          20,
			DirectoryTimeout: 2 * time.Second,
		},
		Dispatch: DispatchConfig{
			SideEffectTimeout:     5 * time.Second,
			StoreTimeout:          3 * time.Second,
			SendReceipts:          true,
			DefaultCommissionRate: 0.15,
			Currency:              "GBP",
		},
		LogLevel: "info",
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
	setStringFromEnv(&cfg.KafkaHeartbeatTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaAccountingTopic, "KAFKA_ACCOUNTING_TOPIC")
	setStringFromEnv(&cfg.KafkaReceiptTopic, "KAFKA_RECEIPT_TOPIC")

	cfg.AMQPURL = strings.TrimSpace(os.Getenv("AMQP_URL"))
	setStringFromEnv(&cfg.AMQPExchange, "AMQP_EXCHANGE")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))

	m := &cfg.Matcher
	setFloatFromEnv(&m.DistanceWeight, "MATCHER_DISTANCE_WEIGHT", &errs)
	setFloatFromEnv(&m.RatingWeight, "MATCHER_RATING_WEIGHT", &errs)
	setFloatFromEnv(&m.WheelchairBonus, "MATCHER_WHEELCHAIR_BONUS", &errs)
	setDurationFromEnv(&m.LocationFreshness, "MATCHER_LOCATION_FRESHNESS", &errs)
	setFloatFromEnv(&m.SearchRadiusKm, "MATCHER_SEARCH_RADIUS_KM", &errs)
	setIntFromEnv(&m.CandidateLimit, "MATCHER_CANDIDATE_LIMIT", &errs)
	setIntFromEnv(&m.TopN, "MATCHER_TOP_N", &errs)
	setIntFromEnv(&m.MaxTopN, "MATCHER_MAX_TOP_N", &errs)
	setDurationFromEnv(&m.DirectoryTimeout, "MATCHER_DIRECTORY_TIMEOUT", &errs)

	d := &cfg.Dispatch
	setDurationFromEnv(&d.SideEffectTimeout, "SIDE_EFFECT_TIMEOUT", &errs)
	setDurationFromEnv(&d.StoreTimeout, "STORE_TIMEOUT", &errs)
	setBoolFromEnv(&d.SendReceipts, "SEND_RECEIPTS", &errs)
	setFloatFromEnv(&d.DefaultCommissionRate, "DEFAULT_COMMISSION_RATE", &errs)
	setStringFromEnv(&d.Currency, "FARE_CURRENCY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if m.TopN <= 0 {
		errs = append(errs, fmt.Errorf("MATCHER_TOP_N must be > 0"))
	}
	if m.MaxTopN < m.TopN {
		errs = append(errs, fmt.Errorf("MATCHER_MAX_TOP_N must be >= MATCHER_TOP_N"))
	}
	if m.DistanceWeight < 0 || m.RatingWeight < 0 || m.WheelchairBonus < 0 {
		errs = append(errs, fmt.Errorf("matcher weights must be non-negative"))
	}
	if m.DirectoryTimeout < 0 {
		errs = append(errs, fmt.Errorf("MATCHER_DIRECTORY_TIMEOUT must not be negative"))
	}
	if m.LocationFreshness < 0 {
		errs = append(errs, fmt.Errorf("MATCHER_LOCATION_FRESHNESS must not be negative"))
	}
	if d.DefaultCommissionRate < 0 || d.DefaultCommissionRate > 1 {
		errs = append(errs, fmt.Errorf("DEFAULT_COMMISSION_RATE must be within [0,1]"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the heartbeat consumer process.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	RetryAttempts int
	RetryDelay    time.Duration
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:   ":2112",
		KafkaBrokers:  []string{"localhost:9092"},
		KafkaTopic:    "driver-heartbeats",
		KafkaGroup:    "ride-dispatch-consumer",
		RedisAddr:     "localhost:6379",
		RedisGeoKey:   "drivers_geo",
		RetryAttempts: 3,
		RetryDelay:    200 * time.Millisecond,
		LogLevel:      "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setIntFromEnv(&cfg.RetryAttempts, "REDIS_RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryDelay, "REDIS_RETRY_DELAY", &errs)
	setStringFromEnv(&cfg.LogLevel, "LOG_LEVEL")

	if cfg.RetryAttempts <= 0 {
		errs = append(errs, fmt.Errorf("REDIS_RETRY_ATTEMPTS must be > 0"))
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
		if math.IsNaN(f) || math.IsInf(f, 0) {
			*errs = append(*errs, fmt.Errorf("invalid %s: must be a finite number", key))
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

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
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
