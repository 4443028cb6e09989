package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/example/journey-matching/internal/distance"
	"github.com/example/journey-matching/internal/settings"
)

// ServerConfig captures all tunable parameters for the API and consumer
// processes. Values are loaded from environment variables with defaults so
// the binaries run locally without a database, Redis or Kafka.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisKeyPrefix string

	KafkaBrokers       []string
	KafkaEventsTopic   string
	KafkaJourneysTopic string
	KafkaGroup         string

	PGDSN      string
	PostGISDSN string

	RoutingBackend  string
	RoutingEndpoint string
	RoutingToken    string
	RoutingTimeout  time.Duration

	NotifyEndpoint  string
	NotifyKey       string
	NotifyTimeout   time.Duration
	NotifySweepSpec string

	// Used when no config table is reachable.
	DistanceMethod string
	MatchingMode   string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RedisKeyPrefix:     "journeys",
		KafkaEventsTopic:   "match-events",
		KafkaJourneysTopic: "journey-submitted",
		KafkaGroup:         "journey-matching-consumer",
		RoutingBackend:     "mapbox",
		RoutingTimeout:     2 * time.Second,
		NotifyTimeout:      5 * time.Second,
		DistanceMethod:     "great_circle",
		MatchingMode:       "hybrid",
		LogLevel:           "info",
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
	setStringFromEnv(&cfg.RedisKeyPrefix, "REDIS_KEY_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaJourneysTopic, "KAFKA_JOURNEYS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.PostGISDSN = cfg.PGDSN
	setStringFromEnv(&cfg.PostGISDSN, "POSTGIS_DSN")

	setStringFromEnv(&cfg.RoutingBackend, "ROUTING_BACKEND")
	setStringFromEnv(&cfg.RoutingEndpoint, "ROUTING_ENDPOINT")
	cfg.RoutingToken = strings.TrimSpace(os.Getenv("MAPBOX_TOKEN"))
	setDurationFromEnv(&cfg.RoutingTimeout, "ROUTING_TIMEOUT", &errs)

	setStringFromEnv(&cfg.NotifyEndpoint, "NOTIFY_ENDPOINT")
	cfg.NotifyKey = os.Getenv("NOTIFY_KEY")
	setDurationFromEnv(&cfg.NotifyTimeout, "NOTIFY_TIMEOUT", &errs)
	setStringFromEnv(&cfg.NotifySweepSpec, "NOTIFY_SWEEP_SPEC")

	setStringFromEnv(&cfg.DistanceMethod, "DISTANCE_METHOD")
	setStringFromEnv(&cfg.MatchingMode, "MATCHING_MODE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	switch strings.ToLower(cfg.RoutingBackend) {
	case "mapbox", "osrm":
	default:
		errs = append(errs, fmt.Errorf("ROUTING_BACKEND must be mapbox or osrm, got %q", cfg.RoutingBackend))
	}
	if strings.EqualFold(cfg.RoutingBackend, "osrm") && cfg.RoutingEndpoint == "" {
		errs = append(errs, fmt.Errorf("ROUTING_ENDPOINT is required for the osrm backend"))
	}
	if cfg.NotifySweepSpec != "" && cfg.NotifyEndpoint == "" {
		errs = append(errs, fmt.Errorf("NOTIFY_SWEEP_SPEC requires NOTIFY_ENDPOINT"))
	}

	return cfg, errors.Join(errs...)
}

// Routing returns the routing backend selection for the routed method.
func (c ServerConfig) Routing() distance.RoutingConfig {
	return distance.RoutingConfig{Backend: c.RoutingBackend, Endpoint: c.RoutingEndpoint, Timeout: c.RoutingTimeout}
}

// StaticSettings is the settings source used when no config table exists.
func (c ServerConfig) StaticSettings() settings.Static {
	return settings.Static(settings.FromValues(map[string]string{
		settings.KeyDistanceMethod: c.DistanceMethod,
		settings.KeyMatchingMode:   c.MatchingMode,
		settings.KeyRoutingToken:   c.RoutingToken,
	}))
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
