package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	ratelimit "trackgate/internal/ratelimit/models"
	"trackgate/pkg/platform/middleware/metadata"
	lists "trackgate/pkg/platform/strings"
)

// Server captures process level configuration.
type Server struct {
	Addr                 string
	MetricsAddr          string
	Environment          string
	LogLevel             string
	LogFormat            string
	DefaultOwner         string
	IndexRefreshInterval time.Duration
	ShutdownGracePeriod  time.Duration
	DisableRateLimiting  bool
	// TrustedProxies are the peers whose forwarding headers name the caller.
	TrustedProxies []netip.Prefix

	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Auth      AuthConfig
	RateLimit *ratelimit.Config
	Telemetry TelemetryConfig
}

// DatabaseConfig selects the registry store. An empty URL keeps everything in memory.
type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

// RedisConfig enables the shared rate limit store when URL is set.
type RedisConfig struct {
	URL      string
	PoolSize int
}

// KafkaConfig enables the audit relay when brokers are set.
type KafkaConfig struct {
	Brokers           []string
	AuditTopic        string
	Partitions        int32
	ReplicationFactor int16
	RelayInterval     time.Duration
}

// AuthConfig holds the admin token and relay key settings.
type AuthConfig struct {
	AdminJWTSecret string
	AdminJWTIssuer string
	RelayAPIKeys   []string
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (*Server, error) {
	cfg := &Server{
		Addr:                 getEnvOrDefault("TRACKGATE_ADDR", ":8080"),
		MetricsAddr:          getEnvOrDefault("METRICS_ADDR", ":9090"),
		Environment:          getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		DefaultOwner:         os.Getenv("DEFAULT_OWNER"),
		IndexRefreshInterval: getEnvDurationOrDefault("INDEX_REFRESH_INTERVAL", 30*time.Second),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 15*time.Second),
		DisableRateLimiting:  os.Getenv("DISABLE_RATE_LIMITING") == "true",
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			MaxConns: int32(getEnvIntOrDefault("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			PoolSize: getEnvIntOrDefault("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Brokers:           lists.DedupeAndTrimLower(lists.SplitList(os.Getenv("KAFKA_BROKERS"))),
			AuditTopic:        getEnvOrDefault("AUDIT_TOPIC", "trackgate.config-changes"),
			Partitions:        int32(getEnvIntOrDefault("AUDIT_TOPIC_PARTITIONS", 3)),
			ReplicationFactor: int16(getEnvIntOrDefault("AUDIT_TOPIC_REPLICATION", 1)),
			RelayInterval:     getEnvDurationOrDefault("AUDIT_RELAY_INTERVAL", 2*time.Second),
		},
		Auth: AuthConfig{
			AdminJWTSecret: os.Getenv("ADMIN_JWT_SECRET"),
			AdminJWTIssuer: os.Getenv("ADMIN_JWT_ISSUER"),
			RelayAPIKeys:   lists.SplitList(os.Getenv("RELAY_API_KEYS")),
		},
		RateLimit: rateLimitFromEnv(),
		Telemetry: TelemetryConfig{
			ServiceName:  getEnvOrDefault("OTEL_SERVICE_NAME", "trackgate"),
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		},
	}
	proxies, err := metadata.ParseTrustedProxies(lists.SplitList(os.Getenv("TRUSTED_PROXIES")))
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run safely with.
func (c *Server) Validate() error {
	if c.Auth.AdminJWTSecret == "" {
		if c.IsProduction() {
			return errors.New("ADMIN_JWT_SECRET is required in production")
		}
		// Use a default for development - should be overridden in production
		c.Auth.AdminJWTSecret = "dev-admin-secret-change-in-production"
	}
	if c.IsProduction() && len(c.Auth.AdminJWTSecret) < 32 {
		return errors.New("ADMIN_JWT_SECRET must be at least 32 bytes in production")
	}
	if c.IndexRefreshInterval <= 0 {
		return errors.New("INDEX_REFRESH_INTERVAL must be positive")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate limit config: %w", err)
	}
	return nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Server) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

func rateLimitFromEnv() *ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	for class, prefix := range map[ratelimit.EndpointClass]string{
		ratelimit.ClassAdmin:        "ADMIN",
		ratelimit.ClassConfigLookup: "CONFIG",
		ratelimit.ClassPixel:        "PIXEL",
	} {
		limit := cfg.Limits[class]
		limit.RequestsPerWindow = getEnvIntOrDefault("RATELIMIT_"+prefix+"_REQUESTS", limit.RequestsPerWindow)
		windowSec := getEnvIntOrDefault("RATELIMIT_"+prefix+"_WINDOW_SEC", int(limit.Window.Seconds()))
		limit.Window = time.Duration(windowSec) * time.Second
		cfg.Limits[class] = limit
	}
	if v := os.Getenv("GLOBAL_THROTTLE_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GlobalRPS = rps
		}
	}
	return cfg
}

func getEnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

// getEnvDurationOrDefault accepts Go duration strings ("30s") or bare seconds.
func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
