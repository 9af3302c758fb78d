package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Store        StoreConfig
	Postgres     PostgresConfig
	Mongo        MongoConfig
	Redis        RedisConfig
	MQTT         MQTTConfig
	Events       EventsConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Lifecycle    LifecycleConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// Store drivers.
const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
)

// StoreConfig selects the authoritative ticket store.
type StoreConfig struct {
	Driver string
	// Cache serves reads from an in-process view that remote change
	// events invalidate.
	Cache bool
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// MongoConfig holds document store connection values.
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection values. The client carries one
// long-lived Pub/Sub connection next to a small command pool.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	MinIdleConns    int
	DialTimeoutSec  int
	ReadTimeoutSec  int
	WriteTimeoutSec int
	ConnMaxIdleSec  int
}

// MQTTConfig holds broker connection values.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Topic     string
}

// Event transports.
const (
	TransportRedis  = "redis"
	TransportMQTT   = "mqtt"
	TransportMemory = "memory"
)

// EventsConfig selects the cross-process change channel.
type EventsConfig struct {
	Transport string
	Channel   string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
}

// LifecycleConfig tunes the ticket state machine.
type LifecycleConfig struct {
	AutoCompleteTimeoutSeconds int
	MaxActiveTickets           int
	ResolutionStatus           domain.TicketStatus
	ConflictRetries            int
	SweepSchedule              string
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	driver := strings.ToLower(getEnv("STORE_DRIVER", StoreDriverMemory))
	switch driver {
	case StoreDriverMemory, StoreDriverPostgres, StoreDriverMongo:
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER %q", driver)
	}

	transport := strings.ToLower(getEnv("EVENTS_TRANSPORT", TransportMemory))
	switch transport {
	case TransportRedis, TransportMQTT, TransportMemory:
	default:
		return nil, fmt.Errorf("invalid EVENTS_TRANSPORT %q", transport)
	}

	resolution, err := domain.ParseTicketStatus(getEnv("LIFECYCLE_RESOLUTION_STATUS", string(domain.TicketStatusPendingPayment)))
	if err != nil {
		return nil, fmt.Errorf("invalid LIFECYCLE_RESOLUTION_STATUS: %w", err)
	}
	if resolution != domain.TicketStatusPendingPayment && resolution != domain.TicketStatusCompleted {
		return nil, fmt.Errorf("invalid LIFECYCLE_RESOLUTION_STATUS %q: must be %s or %s",
			resolution, domain.TicketStatusPendingPayment, domain.TicketStatusCompleted)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-lifecycle"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Store: StoreConfig{
			Driver: driver,
			Cache:  getEnvAsBool("STORE_CACHE", false),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Mongo: MongoConfig{
			URI:      os.Getenv("MONGO_URI"),
			Database: getEnv("MONGO_DATABASE", "ticket_lifecycle"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,

			PoolSize:        getEnvAsInt("REDIS_POOL_SIZE", 10),
			MinIdleConns:    getEnvAsInt("REDIS_MIN_IDLE_CONNS", 1),
			DialTimeoutSec:  getEnvAsInt("REDIS_DIAL_TIMEOUT_SECONDS", 5),
			ReadTimeoutSec:  getEnvAsInt("REDIS_READ_TIMEOUT_SECONDS", 3),
			WriteTimeoutSec: getEnvAsInt("REDIS_WRITE_TIMEOUT_SECONDS", 3),
			ConnMaxIdleSec:  getEnvAsInt("REDIS_CONN_MAX_IDLE_SECONDS", 300),
		},
		MQTT: MQTTConfig{
			BrokerURL: os.Getenv("MQTT_BROKER_URL"),
			ClientID:  getEnv("MQTT_CLIENT_ID", "ticket-lifecycle"),
			Topic:     getEnv("MQTT_TOPIC", "tickets/events"),
		},
		Events: EventsConfig{
			Transport: transport,
			Channel:   getEnv("EVENTS_CHANNEL", "ticket_events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Lifecycle: LifecycleConfig{
			AutoCompleteTimeoutSeconds: getEnvAsInt("LIFECYCLE_AUTO_COMPLETE_TIMEOUT_SECONDS", 1800),
			MaxActiveTickets:           getEnvAsInt("LIFECYCLE_MAX_ACTIVE_TICKETS", 3),
			ResolutionStatus:           resolution,
			ConflictRetries:            getEnvAsInt("LIFECYCLE_CONFLICT_RETRIES", 3),
			SweepSchedule:              getEnv("LIFECYCLE_SWEEP_SCHEDULE", "@every 30s"),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// AutoCompleteTimeout returns how long a customer has to confirm a fix.
func (l LifecycleConfig) AutoCompleteTimeout() time.Duration {
	return time.Duration(l.AutoCompleteTimeoutSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
