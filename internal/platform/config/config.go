package config

import (
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the compliance engine.
// Everything comes from the environment so main stays lean.
type Server struct {
	Addr string

	// StrictMode controls authorization behavior on DENY: strict blocks the
	// request, lenient logs and proceeds. Lenient is for non-production only.
	StrictMode bool

	// AssertionKey verifies the subject assertion issued by the upstream
	// identity gate. The gate authenticates credentials; we only verify its
	// signed assertion.
	AssertionKey string

	// ConsentURL is the remediation link returned with consent_required
	// responses so clients can direct the subject to the consent screen.
	ConsentURL string

	ConsentTTL        time.Duration
	StorageTimeout    time.Duration
	RetentionInterval time.Duration

	// HashPepper feeds the deterministic HASH masking technique.
	HashPepper string
	// TokenVaultKey seals tokenized values at rest (32 bytes, hex or raw).
	TokenVaultKey string

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings for the token vault.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds settings for the audit outbox publisher.
type KafkaConfig struct {
	Brokers         string
	AuditTopic      string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:              envOr("COMPLIANCE_ADDR", ":8080"),
		StrictMode:        os.Getenv("COMPLIANCE_LENIENT_MODE") != "true",
		AssertionKey:      envOr("IDENTITY_ASSERTION_KEY", "dev-assertion-key-change-in-production"),
		ConsentURL:        envOr("CONSENT_REMEDIATION_URL", "/consent"),
		ConsentTTL:        durationOr("CONSENT_TTL", 365*24*time.Hour),
		StorageTimeout:    durationOr("STORAGE_TIMEOUT", 3*time.Second),
		RetentionInterval: durationOr("RETENTION_INTERVAL", 24*time.Hour),
		HashPepper:        envOr("MASKING_HASH_PEPPER", "dev-pepper-change-in-production"),
		TokenVaultKey:     os.Getenv("TOKEN_VAULT_KEY"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    intOr("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    intOr("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: durationOr("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intOr("REDIS_POOL_SIZE", 10),
			MinIdleConns: intOr("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durationOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durationOr("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durationOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:         os.Getenv("KAFKA_BROKERS"),
			AuditTopic:      envOr("KAFKA_AUDIT_TOPIC", "neonpro.compliance.audit"),
			Acks:            envOr("KAFKA_ACKS", "all"),
			Retries:         intOr("KAFKA_RETRIES", 3),
			DeliveryTimeout: durationOr("KAFKA_DELIVERY_TIMEOUT", 10*time.Second),
		},
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
