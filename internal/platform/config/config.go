// Package config builds runtime configuration from the environment so main
// stays lean. Every backing service is optional: with no DSNs configured the
// engine runs entirely on in-memory stores and the mock attestor, which is the
// local-development mode.
package config

import (
	"math/big"
	"os"
	"strings"
	"time"

	"deedgate/internal/oracle"
	platformstrings "deedgate/pkg/platform/strings"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr string

	// JWTSigningKey signs reviewer tokens for the admin endpoints.
	JWTSigningKey string
}

// Redis captures connection settings for the user onboarding store.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka captures the audit event stream settings.
type Kafka struct {
	Brokers    []string
	AuditTopic string
}

// Config is the full engine configuration.
type Config struct {
	Server      Server
	Oracle      oracle.Config
	PostgresURL string
	Redis       Redis
	Kafka       Kafka

	// TokenUnitPrice is the platform-wide price of a single property token.
	TokenUnitPrice *big.Int
}

// FromEnv builds the engine configuration from environment variables.
func FromEnv() Config {
	addr := os.Getenv("DEEDGATE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	unitPrice, ok := new(big.Int).SetString(os.Getenv("TOKEN_UNIT_PRICE"), 10)
	if !ok || unitPrice.Sign() <= 0 {
		unitPrice = big.NewInt(100)
	}

	var brokers []string
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		brokers = platformstrings.DedupeAndTrim(strings.Split(raw, ","))
	}
	auditTopic := os.Getenv("KAFKA_AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "deedgate.audit"
	}

	return Config{
		Server: Server{
			Addr:          addr,
			JWTSigningKey: jwtSigningKey,
		},
		Oracle: oracle.Config{
			Endpoint:         os.Getenv("ORACLE_ENDPOINT"),
			APIKey:           os.Getenv("ORACLE_API_KEY"),
			APISecret:        os.Getenv("ORACLE_API_SECRET"),
			RegistryContract: os.Getenv("ORACLE_REGISTRY_CONTRACT"),
		},
		PostgresURL: os.Getenv("POSTGRES_URL"),
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Brokers:    brokers,
			AuditTopic: auditTopic,
		},
		TokenUnitPrice: unitPrice,
	}
}
