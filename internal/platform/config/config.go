package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults kept as package vars so tests and tooling can reference them.
var (
	DefaultConsentTTL    = 365 * 24 * time.Hour // 1 year
	DefaultTokenTTL      = 7 * 24 * time.Hour
	DefaultAuditPageSize = 20
	MaxAuditPageSize     = 100 // server-side cap on audit page scans
)

// Server captures process-level configuration.
type Server struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  string
	AuditTopic    string
	JWTSigningKey string
	TokenTTL      time.Duration
	ConsentTTL    time.Duration
}

// Redis captures cache connection configuration.
type Redis struct {
	URL      string
	PoolSize int
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("DATAVAULT_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	tokenTTL := DefaultTokenTTL
	if s := os.Getenv("TOKEN_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			tokenTTL = d
		}
	}

	consentTTL := DefaultConsentTTL
	if s := os.Getenv("CONSENT_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			consentTTL = d
		}
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	auditTopic := os.Getenv("AUDIT_TOPIC")
	if auditTopic == "" {
		auditTopic = "datavault.audit"
	}

	return Server{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		AuditTopic:    auditTopic,
		JWTSigningKey: jwtSigningKey,
		TokenTTL:      tokenTTL,
		ConsentTTL:    consentTTL,
	}
}

// RedisFromEnv builds the Redis config; URL empty means Redis is disabled.
func RedisFromEnv() Redis {
	poolSize := 10
	if s := os.Getenv("REDIS_POOL_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			poolSize = n
		}
	}
	return Redis{
		URL:      os.Getenv("REDIS_URL"),
		PoolSize: poolSize,
	}
}
