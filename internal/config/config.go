package config

import (
	"fmt"
	"os"
	"time"
)

// AppConfig ties together the service, claim, and gateway settings.
type AppConfig struct {
	Service  ServiceConfig
	Claims   ClaimsConfig
	Retry    RetryConfig
	Ledger   LedgerConfig
	Notify   NotifyConfig
	Registry RegistryConfig
}

type ServiceConfig struct {
	HTTPPort          int
	HMACSecret        string
	HMACClockSkew     time.Duration
	IdempotencyWindow time.Duration
	ShutdownTimeout   time.Duration
}

type ClaimsConfig struct {
	MaxPinAttempts int
	DefaultTTL     time.Duration
	MinTTL         time.Duration
	MaxTTL         time.Duration
	SweepInterval  time.Duration
	// PendingGrace is how long a Pending record may sit before the sweeper
	// reconciles it against the ledger.
	PendingGrace time.Duration
	ClaimBaseURL string
}

type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier int
}

type LedgerConfig struct {
	BridgeURL   string
	BridgeToken string
	Timeout     time.Duration
}

type NotifyConfig struct {
	TwilioAccountSID string
	TwilioAuthToken  string
	FromNumber       string
}

type RegistryConfig struct {
	PostgresDSN string
}

// Load aggregates configuration from the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		Service: ServiceConfig{
			HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
			HMACSecret:        envOr("API_HMAC_SECRET", ""),
			HMACClockSkew:     envOrDuration("HMAC_CLOCK_SKEW", time.Minute),
			IdempotencyWindow: envOrDuration("IDEMPOTENCY_WINDOW", 24*time.Hour),
			ShutdownTimeout:   envOrDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Claims: ClaimsConfig{
			MaxPinAttempts: envOrInt("CLAIM_MAX_PIN_ATTEMPTS", 5),
			DefaultTTL:     envOrDuration("CLAIM_DEFAULT_TTL", 24*time.Hour),
			MinTTL:         envOrDuration("CLAIM_MIN_TTL", time.Minute),
			MaxTTL:         envOrDuration("CLAIM_MAX_TTL", 30*24*time.Hour),
			SweepInterval:  envOrDuration("CLAIM_SWEEP_INTERVAL", time.Minute),
			PendingGrace:   envOrDuration("CLAIM_PENDING_GRACE", 5*time.Minute),
			ClaimBaseURL:   envOr("CLAIM_BASE_URL", "http://localhost:3000"),
		},
		Retry: RetryConfig{
			MaxAttempts:       envOrInt("RETRY_MAX_ATTEMPTS", 3),
			InitialBackoff:    envOrDuration("RETRY_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:        envOrDuration("RETRY_MAX_BACKOFF", 5*time.Second),
			BackoffMultiplier: envOrInt("RETRY_BACKOFF_MULTIPLIER", 2),
		},
		Ledger: LedgerConfig{
			BridgeURL:   envOr("LEDGER_BRIDGE_URL", ""),
			BridgeToken: envOr("LEDGER_BRIDGE_TOKEN", ""),
			Timeout:     envOrDuration("LEDGER_TIMEOUT", 30*time.Second),
		},
		Notify: NotifyConfig{
			TwilioAccountSID: envOr("TWILIO_ACCOUNT_SID", ""),
			TwilioAuthToken:  envOr("TWILIO_AUTH_TOKEN", ""),
			FromNumber:       envOr("TWILIO_PHONE_NUMBER", ""),
		},
		Registry: RegistryConfig{
			PostgresDSN: envOr("REGISTRY_POSTGRES_DSN", ""),
		},
	}

	if cfg.Claims.MinTTL >= cfg.Claims.MaxTTL {
		return nil, fmt.Errorf("claim TTL bounds inverted: min %s >= max %s", cfg.Claims.MinTTL, cfg.Claims.MaxTTL)
	}
	if cfg.Claims.MaxPinAttempts < 1 {
		return nil, fmt.Errorf("CLAIM_MAX_PIN_ATTEMPTS must be at least 1")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}
