package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration for the account service.
// It merges file defaults and environment overrides to support both local and deployed runs.
type Config struct {
	ServiceID string

	HTTPPort int
	GRPCPort int

	DatabaseURL       string
	RedisURL          string
	MaxDBConns        int
	DBConnMaxIdleTime time.Duration
	DBConnMaxLifetime time.Duration

	JWTPrivateKeyPEM  string
	JWTPublicKeyPEM   string
	JWTKeyID          string
	JWTIssuer         string
	AllowEphemeralJWT bool

	BcryptCost int

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	FailedLoginThreshold int
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	PublicBaseURL        string

	RegisterRateLimit int
	ResetRequestLimit int
	RateLimitWindow   time.Duration

	OutboxPollInterval  time.Duration
	OutboxBatchSize     int
	OutboxLease         time.Duration
	OutboxReceiveBudget int
	OutboxMaxBackoff    time.Duration
	// EmbeddedDispatcher runs the outbox dispatcher inside the API process.
	EmbeddedDispatcher  bool
	EventHandlerTimeout time.Duration

	ResetQueueCapacity   int
	WebhookQueueCapacity int
	QueueItemTimeout     time.Duration

	KafkaBrokers      []string
	KafkaTopic        string
	KafkaTopicByEvent map[string]string

	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPImplicitTLS bool
	SMTPTimeout     time.Duration

	OTLPEndpoint      string
	OTLPInsecure      bool
	TraceSampleRatio  float64
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

// configFile mirrors the YAML schema used by configs/default.yaml.
type configFile struct {
	Service struct {
		ID            string `yaml:"id"`
		HTTPPort      int    `yaml:"http_port"`
		GRPCPort      int    `yaml:"grpc_port"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"service"`
	Dependencies struct {
		PostgresURL  string   `yaml:"postgres_url"`
		RedisURL     string   `yaml:"redis_url"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		OTLPEndpoint string   `yaml:"otlp_endpoint"`
	} `yaml:"dependencies"`
	Tokens struct {
		KeyID      string `yaml:"key_id"`
		Issuer     string `yaml:"issuer"`
		AccessTTL  string `yaml:"access_ttl"`
		RefreshTTL string `yaml:"refresh_ttl"`
	} `yaml:"tokens"`
	Outbox struct {
		PollInterval  string `yaml:"poll_interval"`
		BatchSize     int    `yaml:"batch_size"`
		Lease         string `yaml:"lease"`
		ReceiveBudget int    `yaml:"receive_budget"`
		MaxBackoff    string `yaml:"max_backoff"`
		Embedded      *bool  `yaml:"embedded"`
	} `yaml:"outbox"`
	Kafka struct {
		Topic        string            `yaml:"topic"`
		TopicByEvent map[string]string `yaml:"topic_by_event"`
	} `yaml:"kafka"`
	SMTP struct {
		Host        string `yaml:"host"`
		Port        int    `yaml:"port"`
		From        string `yaml:"from"`
		ImplicitTLS bool   `yaml:"implicit_tls"`
	} `yaml:"smtp"`
}

// LoadConfig resolves configuration in priority order: defaults -> file -> env.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:            "M04-Account-Service",
		HTTPPort:             8080,
		GRPCPort:             9090,
		MaxDBConns:           20,
		DBConnMaxIdleTime:    5 * time.Minute,
		DBConnMaxLifetime:    30 * time.Minute,
		JWTKeyID:             "m04-account-key-1",
		JWTIssuer:            "viralforge-accounts",
		AllowEphemeralJWT:    true,
		BcryptCost:           12,
		AccessTokenTTL:       10 * time.Minute,
		RefreshTokenTTL:      14 * 24 * time.Hour,
		FailedLoginThreshold: 5,
		EmailVerificationTTL: 24 * time.Hour,
		PasswordResetTTL:     time.Hour,
		PublicBaseURL:        "http://localhost:8080",
		RegisterRateLimit:    20,
		ResetRequestLimit:    5,
		RateLimitWindow:      time.Minute,
		OutboxPollInterval:   5 * time.Second,
		OutboxBatchSize:      5,
		OutboxLease:          60 * time.Second,
		OutboxReceiveBudget:  3,
		OutboxMaxBackoff:     60 * time.Second,
		EventHandlerTimeout:  30 * time.Second,
		ResetQueueCapacity:   256,
		WebhookQueueCapacity: 1024,
		QueueItemTimeout:     30 * time.Second,
		KafkaTopic:           "account-events",
		SMTPPort:             587,
		SMTPTimeout:          10 * time.Second,
		TraceSampleRatio:     1,
		ShutdownTimeout:      10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		if applyErr := applyConfigFile(&cfg, raw); applyErr != nil {
			return Config{}, applyErr
		}
	}

	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.MaxDBConns = envInt("DB_MAX_CONNS", cfg.MaxDBConns)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", cfg.DBConnMaxIdleTime)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetime)

	cfg.JWTPrivateKeyPEM = envOrDefault("JWT_PRIVATE_KEY_PEM", cfg.JWTPrivateKeyPEM)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY_PEM", cfg.JWTPublicKeyPEM)
	cfg.JWTKeyID = envOrDefault("JWT_KEY_ID", cfg.JWTKeyID)
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.AllowEphemeralJWT = envBool("JWT_ALLOW_EPHEMERAL", cfg.AllowEphemeralJWT)

	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.BcryptCost = envInt("BCRYPT_ROUNDS", cfg.BcryptCost)
	cfg.PublicBaseURL = envOrDefault("PUBLIC_BASE_URL", cfg.PublicBaseURL)

	cfg.AccessTokenTTL = envDuration("ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = envDuration("REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL)
	cfg.FailedLoginThreshold = envInt("FAILED_LOGIN_THRESHOLD", cfg.FailedLoginThreshold)
	cfg.EmailVerificationTTL = envDuration("EMAIL_VERIFICATION_TTL", cfg.EmailVerificationTTL)
	cfg.PasswordResetTTL = envDuration("PASSWORD_RESET_TTL", cfg.PasswordResetTTL)

	cfg.RegisterRateLimit = envInt("REGISTER_RATE_LIMIT_IP_THRESHOLD", cfg.RegisterRateLimit)
	cfg.ResetRequestLimit = envInt("RESET_RATE_LIMIT_IP_THRESHOLD", cfg.ResetRequestLimit)
	cfg.RateLimitWindow = envDuration("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)

	cfg.OutboxPollInterval = envDuration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxLease = envDuration("OUTBOX_LEASE", cfg.OutboxLease)
	cfg.OutboxReceiveBudget = envInt("OUTBOX_RECEIVE_BUDGET", cfg.OutboxReceiveBudget)
	cfg.OutboxMaxBackoff = envDuration("OUTBOX_MAX_BACKOFF", cfg.OutboxMaxBackoff)
	cfg.EmbeddedDispatcher = envBool("OUTBOX_EMBEDDED", cfg.EmbeddedDispatcher)
	cfg.EventHandlerTimeout = envDuration("EVENT_HANDLER_TIMEOUT", cfg.EventHandlerTimeout)

	cfg.ResetQueueCapacity = envInt("RESET_QUEUE_CAPACITY", cfg.ResetQueueCapacity)
	cfg.WebhookQueueCapacity = envInt("WEBHOOK_QUEUE_CAPACITY", cfg.WebhookQueueCapacity)
	cfg.QueueItemTimeout = envDuration("QUEUE_ITEM_TIMEOUT", cfg.QueueItemTimeout)

	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaTopic = envOrDefault("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.SMTPHost = envOrDefault("SMTP_HOST", cfg.SMTPHost)
	cfg.SMTPPort = envInt("SMTP_PORT", cfg.SMTPPort)
	cfg.SMTPUsername = envOrDefault("SMTP_USERNAME", cfg.SMTPUsername)
	cfg.SMTPPassword = envOrDefault("SMTP_PASSWORD", cfg.SMTPPassword)
	cfg.SMTPFrom = envOrDefault("SMTP_FROM", cfg.SMTPFrom)
	cfg.SMTPImplicitTLS = envBool("SMTP_IMPLICIT_TLS", cfg.SMTPImplicitTLS)
	cfg.SMTPTimeout = envDuration("SMTP_TIMEOUT", cfg.SMTPTimeout)

	cfg.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.OTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTLPInsecure)
	cfg.TraceSampleRatio = envFloat("OTEL_TRACES_SAMPLER_ARG", cfg.TraceSampleRatio)

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing DB_URL/POSTGRES_URL")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("missing REDIS_URL")
	}
	if (cfg.JWTPrivateKeyPEM == "" || cfg.JWTPublicKeyPEM == "") && !cfg.AllowEphemeralJWT {
		return Config{}, fmt.Errorf("missing JWT_PRIVATE_KEY_PEM or JWT_PUBLIC_KEY_PEM")
	}
	if cfg.OutboxReceiveBudget < 1 {
		return Config{}, fmt.Errorf("OUTBOX_RECEIVE_BUDGET must be at least 1")
	}
	if cfg.OutboxLease <= cfg.EventHandlerTimeout {
		return Config{}, fmt.Errorf("OUTBOX_LEASE (%s) must exceed EVENT_HANDLER_TIMEOUT (%s)", cfg.OutboxLease, cfg.EventHandlerTimeout)
	}

	return cfg, nil
}

func applyConfigFile(cfg *Config, raw []byte) error {
	var f configFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Service.PublicBaseURL != "" {
		cfg.PublicBaseURL = f.Service.PublicBaseURL
	}
	if f.Dependencies.PostgresURL != "" {
		cfg.DatabaseURL = f.Dependencies.PostgresURL
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = f.Dependencies.KafkaBrokers
	}
	if f.Dependencies.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = f.Dependencies.OTLPEndpoint
	}
	if f.Tokens.KeyID != "" {
		cfg.JWTKeyID = f.Tokens.KeyID
	}
	if f.Tokens.Issuer != "" {
		cfg.JWTIssuer = f.Tokens.Issuer
	}
	if f.Kafka.Topic != "" {
		cfg.KafkaTopic = f.Kafka.Topic
	}
	if len(f.Kafka.TopicByEvent) > 0 {
		cfg.KafkaTopicByEvent = f.Kafka.TopicByEvent
	}
	if f.SMTP.Host != "" {
		cfg.SMTPHost = f.SMTP.Host
	}
	if f.SMTP.Port > 0 {
		cfg.SMTPPort = f.SMTP.Port
	}
	if f.SMTP.From != "" {
		cfg.SMTPFrom = f.SMTP.From
	}
	if f.SMTP.ImplicitTLS {
		cfg.SMTPImplicitTLS = true
	}
	if f.Outbox.BatchSize > 0 {
		cfg.OutboxBatchSize = f.Outbox.BatchSize
	}
	if f.Outbox.ReceiveBudget > 0 {
		cfg.OutboxReceiveBudget = f.Outbox.ReceiveBudget
	}
	if f.Outbox.Embedded != nil {
		cfg.EmbeddedDispatcher = *f.Outbox.Embedded
	}

	durations := []struct {
		key   string
		raw   string
		field *time.Duration
	}{
		{"tokens.access_ttl", f.Tokens.AccessTTL, &cfg.AccessTokenTTL},
		{"tokens.refresh_ttl", f.Tokens.RefreshTTL, &cfg.RefreshTokenTTL},
		{"outbox.poll_interval", f.Outbox.PollInterval, &cfg.OutboxPollInterval},
		{"outbox.lease", f.Outbox.Lease, &cfg.OutboxLease},
		{"outbox.max_backoff", f.Outbox.MaxBackoff, &cfg.OutboxMaxBackoff},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.field = v
	}
	return nil
}

// envOrDefault returns an env var when present, otherwise the provided fallback.
func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// envInt parses integer env vars with safe fallback on empty/invalid values.
func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

// envDuration accepts Go duration strings ("90s", "15m"); bare integers are seconds.
func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return v
}

// envBool parses common boolean env forms while keeping a deterministic fallback.
func envBool(name string, fallback bool) bool {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return fallback
	}
}

// envCSV parses comma-separated env vars and removes empty segments.
func envCSV(name string, fallback []string) []string {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	if len(parts) == 0 {
		return fallback
	}
	return parts
}
