package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds process-wide server configuration, loaded from
// environment variables with an optional YAML overlay (see overlay.go).
type Config struct {
	ListenAddr     string
	DatabaseURL    string
	ReadReplicaURL string
	ObjectRoot     string
	RedisAddr      string
	LogLevel       string

	MinimumWithdrawalMinor int64
	WithdrawalCurrency     string
	CommissionRate         float64

	GatewayAClientID      string
	GatewayASecret        string
	GatewayABaseURL       string
	GatewayBAccessToken   string
	GatewayBBaseURL       string
	WebhookSigningSecretA string
	WebhookSigningSecretB string

	ModCatalogBaseURL string
	ModCatalogAPIKey  string

	SubscriptionBaseURL string
	SubscriptionAPIKey  string

	ParallelDownloadDefault int
	ImportWallClockMax      time.Duration

	S3Region   string
	S3Endpoint string

	JWTSigningSecret string

	Environment     string
	OTLPEndpoint    string
	OTLPInsecure    bool
	ObservabilityOn bool
	TraceSampleRate float64
}

// Load reads the server's environment variables, applying defaults
// suitable for local development, then merges an optional CONFIG_FILE
// YAML overlay on top (see overlay.go). The withdrawal minimum comes from
// MINIMUM_WITHDRAWAL_MINOR (minor units) and the import cap from
// IMPORT_WALL_CLOCK_MAX_MINUTES (whole minutes).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
		DatabaseURL:    envOr("DATABASE_URL", "postgres://packforge@localhost:5432/packforge?sslmode=disable"),
		ReadReplicaURL: os.Getenv("READ_REPLICA_DATABASE_URL"),
		ObjectRoot:     envOr("OBJECT_ROOT", "./data/objects"),
		RedisAddr:      envOr("REDIS_ADDR", "localhost:6379"),
		LogLevel:       envOr("LOG_LEVEL", "INFO"),

		WithdrawalCurrency: envOr("WITHDRAWAL_CURRENCY", "USD"),

		GatewayAClientID:      os.Getenv("GATEWAY_A_CLIENT_ID"),
		GatewayASecret:        os.Getenv("GATEWAY_A_SECRET"),
		GatewayABaseURL:       envOr("GATEWAY_A_BASE_URL", "https://gateway-a.example.com"),
		GatewayBAccessToken:   os.Getenv("GATEWAY_B_ACCESS_TOKEN"),
		GatewayBBaseURL:       envOr("GATEWAY_B_BASE_URL", "https://gateway-b.example.com"),
		WebhookSigningSecretA: os.Getenv("WEBHOOK_SIGNING_SECRET_A"),
		WebhookSigningSecretB: os.Getenv("WEBHOOK_SIGNING_SECRET_B"),

		ModCatalogBaseURL: envOr("MOD_CATALOG_BASE_URL", "https://mods.example.com/api"),
		ModCatalogAPIKey:  os.Getenv("MOD_CATALOG_API_KEY"),

		SubscriptionBaseURL: envOr("SUBSCRIPTION_BASE_URL", "https://subscriptions.example.com/api"),
		SubscriptionAPIKey:  os.Getenv("SUBSCRIPTION_API_KEY"),

		S3Region:   os.Getenv("S3_REGION"),
		S3Endpoint: os.Getenv("S3_ENDPOINT"),

		JWTSigningSecret: os.Getenv("JWT_SIGNING_SECRET"),

		Environment:  envOr("ENVIRONMENT", "development"),
		OTLPEndpoint: envOr("OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure: os.Getenv("OTLP_INSECURE") == "true",
	}
	cfg.ObservabilityOn = os.Getenv("OBSERVABILITY_DISABLED") != "true"

	var err error
	if cfg.MinimumWithdrawalMinor, err = envInt64("MINIMUM_WITHDRAWAL_MINOR", 2000); err != nil {
		return nil, err
	}
	if cfg.CommissionRate, err = envFloat("COMMISSION_RATE", 0.20); err != nil {
		return nil, err
	}
	if cfg.TraceSampleRate, err = envFloat("TRACE_SAMPLE_RATE", 1.0); err != nil {
		return nil, err
	}
	if cfg.ParallelDownloadDefault, err = envInt("PARALLEL_DOWNLOAD_DEFAULT", 5); err != nil {
		return nil, err
	}
	wallClock, err := envInt("IMPORT_WALL_CLOCK_MAX_MINUTES", 30)
	if err != nil {
		return nil, err
	}
	cfg.ImportWallClockMax = time.Duration(wallClock) * time.Minute

	if overlay := os.Getenv("CONFIG_FILE"); overlay != "" {
		if err := applyYAMLOverlay(cfg, overlay); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func envInt64(key string, fallback int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func envFloat(key string, fallback float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(raw, 64)
}
