package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	defaultPort          = "8080"
	defaultMongoDatabase = "clinipratica"
	defaultMPBaseURL     = "https://api.mercadopago.com"
	defaultBillingTopic  = "tenant_billing"
	defaultTrialDays     = 14
	defaultAllowedOrigin = "http://localhost:3000"
	defaultTimezone      = "America/Sao_Paulo"

	defaultSignatureTolerance = 5 * time.Minute
)

// Config holds everything the API reads from the environment.
type Config struct {
	Port          string
	Development   bool
	LogLevel      string
	AllowedOrigin string

	MongoURI      string
	MongoDatabase string
	DatabaseURL   string

	SupabaseJWTSecret string
	SupabaseURL       string
	InternalAPIKey    string

	MercadoPago MercadoPagoConfig
	Kafka       KafkaConfig

	TrialDays int
	// Location is where calendar months and due dates are evaluated.
	Location *time.Location
}

// MercadoPagoConfig holds the payment provider settings.
type MercadoPagoConfig struct {
	AccessToken           string
	BaseURL               string
	WebhookSecret         string
	AllowUnsignedWebhooks bool
	// SignatureTolerance is how far the signed ts may drift from now. Zero
	// disables the replay check.
	SignatureTolerance time.Duration
	// External preapproval plan ids keyed by internal tier name.
	PlanIDs map[string]string
}

// KafkaConfig holds the billing event producer settings. An empty
// BootstrapServers disables publishing.
type KafkaConfig struct {
	BootstrapServers string
	APIKey           string
	APISecret        string
	BillingTopic     string
}

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error loading .env: %w", err)
	}
	return nil
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	trialDays := defaultTrialDays
	if raw := strings.TrimSpace(os.Getenv("TRIAL_DAYS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid TRIAL_DAYS %q", raw)
		}
		trialDays = n
	}

	allowUnsigned := false
	if raw := strings.TrimSpace(os.Getenv("MP_WEBHOOK_ALLOW_UNSIGNED")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid MP_WEBHOOK_ALLOW_UNSIGNED %q", raw)
		}
		allowUnsigned = v
	}

	tolerance := defaultSignatureTolerance
	if raw := strings.TrimSpace(os.Getenv("MP_WEBHOOK_TOLERANCE")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("invalid MP_WEBHOOK_TOLERANCE %q", raw)
		}
		tolerance = d
	}

	tz := getEnv("TIMEZONE", defaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err)
	}

	appEnv := strings.ToLower(strings.TrimSpace(os.Getenv("APP_ENV")))

	cfg := &Config{
		Port:              getEnv("PORT", defaultPort),
		Development:       appEnv == "" || appEnv == "development",
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		AllowedOrigin:     getEnv("ALLOWED_ORIGIN", defaultAllowedOrigin),
		MongoURI:          os.Getenv("MONGO_URI"),
		MongoDatabase:     getEnv("MONGO_DATABASE", defaultMongoDatabase),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SupabaseJWTSecret: os.Getenv("SUPABASE_JWT_SECRET"),
		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		InternalAPIKey:    os.Getenv("INTERNAL_API_KEY"),
		MercadoPago: MercadoPagoConfig{
			AccessToken:           os.Getenv("MP_ACCESS_TOKEN"),
			BaseURL:               strings.TrimRight(getEnv("MP_API_BASE_URL", defaultMPBaseURL), "/"),
			WebhookSecret:         os.Getenv("MP_WEBHOOK_SECRET"),
			AllowUnsignedWebhooks: allowUnsigned,
			SignatureTolerance:    tolerance,
			PlanIDs: map[string]string{
				"essential":    os.Getenv("MP_PLAN_ESSENTIAL"),
				"professional": os.Getenv("MP_PLAN_PROFESSIONAL"),
				"clinic":       os.Getenv("MP_PLAN_CLINIC"),
			},
		},
		Kafka: KafkaConfig{
			BootstrapServers: os.Getenv("KAFKA_BOOTSTRAP_SERVERS"),
			APIKey:           os.Getenv("KAFKA_API_KEY"),
			APISecret:        os.Getenv("KAFKA_API_SECRET"),
			BillingTopic:     getEnv("KAFKA_BILLING_TOPIC", defaultBillingTopic),
		},
		TrialDays: trialDays,
		Location:  loc,
	}

	return cfg, nil
}

// Validate reports missing settings the server cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.MongoURI == "" {
		missing = append(missing, "MONGO_URI")
	}
	if c.MercadoPago.AccessToken == "" {
		missing = append(missing, "MP_ACCESS_TOKEN")
	}
	if c.SupabaseJWTSecret == "" {
		missing = append(missing, "SUPABASE_JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	if c.MercadoPago.WebhookSecret == "" && !c.MercadoPago.AllowUnsignedWebhooks {
		return errors.New("MP_WEBHOOK_SECRET is not set; set MP_WEBHOOK_ALLOW_UNSIGNED=true to accept unsigned webhooks")
	}
	return nil
}

// JWTIssuer is the issuer expected on Supabase access tokens.
func (c *Config) JWTIssuer() string {
	if c.SupabaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.SupabaseURL, "/") + "/auth/v1"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
