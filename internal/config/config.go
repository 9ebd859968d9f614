package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBolt     = "bolt"
)

type Config struct {
	AppEnv  string
	AppPort string

	StoreDriver string
	DBHost      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBPort      string
	BoltPath    string

	JWTSecret         string
	InternalSecretKey string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	GatewayTimeout        time.Duration
	DefaultCurrency       string

	KafkaBrokers    []string
	KafkaTopic      string
	EmailServiceURL string
}

// Load reads the environment (and a .env file when present) and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:                os.Getenv("APP_ENV"),
		AppPort:               getEnv("APP_PORT", "8080"),
		StoreDriver:           getEnv("STORE_DRIVER", StoreDriverPostgres),
		DBHost:                os.Getenv("DB_HOST"),
		DBUser:                os.Getenv("DB_USER"),
		DBPassword:            os.Getenv("DB_PASSWORD"),
		DBName:                os.Getenv("DB_NAME"),
		DBPort:                os.Getenv("DB_PORT"),
		BoltPath:              getEnv("BOLT_PATH", "payflow.db"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		InternalSecretKey:     os.Getenv("INTERNAL_SECRET_KEY"),
		RazorpayKeyID:         os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:     os.Getenv("RAZORPAY_KEY_SECRET"),
		RazorpayWebhookSecret: os.Getenv("RAZORPAY_WEBHOOK_SECRET"),
		RazorpayBaseURL:       getEnv("RAZORPAY_BASE_URL", "https://api.razorpay.com"),
		DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "INR")),
		KafkaBrokers:          splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "payment-events"),
		EmailServiceURL:       os.Getenv("EMAIL_SERVICE_URL"),
	}

	timeout, err := time.ParseDuration(getEnv("GATEWAY_TIMEOUT", "15s"))
	if err != nil {
		return nil, errors.New("GATEWAY_TIMEOUT must be a duration such as 15s")
	}
	cfg.GatewayTimeout = timeout

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DBHost == "" {
			return nil, errors.New("DB_HOST is required for the postgres store")
		}
	case StoreDriverBolt:
		if cfg.BoltPath == "" {
			return nil, errors.New("BOLT_PATH is required for the bolt store")
		}
	default:
		return nil, errors.New("STORE_DRIVER must be postgres or bolt")
	}

	if cfg.RazorpayKeySecret == "" || cfg.RazorpayWebhookSecret == "" {
		return nil, errors.New("RAZORPAY_KEY_SECRET and RAZORPAY_WEBHOOK_SECRET are required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
