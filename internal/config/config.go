package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MissingOrderPolicy decides what a payment callback does when no order
// carries its merchant reference.
type MissingOrderPolicy string

const (
	MissingOrderReject     MissingOrderPolicy = "reject"
	MissingOrderCreateStub MissingOrderPolicy = "create_stub"
)

type Config struct {
	Env      string
	HTTPAddr string

	DBConfig struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		URL      string
	}

	Tripay struct {
		PrivateKey    string
		CallbackEvent string
	}

	ConfirmationWindow        time.Duration
	PaymentTimeoutReason      string
	ConfirmationTimeoutReason string
	MissingOrderPolicy        MissingOrderPolicy

	CronSecret     string
	SweepBatchSize int
	SweepInterval  time.Duration

	RefundWindow time.Duration

	KafkaBrokerURL     string
	KafkaEventsTopic   string
	KafkaConsumerGroup string

	JaegerEndpoint     string
	CORSAllowedOrigins []string
}

// Load reads the configuration from the environment, after loading a .env
// file from the working directory when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	cfg.Env = getEnvOrDefault("APP_ENV", "production")
	cfg.HTTPAddr = getEnvOrDefault("HTTP_ADDR", ":8080")

	cfg.DBConfig.Host = getEnvOrDefault("DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvOrDefault("DB_PORT", "5432")
	cfg.DBConfig.User = getEnvOrDefault("DB_USER", "postgres")
	cfg.DBConfig.Password = getEnvOrDefault("DB_PASSWORD", "postgres")
	cfg.DBConfig.Name = getEnvOrDefault("DB_NAME", "orderflow")
	cfg.DBConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	cfg.DBConfig.URL = os.Getenv("DATABASE_URL")

	cfg.Tripay.PrivateKey = os.Getenv("TRIPAY_PRIVATE_KEY")
	cfg.Tripay.CallbackEvent = getEnvOrDefault("TRIPAY_CALLBACK_EVENT", "payment_status")

	var err error
	if cfg.ConfirmationWindow, err = getEnvAsDuration("CONFIRMATION_WINDOW", 3*time.Hour); err != nil {
		return nil, err
	}
	cfg.PaymentTimeoutReason = getEnvOrDefault("PAYMENT_TIMEOUT_REASON", "Payment timeout")
	cfg.ConfirmationTimeoutReason = getEnvOrDefault("CONFIRMATION_TIMEOUT_REASON", "Freelancer confirmation timeout")
	cfg.MissingOrderPolicy = MissingOrderPolicy(getEnvOrDefault("MISSING_ORDER_POLICY", string(MissingOrderReject)))

	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.SweepBatchSize, err = getEnvAsInt("SWEEP_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getEnvAsDuration("SWEEP_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.RefundWindow, err = getEnvAsDuration("REFUND_WINDOW", 30*24*time.Hour); err != nil {
		return nil, err
	}

	cfg.KafkaBrokerURL = os.Getenv("KAFKA_BROKER_URL")
	cfg.KafkaEventsTopic = getEnvOrDefault("KAFKA_EVENTS_TOPIC", "order_events")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "orderflow-notifier")

	cfg.JaegerEndpoint = os.Getenv("JAEGER_ENDPOINT")
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.CORSAllowedOrigins = strings.Split(origins, ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ConfirmationWindow <= 0 {
		return fmt.Errorf("CONFIRMATION_WINDOW must be positive, got %s", c.ConfirmationWindow)
	}
	if c.SweepBatchSize < 1 || c.SweepBatchSize > 500 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be between 1 and 500, got %d", c.SweepBatchSize)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("SWEEP_INTERVAL must not be negative, got %s", c.SweepInterval)
	}
	if c.RefundWindow <= 0 {
		return fmt.Errorf("REFUND_WINDOW must be positive, got %s", c.RefundWindow)
	}
	switch c.MissingOrderPolicy {
	case MissingOrderReject, MissingOrderCreateStub:
	default:
		return fmt.Errorf("MISSING_ORDER_POLICY must be %q or %q, got %q",
			MissingOrderReject, MissingOrderCreateStub, c.MissingOrderPolicy)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) GetDBConnectionString() string {
	if c.DBConfig.URL != "" {
		return c.DBConfig.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	if c.KafkaBrokerURL == "" {
		return nil
	}
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return value, nil
}
