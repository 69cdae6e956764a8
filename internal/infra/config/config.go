package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Payment    PaymentConfig    `mapstructure:"payment"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	Adyen      AdyenConfig      `mapstructure:"adyen"`
	PayPal     PayPalConfig     `mapstructure:"paypal"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode,
	)
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// HTTPClientConfig holds HTTP client configuration for connection pooling.
type HTTPClientConfig struct {
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
}

// PaymentConfig holds orchestration tuning for the payment module.
type PaymentConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	IdempotencyTTL   time.Duration `mapstructure:"idempotency_ttl"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryInitialWait time.Duration `mapstructure:"retry_initial_wait"`
	RetryMaxWait     time.Duration `mapstructure:"retry_max_wait"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
	WebhookDedupTTL  time.Duration `mapstructure:"webhook_dedup_ttl"`
	// EnableMock registers the mock processor; test environments only.
	EnableMock        bool   `mapstructure:"enable_mock"`
	MockWebhookSecret string `mapstructure:"mock_webhook_secret"`
}

// StripeConfig holds Stripe processor configuration.
type StripeConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	ProductID     string `mapstructure:"product_id"`
}

// AdyenConfig holds Adyen processor configuration.
type AdyenConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	MerchantID    string `mapstructure:"merchant_id"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// PayPalConfig holds PayPal processor configuration.
type PayPalConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	ClientID        string            `mapstructure:"client_id"`
	Secret          string            `mapstructure:"secret"`
	IsProd          bool              `mapstructure:"is_prod"`
	WebhookID       string            `mapstructure:"webhook_id"`
	WebhookSecret   string            `mapstructure:"webhook_secret"`
	DefaultCurrency string            `mapstructure:"default_currency"`
	PlanIDs         map[string]string `mapstructure:"plan_ids"` // frequency -> billing plan id
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/givestack")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("GIVESTACK")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if password := os.Getenv("GIVESTACK_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}
	if password := os.Getenv("GIVESTACK_REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}
	if key := os.Getenv("GIVESTACK_STRIPE_SECRET_KEY"); key != "" {
		cfg.Stripe.SecretKey = key
	}
	if secret := os.Getenv("GIVESTACK_STRIPE_WEBHOOK_SECRET"); secret != "" {
		cfg.Stripe.WebhookSecret = secret
	}
	if key := os.Getenv("GIVESTACK_ADYEN_API_KEY"); key != "" {
		cfg.Adyen.APIKey = key
	}
	if secret := os.Getenv("GIVESTACK_ADYEN_WEBHOOK_SECRET"); secret != "" {
		cfg.Adyen.WebhookSecret = secret
	}
	if id := os.Getenv("GIVESTACK_PAYPAL_CLIENT_ID"); id != "" {
		cfg.PayPal.ClientID = id
	}
	if secret := os.Getenv("GIVESTACK_PAYPAL_SECRET"); secret != "" {
		cfg.PayPal.Secret = secret
	}
	if secret := os.Getenv("GIVESTACK_PAYPAL_WEBHOOK_SECRET"); secret != "" {
		cfg.PayPal.WebhookSecret = secret
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "givestack")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// HTTP client defaults
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 20)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.dial_timeout", 10*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 30*time.Second)
	v.SetDefault("http_client.keep_alive", 30*time.Second)

	// Payment defaults
	v.SetDefault("payment.operation_timeout", 30*time.Second)
	v.SetDefault("payment.idempotency_ttl", 24*time.Hour)
	v.SetDefault("payment.retry_attempts", 3)
	v.SetDefault("payment.retry_initial_wait", time.Second)
	v.SetDefault("payment.retry_max_wait", 4*time.Second)
	v.SetDefault("payment.breaker_failures", 5)
	v.SetDefault("payment.breaker_cooldown", 60*time.Second)
	v.SetDefault("payment.webhook_dedup_ttl", 72*time.Hour)
	v.SetDefault("payment.enable_mock", false)

	// Processor defaults
	v.SetDefault("stripe.enabled", false)
	v.SetDefault("adyen.enabled", false)
	v.SetDefault("adyen.base_url", "https://checkout-test.adyen.com")
	v.SetDefault("paypal.enabled", false)
	v.SetDefault("paypal.default_currency", "USD")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
