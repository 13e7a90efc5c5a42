package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"payfast-reconciler/internal/events"
	"payfast-reconciler/internal/services/payfast"
	"payfast-reconciler/models"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig         `mapstructure:"server"`
	Redis     RedisConfig          `mapstructure:"redis"`
	PayFast   payfast.Config       `mapstructure:"payfast"`
	PubNub    events.PubNubConfig  `mapstructure:"pubnub"`
	Kafka     events.KafkaConfig   `mapstructure:"kafka"`
	Metrics   MetricsConfig        `mapstructure:"metrics"`
	RateLimit RateLimitConfig      `mapstructure:"rate_limit"`
	Intent    models.IntentOptions `mapstructure:"intent_options"`
}

type ServerConfig struct {
	Address     string        `mapstructure:"address"`
	Environment string        `mapstructure:"environment"`
	Shutdown    time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	// URL is empty when the attempt sequence stays in-process.
	URL         string `mapstructure:"url"`
	SequenceKey string `mapstructure:"sequence_key"`
}

type MetricsConfig struct {
	// Enabled mounts /metrics on the server address.
	Enabled bool `mapstructure:"enabled"`
}

type RateLimitConfig struct {
	WebhookPerMinute int64 `mapstructure:"webhook_per_minute"`
	StatusPerMinute  int64 `mapstructure:"status_per_minute"`
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.address", ":8090")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Redis
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.sequence_key", "payfast:attempt_seq")

	// PayFast
	v.SetDefault("payfast.base_url", "")
	v.SetDefault("payfast.mode", payfast.ModeSandbox)
	v.SetDefault("payfast.merchant_id", "")
	v.SetDefault("payfast.salt", "")
	v.SetDefault("payfast.salt_index", "1")
	v.SetDefault("payfast.callback_url", payfast.DefaultCallbackURL)
	v.SetDefault("payfast.redirect_url", payfast.DefaultRedirectURL)
	v.SetDefault("payfast.redirect_mode", "REDIRECT")
	v.SetDefault("payfast.timeout", "10s")
	v.SetDefault("payfast.enabled_debug_logging", false)

	// PubNub
	v.SetDefault("pubnub.publish_key", "")
	v.SetDefault("pubnub.subscribe_key", "")
	v.SetDefault("pubnub.secret_key", "")
	v.SetDefault("pubnub.user_id", "payfast-reconciler")
	v.SetDefault("pubnub.channel_prefix", "payment")

	// Kafka
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "payfast.events")

	// Monitoring
	v.SetDefault("metrics.enabled", true)

	// Rate limits
	v.SetDefault("rate_limit.webhook_per_minute", 120)
	v.SetDefault("rate_limit.status_per_minute", 30)

	v.SetDefault("intent_options.capture_method", "")
	v.SetDefault("intent_options.setup_future_usage", "")
	v.SetDefault("intent_options.payment_method_types", []string{})
}

// LoadConfig reads path (or ./config.yaml when path is empty) and overlays
// environment variables. Nested keys map to upper-case env names with "."
// replaced by "_", e.g. payfast.salt -> PAYFAST_SALT.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks what the gateway client cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.PayFast.MerchantID == "" {
		errs = append(errs, errors.New("payfast.merchant_id is required"))
	}
	if c.PayFast.Salt == "" {
		errs = append(errs, errors.New("payfast.salt is required"))
	}
	if _, err := payfast.ResolveBaseURL(c.PayFast.Mode, c.PayFast.BaseURL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
