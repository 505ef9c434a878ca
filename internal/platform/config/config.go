// Package config loads typed service configuration from the environment with
// an optional .env file, using viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   Server
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	RabbitMQ RabbitMQConfig
	Jouve    JouveConfig
	Auth     AuthConfig
	Flags    FlagsConfig
	Jobs     JobsConfig
	Tracing  TracingConfig
	Log      LogConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
}

// PostgresConfig configures the primary database. An empty URL selects the in-memory stores.
type PostgresConfig struct {
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig configures the feature-flag store. An empty URL keeps the static flags.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	FlagsKey     string        `mapstructure:"flags_key"`
}

// KafkaConfig configures outbox publishing. No brokers disables the outbox worker.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Partitions   int32         `mapstructure:"partitions"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

// RabbitMQConfig configures the email job queue. An empty URL logs emails instead of sending them.
type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

// JouveConfig configures the identity-check provider client.
type JouveConfig struct {
	Host     string        `mapstructure:"host"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	VaultKey string        `mapstructure:"vault_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig configures admin bearer tokens.
type AuthConfig struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	Issuer        string `mapstructure:"issuer"`
	Audience      string `mapstructure:"audience"`
}

// FlagsConfig holds the static feature-flag defaults used when Redis has no override.
type FlagsConfig struct {
	Age18DepositVersion    int  `mapstructure:"age18_deposit_version"`
	UnderageDepositVersion int  `mapstructure:"underage_deposit_version"`
	UnderageEligibility    bool `mapstructure:"underage_eligibility"`
}

// JobsConfig configures the background retry job.
type JobsConfig struct {
	RetrySchedule  string `mapstructure:"retry_schedule"`
	RetryBatchSize int    `mapstructure:"retry_batch_size"`
}

// TracingConfig configures OTLP export. An empty endpoint disables tracing.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const devSigningKey = "dev-secret-key-change-in-production"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tx_timeout", 5*time.Second)

	v.SetDefault("postgres.url", "")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 5)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)
	v.SetDefault("redis.flags_key", "passculture:feature_flags")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "beneficiary-events")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.poll_interval", time.Second)
	v.SetDefault("kafka.batch_size", 100)

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "notification_events")

	v.SetDefault("jouve.host", "")
	v.SetDefault("jouve.username", "")
	v.SetDefault("jouve.password", "")
	v.SetDefault("jouve.vault_key", "")
	v.SetDefault("jouve.timeout", 10*time.Second)

	v.SetDefault("auth.jwt_signing_key", devSigningKey)
	v.SetDefault("auth.issuer", "passculture")
	v.SetDefault("auth.audience", "passculture-admin")

	v.SetDefault("flags.age18_deposit_version", 0)
	v.SetDefault("flags.underage_deposit_version", 0)
	v.SetDefault("flags.underage_eligibility", false)

	v.SetDefault("jobs.retry_schedule", "*/10 * * * *")
	v.SetDefault("jobs.retry_batch_size", 50)

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "passculture-beneficiaries")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from environment variables (SERVER_ADDR, POSTGRES_URL,
// KAFKA_BROKERS, ...) layered over an optional .env file and defaults.
// Every key must have a default so AutomaticEnv can see it during Unmarshal.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Real environment variables win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Environment == "production" && c.Auth.JWTSigningKey == devSigningKey {
		return errors.New("AUTH_JWT_SIGNING_KEY must be set in production")
	}
	if c.Jobs.RetryBatchSize <= 0 {
		return errors.New("JOBS_RETRY_BATCH_SIZE must be positive")
	}
	if c.Server.TxTimeout <= 0 {
		return errors.New("SERVER_TX_TIMEOUT must be positive")
	}
	return nil
}

// splitList accepts both repeated values and a single comma-separated env value.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
