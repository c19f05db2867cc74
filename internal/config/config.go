package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	WS         WSConfig         `mapstructure:"ws"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	// SeedUsers are "uuid:name" profiles upserted at startup. The users
	// table is owned by the identity service, so this is for local runs.
	SeedUsers []string `mapstructure:"seed_users"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type EncryptionConfig struct {
	Key          string `mapstructure:"key"`
	LegacyTokens bool   `mapstructure:"legacy_tokens"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type KafkaConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	AuditTopic string   `mapstructure:"audit_topic"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type WSConfig struct {
	SendRatePerSecond float64 `mapstructure:"send_rate_per_second"`
	SendBurst         int     `mapstructure:"send_burst"`
}

const (
	devJWTSecret     = "dev-secret-change-me"
	devEncryptionKey = "dev-encryption-key-change-me"
)

// Load reads .env (if present), then config.yaml from ./config or the
// working directory (if present), then the environment. Environment
// variables win; server.port maps to SERVER_PORT and so on.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "huddle")
	v.SetDefault("database.password", "huddle_dev_password")
	v.SetDefault("database.name", "huddle")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.seed_users", []string{})

	v.SetDefault("jwt.secret", devJWTSecret)
	v.SetDefault("encryption.key", devEncryptionKey)
	v.SetDefault("encryption.legacy_tokens", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "huddle:rooms")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.audit_topic", "huddle.audit")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)

	v.SetDefault("ws.send_rate_per_second", 5.0)
	v.SetDefault("ws.send_burst", 10)
}

// bindLegacyEnv keeps the short variable names of older deployments working.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.name":     "DB_NAME",
		"jwt.secret":        "JWT_SECRET",
		"encryption.key":    "ENCRYPTION_KEY",
		"redis.addr":        "REDIS_URL",
	}
	for key, env := range legacy {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, envKey, env)
	}
}

func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

func (c *Config) Validate() error {
	if c.Storage.Driver != "postgres" && c.Storage.Driver != "memory" {
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", c.Storage.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret is required")
	}
	if c.Encryption.Key == "" {
		return errors.New("encryption.key is required")
	}
	if c.IsProduction() {
		if c.JWT.Secret == devJWTSecret {
			return errors.New("jwt.secret must be set in production")
		}
		if c.Encryption.Key == devEncryptionKey {
			return errors.New("encryption.key must be set in production")
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	return nil
}
