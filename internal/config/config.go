package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config top-level struct. All environment lookups live here; the rest of
// the codebase receives this struct once at startup.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Provider  ProviderConfig  `yaml:"provider"`
	Sell      SellConfig      `yaml:"sell"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

// ProviderConfig holds endpoint and credentials for the custody/off-ramp
// provider. ClientID and SecretKey are normally injected via env, not yaml.
type ProviderConfig struct {
	BaseURL         string `yaml:"base_url"`
	ClientID        string `yaml:"client_id"`
	SecretKey       string `yaml:"secret_key"`
	SignatureMaxAge int    `yaml:"signature_max_age_secs"`
}

// SellConfig carries the fixed parameters of the fiat sell leg.
type SellConfig struct {
	FiatSymbol    string `yaml:"fiat_symbol"`
	CryptoSymbol  string `yaml:"crypto_symbol"`
	PaymentMethod string `yaml:"payment_method"`
	FiatRate      string `yaml:"fiat_rate"`
	Network       string `yaml:"network"`
}

// Load reads yaml file and applies env overrides for secrets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if v := os.Getenv("OFFRAMP_CLIENT_ID"); v != "" {
		cfg.Provider.ClientID = v
	}
	if v := os.Getenv("OFFRAMP_SECRET_KEY"); v != "" {
		cfg.Provider.SecretKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("config: provider.base_url is required")
	}
	if c.Provider.ClientID == "" || c.Provider.SecretKey == "" {
		return fmt.Errorf("config: provider client_id and secret_key are required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka.brokers is required")
	}
	return nil
}
