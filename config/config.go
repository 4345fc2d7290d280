package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration, shared by every AP2 service
// binary. Each binary reads the same file/env surface and picks its own
// server block by role.
type Config struct {
	Keys     KeysConfig     `mapstructure:"keys"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Merchant MerchantConfig `mapstructure:"merchant"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Services ServicesConfig `mapstructure:"services"`
	Log      LogConfig      `mapstructure:"log"`
}

type KeysConfig struct {
	Directory string `mapstructure:"directory"` // AP2_KEYS_DIRECTORY
}

// DIDDocumentsDir returns the DID document registry directory,
// conventionally a sibling of the keys directory.
func (k KeysConfig) DIDDocumentsDir() string {
	return strings.TrimRight(k.Directory, "/") + "/../data/did_documents"
}

type RedisConfig struct {
	URL string `mapstructure:"url"` // AP2_REDIS_URL / REDIS_URL
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"` // AP2_DATABASE_URL / DATABASE_URL
}

type MerchantConfig struct {
	// Mode selects the cart signing flow: "auto" signs synchronously,
	// "manual" queues carts for operator approval.
	Mode string `mapstructure:"mode"`
	ID   string `mapstructure:"id"` // merchant DID
	Name string `mapstructure:"name"`
}

type TimeoutConfig struct {
	CartWait     time.Duration `mapstructure:"cart_wait"`     // shopping agent wait for candidates
	SignPoll     time.Duration `mapstructure:"sign_poll"`     // merchant agent poll interval
	SignPollCap  time.Duration `mapstructure:"sign_poll_cap"` // merchant agent total poll budget
	ChargeRPC    time.Duration `mapstructure:"charge_rpc"`    // processor -> network charge
	HTTPRequest  time.Duration `mapstructure:"http_request"`  // generic inter-service call
	CartExpiry   time.Duration `mapstructure:"cart_expiry"`
	IntentExpiry time.Duration `mapstructure:"intent_expiry"`
}

// ServicesConfig maps each role to its listen address and base URL for
// Docker-style service-name DNS.
type ServicesConfig struct {
	ShoppingAgent      ServiceAddr `mapstructure:"shopping_agent"`
	MerchantAgent      ServiceAddr `mapstructure:"merchant_agent"`
	Merchant           ServiceAddr `mapstructure:"merchant"`
	PaymentProcessor   ServiceAddr `mapstructure:"payment_processor"`
	PaymentNetwork     ServiceAddr `mapstructure:"payment_network"`
	CredentialProvider ServiceAddr `mapstructure:"credential_provider"`
}

type ServiceAddr struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	URL  string `mapstructure:"url"` // external base URL; defaults to http://host:port
}

// Addr returns the listen address.
func (s ServiceAddr) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL returns the base URL other services use to reach this one.
func (s ServiceAddr) BaseURL() string {
	if s.URL != "" {
		return s.URL
	}
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// EndpointMap returns role -> base URL for the DID resolver's well-known
// fallback and for A2A clients.
func (s ServicesConfig) EndpointMap() map[string]string {
	return map[string]string{
		"shopping_agent":      s.ShoppingAgent.BaseURL(),
		"merchant_agent":      s.MerchantAgent.BaseURL(),
		"merchant":            s.Merchant.BaseURL(),
		"payment_processor":   s.PaymentProcessor.BaseURL(),
		"payment_network":     s.PaymentNetwork.BaseURL(),
		"credential_provider": s.CredentialProvider.BaseURL(),
	}
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Passphrase returns the key-sealing passphrase for a role, read from
// AP2_<ROLE>_PASSPHRASE (role upper-cased, dashes to underscores).
func Passphrase(role string) string {
	env := "AP2_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(role)) + "_PASSPHRASE"
	return os.Getenv(env)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: AP2_.
// Nested keys use underscore: AP2_KEYS_DIRECTORY, AP2_REDIS_URL, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("keys.directory", "./keys")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("database.url", "")
	v.SetDefault("merchant.mode", "auto")
	v.SetDefault("merchant.id", "did:ap2:merchant:mugibooks")
	v.SetDefault("merchant.name", "Mugi Books & Goods")
	v.SetDefault("timeouts.cart_wait", "300s")
	v.SetDefault("timeouts.sign_poll", "5s")
	v.SetDefault("timeouts.sign_poll_cap", "270s")
	v.SetDefault("timeouts.charge_rpc", "30s")
	v.SetDefault("timeouts.http_request", "10s")
	v.SetDefault("timeouts.cart_expiry", "15m")
	v.SetDefault("timeouts.intent_expiry", "24h")
	v.SetDefault("services.shopping_agent.host", "shopping-agent")
	v.SetDefault("services.shopping_agent.port", 8001)
	v.SetDefault("services.merchant_agent.host", "merchant-agent")
	v.SetDefault("services.merchant_agent.port", 8002)
	v.SetDefault("services.merchant.host", "merchant")
	v.SetDefault("services.merchant.port", 8003)
	v.SetDefault("services.payment_processor.host", "payment-processor")
	v.SetDefault("services.payment_processor.port", 8004)
	v.SetDefault("services.payment_network.host", "payment-network")
	v.SetDefault("services.payment_network.port", 8005)
	v.SetDefault("services.credential_provider.host", "credential-provider")
	v.SetDefault("services.credential_provider.port", 8006)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: AP2_REDIS_URL -> redis.url
	v.SetEnvPrefix("AP2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Unprefixed fallbacks used by container platforms.
	if u := os.Getenv("DATABASE_URL"); u != "" && os.Getenv("AP2_DATABASE_URL") == "" && !v.InConfig("database.url") {
		cfg.Database.URL = u
	}
	if u := os.Getenv("REDIS_URL"); u != "" && os.Getenv("AP2_REDIS_URL") == "" && !v.InConfig("redis.url") {
		cfg.Redis.URL = u
	}
	if m := os.Getenv("MERCHANT_AI_MODE"); m != "" {
		cfg.Merchant.Mode = m
	}

	if cfg.Merchant.Mode != "auto" && cfg.Merchant.Mode != "manual" {
		return nil, fmt.Errorf("merchant.mode must be auto or manual, got %q", cfg.Merchant.Mode)
	}

	return &cfg, nil
}
