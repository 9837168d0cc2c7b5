// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/minhle/hooktrader/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Contract  ContractConfig  `yaml:"contract"`
	Execution ExecutionConfig `yaml:"execution"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Journal   JournalConfig   `yaml:"journal"`
	Alerting  AlertingConfig  `yaml:"alerting"`
}

// BrokerConfig holds broker connection settings.
type BrokerConfig struct {
	Type              string `yaml:"type"` // ibkr | sim
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	ClientID          int    `yaml:"client_id"`
	Account           string `yaml:"account"`
	PaperTrading      bool   `yaml:"paper_trading"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	AutoReconnect     bool   `yaml:"auto_reconnect"`
}

// ContractConfig holds the traded contract settings.
type ContractConfig struct {
	Symbol string `yaml:"symbol"` // MES | ES
	Expiry string `yaml:"expiry"` // YYYYMM; empty rolls to the front month
}

// ExecutionConfig holds order execution settings.
type ExecutionConfig struct {
	OrderTimeoutSec    int    `yaml:"order_timeout_sec"`
	PollIntervalMs     int    `yaml:"poll_interval_ms"`
	QuoteSettleMs      int    `yaml:"quote_settle_ms"`
	PricingMode        string `yaml:"pricing_mode"` // market | bidask
	DefaultBuyQuantity int    `yaml:"default_buy_quantity"`
}

// ServerConfig holds webhook server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AuthToken      string   `yaml:"auth_token"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// JournalConfig holds execution journal settings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // telegram | console
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Load loads configuration from a YAML file. A .env file in the working
// directory is loaded first so ${VAR} references in the YAML resolve.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with working defaults for paper trading.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Type:              "ibkr",
			Host:              "127.0.0.1",
			Port:              7497,
			ClientID:          1,
			PaperTrading:      true,
			ConnectTimeoutSec: 10,
			AutoReconnect:     true,
		},
		Contract: ContractConfig{
			Symbol: "MES",
		},
		Execution: ExecutionConfig{
			OrderTimeoutSec:    30,
			PollIntervalMs:     100,
			QuoteSettleMs:      1500,
			PricingMode:        "bidask",
			DefaultBuyQuantity: 3,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "data/journal.db",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Broker validation
	if c.Broker.Type != "ibkr" && c.Broker.Type != "sim" {
		errs = append(errs, "broker.type must be 'ibkr' or 'sim'")
	}
	if c.Broker.Host == "" {
		errs = append(errs, "broker.host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be a valid port")
	}
	if c.Broker.ClientID < 0 {
		errs = append(errs, "broker.client_id must not be negative")
	}

	// Contract validation
	switch c.Contract.Symbol {
	case "MES", "ES":
	case "":
		errs = append(errs, "contract.symbol is required")
	default:
		errs = append(errs, fmt.Sprintf("contract.symbol '%s' is not supported", c.Contract.Symbol))
	}

	// Execution validation
	if c.Execution.OrderTimeoutSec <= 0 {
		errs = append(errs, "execution.order_timeout_sec must be positive")
	}
	if c.Execution.PollIntervalMs <= 0 {
		errs = append(errs, "execution.poll_interval_ms must be positive")
	}
	if c.Execution.QuoteSettleMs < 0 {
		errs = append(errs, "execution.quote_settle_ms must not be negative")
	}
	if c.Execution.PricingMode != "market" && c.Execution.PricingMode != "bidask" {
		errs = append(errs, "execution.pricing_mode must be 'market' or 'bidask'")
	}
	if c.Execution.DefaultBuyQuantity <= 0 {
		errs = append(errs, "execution.default_buy_quantity must be positive")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be a valid port")
	}

	// Metrics validation
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, "metrics.port must be a valid port")
		}
		if c.Metrics.Port == c.Server.Port {
			errs = append(errs, "metrics.port must differ from server.port")
		}
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when journal is enabled")
	}

	// Alerting validation
	if c.Alerting.Enabled {
		for i, ch := range c.Alerting.Channels {
			switch ch.Type {
			case "console":
			case "telegram":
				if ch.BotToken == "" || ch.ChatID == "" {
					errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
				}
			default:
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: type '%s' is not supported", i, ch.Type))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// PricingMode returns the configured pricing mode as a typed value.
func (c *Config) PricingMode() types.PricingMode {
	if c.Execution.PricingMode == "market" {
		return types.PricingMarket
	}
	return types.PricingLimit
}

// OrderTimeout returns the order fill deadline.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Execution.OrderTimeoutSec) * time.Second
}

// PollInterval returns the order status poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Execution.PollIntervalMs) * time.Millisecond
}

// QuoteSettle returns the market data settle delay.
func (c *Config) QuoteSettle() time.Duration {
	return time.Duration(c.Execution.QuoteSettleMs) * time.Millisecond
}

// ConnectTimeout returns the broker connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Broker.ConnectTimeoutSec) * time.Second
}

// ListenAddr returns the webhook server listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MetricsAddr returns the metrics server listen address.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf(":%d", c.Metrics.Port)
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
