package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/minhle/hooktrader/internal/types"
)

func TestLoadFromBytes_Valid(t *testing.T) {
	yaml := `
broker:
  type: ibkr
  host: "127.0.0.1"
  port: 7497
  client_id: 7
  paper_trading: true

contract:
  symbol: "MES"
  expiry: "202509"

execution:
  order_timeout_sec: 30
  poll_interval_ms: 100
  quote_settle_ms: 1500
  pricing_mode: bidask
  default_buy_quantity: 3

server:
  host: "0.0.0.0"
  port: 8080

metrics:
  enabled: true
  port: 9090
  path: /metrics
`

	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Broker.ClientID != 7 {
		t.Errorf("ClientID = %d, want 7", cfg.Broker.ClientID)
	}
	if cfg.Contract.Symbol != "MES" {
		t.Errorf("Symbol = %s, want MES", cfg.Contract.Symbol)
	}
	if cfg.Contract.Expiry != "202509" {
		t.Errorf("Expiry = %s, want 202509", cfg.Contract.Expiry)
	}
	if cfg.Execution.DefaultBuyQuantity != 3 {
		t.Errorf("DefaultBuyQuantity = %d, want 3", cfg.Execution.DefaultBuyQuantity)
	}
	if cfg.OrderTimeout() != 30*time.Second {
		t.Errorf("OrderTimeout = %v, want 30s", cfg.OrderTimeout())
	}
	if cfg.PollInterval() != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.PollInterval())
	}
	if cfg.QuoteSettle() != 1500*time.Millisecond {
		t.Errorf("QuoteSettle = %v, want 1.5s", cfg.QuoteSettle())
	}
}

func TestLoadFromBytes_DefaultsFillGaps(t *testing.T) {
	// A minimal config inherits everything else from the defaults.
	yaml := `
broker:
  type: sim
`

	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Contract.Symbol != "MES" {
		t.Errorf("Symbol = %s, want default MES", cfg.Contract.Symbol)
	}
	if cfg.Execution.PricingMode != "bidask" {
		t.Errorf("PricingMode = %s, want default bidask", cfg.Execution.PricingMode)
	}
	if cfg.Execution.OrderTimeoutSec != 30 {
		t.Errorf("OrderTimeoutSec = %d, want default 30", cfg.Execution.OrderTimeoutSec)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestLoadFromBytes_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name: "bad broker type",
			yaml: `
broker:
  type: etrade
`,
			wantErr: "broker.type",
		},
		{
			name: "unsupported symbol",
			yaml: `
contract:
  symbol: "NQ"
`,
			wantErr: "contract.symbol",
		},
		{
			name: "bad pricing mode",
			yaml: `
execution:
  pricing_mode: "midpoint"
`,
			wantErr: "execution.pricing_mode",
		},
		{
			name: "zero order timeout",
			yaml: `
execution:
  order_timeout_sec: -1
`,
			wantErr: "execution.order_timeout_sec",
		},
		{
			name: "metrics port collides with server",
			yaml: `
server:
  port: 8080
metrics:
  enabled: true
  port: 8080
`,
			wantErr: "metrics.port",
		},
		{
			name: "telegram channel missing token",
			yaml: `
alerting:
  enabled: true
  channels:
    - type: telegram
`,
			wantErr: "bot_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, types.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("HOOKTRADER_TEST_HOST", "10.0.0.5")

	yaml := `
broker:
  host: "${HOOKTRADER_TEST_HOST}"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Broker.Host != "10.0.0.5" {
		t.Errorf("Host = %s, want 10.0.0.5", cfg.Broker.Host)
	}
}

func TestConfig_PricingMode(t *testing.T) {
	cfg := Default()

	if cfg.PricingMode() != types.PricingLimit {
		t.Errorf("expected bidask to map to PricingLimit, got %v", cfg.PricingMode())
	}

	cfg.Execution.PricingMode = "market"
	if cfg.PricingMode() != types.PricingMarket {
		t.Errorf("expected market to map to PricingMarket, got %v", cfg.PricingMode())
	}
}

func TestConfig_IsAlertEventEnabled(t *testing.T) {
	cfg := Default()

	if cfg.IsAlertEventEnabled("order_filled") {
		t.Error("expected alerting disabled by default")
	}

	cfg.Alerting.Enabled = true
	if !cfg.IsAlertEventEnabled("order_filled") {
		t.Error("expected all events enabled when none listed")
	}

	cfg.Alerting.Events = []string{"close_all"}
	if cfg.IsAlertEventEnabled("order_filled") {
		t.Error("expected unlisted event to be disabled")
	}
	if !cfg.IsAlertEventEnabled("close_all") {
		t.Error("expected listed event to be enabled")
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}
