// Package ibkr provides Interactive Brokers connectivity.
package ibkr

import (
	"net"
	"strconv"
	"time"
)

// TWS and IB Gateway listen on fixed ports per product and trading mode.
const (
	portTWSPaper     = 7497
	portTWSLive      = 7496
	portGatewayPaper = 4002
	portGatewayLive  = 4001
)

// Config holds the TWS/Gateway connection parameters.
type Config struct {
	Host     string
	Port     int
	ClientID int
	Account  string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// MaxRequestsPerSecond throttles outbound messages; IB disconnects
	// clients that exceed 50/sec.
	MaxRequestsPerSecond int

	AutoReconnect     bool
	ReconnectInterval time.Duration
	MaxReconnectTries int

	PaperTrading bool
}

// Addr returns the host:port dial target.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DefaultConfig targets a paper-trading TWS on localhost.
func DefaultConfig() Config {
	return Config{
		Host:                 "127.0.0.1",
		Port:                 portTWSPaper,
		ClientID:             1,
		ConnectTimeout:       10 * time.Second,
		RequestTimeout:       30 * time.Second,
		MaxRequestsPerSecond: 45,
		AutoReconnect:        true,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectTries:    10,
		PaperTrading:         true,
	}
}

// LiveConfig targets a live-trading TWS.
func LiveConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = portTWSLive
	cfg.PaperTrading = false
	return cfg
}

// GatewayConfig targets IB Gateway instead of the TWS desktop app.
func GatewayConfig(paper bool) Config {
	cfg := DefaultConfig()
	cfg.PaperTrading = paper
	cfg.Port = portGatewayLive
	if paper {
		cfg.Port = portGatewayPaper
	}
	return cfg
}
