// Package main is the entry point for the webhook trading server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minhle/hooktrader/internal/alerting"
	"github.com/minhle/hooktrader/internal/broker"
	"github.com/minhle/hooktrader/internal/broker/ibkr"
	"github.com/minhle/hooktrader/internal/broker/sim"
	"github.com/minhle/hooktrader/internal/config"
	"github.com/minhle/hooktrader/internal/engine"
	"github.com/minhle/hooktrader/internal/journal"
	"github.com/minhle/hooktrader/internal/metrics"
	"github.com/minhle/hooktrader/internal/webhook"
)

// Version information (set by build flags).
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Hooktrader - Webhook-Driven Futures Execution Server

Usage:
  trader <command> [options]

Commands:
  run        Start the webhook server
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  trader run --config config.yaml
  trader run --config config.yaml --sim
  trader validate --config config.yaml

Use "trader <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("trader version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Broker: %s at %s:%d\n", cfg.Broker.Type, cfg.Broker.Host, cfg.Broker.Port)
	fmt.Printf("  Contract: %s %s\n", cfg.Contract.Symbol, expiryOrFrontMonth(cfg))
	fmt.Printf("  Pricing mode: %s\n", cfg.Execution.PricingMode)
	fmt.Printf("  Order timeout: %s\n", cfg.OrderTimeout())
	fmt.Printf("  Webhook listen: %s\n", cfg.ListenAddr())
}

func expiryOrFrontMonth(cfg *config.Config) string {
	if cfg.Contract.Expiry != "" {
		return cfg.Contract.Expiry
	}
	return broker.FrontMonthExpiry(time.Now()) + " (front month)"
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	simMode := fs.Bool("sim", false, "Use the simulated broker session")
	verbose := fs.Bool("verbose", false, "Verbose logging")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *simMode, logger); err != nil {
		logger.Error("trader failed", "err", err)
		os.Exit(1)
	}

	logger.Info("trader shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, simMode bool, logger *slog.Logger) error {
	logger.Info("trader starting",
		"version", Version,
		"symbol", cfg.Contract.Symbol,
		"pricing_mode", cfg.Execution.PricingMode,
		"sim", simMode,
	)

	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	// Broker session
	session, shutdownSession, err := buildSession(ctx, cfg, simMode, logger)
	if err != nil {
		return err
	}

	// Journal
	var repo journal.Repository
	if cfg.Journal.Enabled {
		sqlRepo, err := journal.NewSQLiteRepository(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer sqlRepo.Close()
		repo = sqlRepo
	}

	// Alerting
	alerter := buildAlerter(cfg, logger)

	// Engine
	expiry := cfg.Contract.Expiry
	if expiry == "" {
		expiry = broker.FrontMonthExpiry(time.Now())
	}
	contract := broker.MESContract(expiry)
	if cfg.Contract.Symbol == "ES" {
		contract = broker.ESContract(expiry)
	}

	eng := engine.NewEngine(engine.Config{
		Contract:      contract,
		PricingMode:   cfg.PricingMode(),
		DefaultBuyQty: cfg.Execution.DefaultBuyQuantity,
		PollInterval:  cfg.PollInterval(),
		OrderDeadline: cfg.OrderTimeout(),
		QuoteSettle:   cfg.QuoteSettle(),
		AlertEvents:   cfg.Alerting.Events,
	}, session, alerter, repo, logger)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// Metrics server
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.MetricsAddr(), cfg.Metrics.Path, logger)
		metricsServer.RegisterHealthCheck("broker", func() metrics.Check {
			if session.IsConnected() {
				return metrics.Healthy()
			}
			return metrics.Unhealthy("broker not connected")
		})
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	// Webhook server
	server := webhook.NewServer(webhook.Config{
		Addr:           cfg.ListenAddr(),
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, eng, logger)
	if err := server.Start(); err != nil {
		return fmt.Errorf("start webhook server: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Ordered shutdown: stop accepting requests, then the engine, then the
	// broker session.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("webhook server shutdown failed", "err", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "err", err)
		}
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine stop failed", "err", err)
	}
	if err := shutdownSession(shutdownCtx); err != nil {
		logger.Warn("broker session shutdown failed", "err", err)
	}

	return nil
}

// buildSession connects the configured broker session and returns it with
// its shutdown function.
func buildSession(ctx context.Context, cfg *config.Config, simMode bool, logger *slog.Logger) (broker.Session, func(context.Context) error, error) {
	if simMode || cfg.Broker.Type == "sim" {
		logger.Warn("using simulated broker session, orders will not reach a real broker")
		session := sim.NewSession(logger)
		return session, func(context.Context) error { return nil }, nil
	}

	ibCfg := ibkr.DefaultConfig()
	ibCfg.Host = cfg.Broker.Host
	ibCfg.Port = cfg.Broker.Port
	ibCfg.ClientID = cfg.Broker.ClientID
	ibCfg.Account = cfg.Broker.Account
	ibCfg.PaperTrading = cfg.Broker.PaperTrading
	ibCfg.ConnectTimeout = cfg.ConnectTimeout()
	ibCfg.AutoReconnect = cfg.Broker.AutoReconnect

	client := ibkr.NewClient(ibCfg, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}

	return client, client.Shutdown, nil
}

// buildAlerter assembles the alert channels from config. Returns nil when
// alerting is disabled.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
			}))
		}
	}
	return multi
}
