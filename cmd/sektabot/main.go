package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/SektaHub/SektaBot/internal/bot"
	"github.com/SektaHub/SektaBot/internal/config"
	"github.com/SektaHub/SektaBot/internal/startup"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse configuration from flags, config file and environment
	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if errors.Is(err, config.ErrShowHelp) || errors.Is(err, config.ErrShowVersion) {
		// Help or version was shown, exit successfully
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	// Create logger early
	logger := startup.CreateLogger(cfg)

	logger.Info("Starting sektabot...")
	logger.Debug("Configuration: server=%s, workflow=%s, prompt-field=%s, receive-timeout=%v, history-attempts=%d, history-delay=%v",
		cfg.Server, cfg.Workflow, cfg.PromptField, cfg.ReceiveTimeout, cfg.HistoryAttempts, cfg.HistoryDelay)
	logger.Debug("Bot: prefix=%q, rate-limit=%d/min, log-level=%s", cfg.Prefix, cfg.RateLimit, cfg.LogLevel)

	components, err := startup.InitializeAll(cfg, logger)
	if err != nil {
		logger.Error("Initialization failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Validate the generation server is running
	logger.Debug("Validating ComfyUI connection...")
	stats, err := startup.ValidateServer(ctx, components.Client)
	if err != nil {
		logger.Error("Server validation failed: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "\nPlease ensure ComfyUI is running and reachable:\n")
		fmt.Fprintf(os.Stderr, "  python main.py --listen --port <port>\n")
		fmt.Fprintf(os.Stderr, "\nThen point sektabot at it with --server or %s.\n", config.EnvServer)
		return 1
	}
	logger.Info("Connected to %s at %s", startup.DescribeServer(stats), components.Client.BaseURL())

	components.Dispatcher.StartCleanup(ctx)

	logger.Info("Listening for %s%s and %s%s commands", cfg.Prefix, bot.CommandPing, cfg.Prefix, bot.CommandGenerate)

	// Run gateway and wait for shutdown signal
	if err := startup.Run(ctx, components.Gateway, logger); err != nil {
		logger.Error("Bot error: %v", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}
