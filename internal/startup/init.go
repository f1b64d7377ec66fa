package startup

import (
	"fmt"

	"github.com/SektaHub/SektaBot/internal/bot"
	"github.com/SektaHub/SektaBot/internal/comfy"
	"github.com/SektaHub/SektaBot/internal/config"
	"github.com/SektaHub/SektaBot/internal/discord"
	"github.com/SektaHub/SektaBot/internal/generate"
	"github.com/SektaHub/SektaBot/internal/logging"
	"github.com/SektaHub/SektaBot/internal/workflow"
)

// Components holds all initialized application components
type Components struct {
	Client     *comfy.Client
	Template   *workflow.Template
	Generator  *generate.Generator
	Dispatcher *bot.Dispatcher
	Gateway    *discord.Gateway
	Logger     *logging.Logger
}

// CreateLogger creates a logger with the configured log level
func CreateLogger(cfg *config.Config) *logging.Logger {
	return logging.NewFromString(cfg.LogLevel, nil)
}

// CreateClient creates a generation client for the configured server.
// It does NOT check the server is up - use ValidateServer() separately.
func CreateClient(cfg *config.Config, logger *logging.Logger) (*comfy.Client, error) {
	delay := cfg.HistoryDelay
	if delay == 0 {
		// Zero in Options means "default"; a configured zero means no pause
		delay = -1
	}

	client, err := comfy.NewClientWithOptions(cfg.Server, comfy.Options{
		ReceiveTimeout:  cfg.ReceiveTimeout,
		HistoryAttempts: cfg.HistoryAttempts,
		HistoryDelay:    delay,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}
	return client, nil
}

// LoadWorkflow reads the workflow template and checks it has the prompt field
func LoadWorkflow(cfg *config.Config) (*workflow.Template, error) {
	tmpl, err := workflow.ReadFile(cfg.Workflow, cfg.FieldPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return tmpl, nil
}

// CreateDispatcher creates the chat command dispatcher
func CreateDispatcher(cfg *config.Config, gen bot.Generator, logger *logging.Logger) (*bot.Dispatcher, error) {
	dispatcher, err := bot.NewDispatcher(gen, bot.Options{
		Prefix:    cfg.Prefix,
		RateLimit: cfg.RateLimit,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	return dispatcher, nil
}

// InitializeGenerator creates the generation client, loads the workflow and
// builds the Generator. Dispatcher and Gateway are left nil.
func InitializeGenerator(cfg *config.Config, logger *logging.Logger) (*Components, error) {
	logger.Debug("Initializing generator")

	client, err := CreateClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Created generation client: server=%s", client.BaseURL())

	tmpl, err := LoadWorkflow(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded workflow %s (prompt field %s)", cfg.Workflow, cfg.PromptField)

	gen, err := generate.New(client, tmpl, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	return &Components{
		Client:    client,
		Template:  tmpl,
		Generator: gen,
		Logger:    logger,
	}, nil
}

// InitializeAll creates and initializes all bot components.
// It does NOT validate the server or connect to Discord.
func InitializeAll(cfg *config.Config, logger *logging.Logger) (*Components, error) {
	components, err := InitializeGenerator(cfg, logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := CreateDispatcher(cfg, components.Generator, logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("Created dispatcher: prefix=%q, rate-limit=%d/min", cfg.Prefix, cfg.RateLimit)

	gateway, err := discord.New(cfg.DiscordToken, dispatcher, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord gateway: %w", err)
	}

	components.Dispatcher = dispatcher
	components.Gateway = gateway
	return components, nil
}
