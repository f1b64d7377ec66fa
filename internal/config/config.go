// Package config provides configuration management for SektaBot.
//
// Values are resolved in increasing order of precedence: built-in defaults,
// an optional YAML file (--config), environment variables (optionally
// seeded from a .env file), and finally command-line flags.
// The Config struct is passed to components during initialization.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/SektaHub/SektaBot/internal/comfy"
	"github.com/SektaHub/SektaBot/internal/workflow"
)

const (
	// Version is the SektaBot version
	Version = "0.1.0"

	// Default values
	defaultServer          = comfy.DefaultAddress
	defaultWorkflow        = "workflows/text2img.jsonc"
	defaultPromptField     = "6.inputs.text"
	defaultReceiveTimeout  = comfy.DefaultReceiveTimeout
	defaultHistoryAttempts = comfy.DefaultHistoryAttempts
	defaultHistoryDelay    = comfy.DefaultHistoryDelay
	defaultPrefix          = "/"
	defaultRateLimit       = 3
	defaultLogLevel        = "info"
	defaultOutputDir       = "."
	defaultEnvFile         = ".env"

	// Validation constraints
	maxReceiveTimeout  = time.Hour
	minHistoryAttempts = 1
	maxHistoryAttempts = 20
	maxHistoryDelay    = time.Minute
)

// Environment variables
const (
	EnvDiscordToken = "DISCORD_TOKEN"
	EnvServer       = "COMFY_SERVER"
	EnvLogLevel     = "SEKTABOT_LOG_LEVEL"
)

var (
	// ErrInvalidServer is returned when the server address is unusable
	ErrInvalidServer = errors.New("server must be host:port or an http(s) URL")
	// ErrInvalidWorkflow is returned when no workflow file is configured
	ErrInvalidWorkflow = errors.New("workflow path cannot be empty")
	// ErrInvalidPromptField is returned when the prompt field path is empty
	ErrInvalidPromptField = errors.New("prompt-field must be a dotted path such as 6.inputs.text")
	// ErrInvalidTimeout is returned when the receive timeout is out of range
	ErrInvalidTimeout = errors.New("receive-timeout must be between 1ms and 1h")
	// ErrInvalidAttempts is returned when history attempts is out of range
	ErrInvalidAttempts = errors.New("history-attempts must be between 1 and 20")
	// ErrInvalidDelay is returned when the history delay is out of range
	ErrInvalidDelay = errors.New("history-delay must be between 0 and 1m")
	// ErrInvalidPrefix is returned when the command prefix is blank
	ErrInvalidPrefix = errors.New("prefix cannot be blank")
	// ErrInvalidRateLimit is returned when the rate limit is negative
	ErrInvalidRateLimit = errors.New("rate-limit must be >= 0 (0 disables)")
	// ErrInvalidLogLevel is returned when log level is not recognized
	ErrInvalidLogLevel = errors.New("log-level must be one of: debug, info, warn, error")
	// ErrMissingToken is returned when the bot has no Discord token
	ErrMissingToken = errors.New(EnvDiscordToken + " must be set")
	// ErrMissingPrompt is returned when comfygen is run without a prompt
	ErrMissingPrompt = errors.New("a prompt is required")
	// ErrConfigFile is returned when the YAML file cannot be read or parsed
	ErrConfigFile = errors.New("invalid config file")
	// ErrShowHelp is returned when --help flag is requested
	ErrShowHelp = errors.New("help requested")
	// ErrShowVersion is returned when --version flag is requested
	ErrShowVersion = errors.New("version requested")
)

// Config holds all configuration values.
type Config struct {
	// Generation server
	Server          string        `yaml:"server"`
	Workflow        string        `yaml:"workflow"`
	PromptField     string        `yaml:"prompt_field"`
	ReceiveTimeout  time.Duration `yaml:"receive_timeout"`
	HistoryAttempts int           `yaml:"history_attempts"`
	HistoryDelay    time.Duration `yaml:"history_delay"`

	// Chat bot
	Prefix    string `yaml:"prefix"`
	RateLimit int    `yaml:"rate_limit"`

	// Logging configuration
	LogLevel string `yaml:"log_level"`

	// DiscordToken is only ever read from the environment
	DiscordToken string `yaml:"-"`

	// One-shot generator
	OutputDir string `yaml:"output_dir"`
	Prompt    string `yaml:"-"`

	// Sources the values were loaded from
	ConfigFile string `yaml:"-"`
	EnvFile    string `yaml:"-"`
}

// mode selects the flag set and validation rules of a binary.
type mode int

const (
	modeBot mode = iota
	modeOneShot
)

// Parse parses the bot's command line into a Config.
// It returns ErrShowHelp or ErrShowVersion after printing when those flags
// are given.
func Parse(args []string, output io.Writer) (*Config, error) {
	return parse(modeBot, args, output, os.LookupEnv)
}

// ParseOneShot parses the command line of the one-shot generator. The
// prompt is taken from the remaining positional arguments.
func ParseOneShot(args []string, output io.Writer) (*Config, error) {
	return parse(modeOneShot, args, output, os.LookupEnv)
}

// defaults returns a Config holding the built-in defaults.
func defaults() *Config {
	return &Config{
		Server:          defaultServer,
		Workflow:        defaultWorkflow,
		PromptField:     defaultPromptField,
		ReceiveTimeout:  defaultReceiveTimeout,
		HistoryAttempts: defaultHistoryAttempts,
		HistoryDelay:    defaultHistoryDelay,
		Prefix:          defaultPrefix,
		RateLimit:       defaultRateLimit,
		LogLevel:        defaultLogLevel,
		OutputDir:       defaultOutputDir,
	}
}

func parse(m mode, args []string, output io.Writer, lookupEnv func(string) (string, bool)) (*Config, error) {
	name := "sektabot"
	if m == modeOneShot {
		name = "comfygen"
	}

	// Flags are bound to a scratch copy so that only the ones actually
	// given on the command line override file and environment values.
	flags := defaults()
	var showHelp, showVersion bool

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {}

	// Generation server flags
	fs.StringVar(&flags.Server, "server", flags.Server, "ComfyUI server address")
	fs.StringVar(&flags.Workflow, "workflow", flags.Workflow, "Workflow template file (JSON or JSONC)")
	fs.StringVar(&flags.PromptField, "prompt-field", flags.PromptField, "Dotted path of the prompt field in the workflow")
	fs.DurationVar(&flags.ReceiveTimeout, "receive-timeout", flags.ReceiveTimeout, "Maximum wait for each notification")
	fs.IntVar(&flags.HistoryAttempts, "history-attempts", flags.HistoryAttempts, "History lookups before giving up")
	fs.DurationVar(&flags.HistoryDelay, "history-delay", flags.HistoryDelay, "Pause between history lookups")

	if m == modeBot {
		fs.StringVar(&flags.Prefix, "prefix", flags.Prefix, "Command prefix")
		fs.IntVar(&flags.RateLimit, "rate-limit", flags.RateLimit, "Generate commands per user per minute (0 = unlimited)")
	} else {
		fs.StringVarP(&flags.OutputDir, "output", "o", flags.OutputDir, "Directory to write images to")
	}

	// Logging flags
	fs.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "Log level (debug, info, warn, error)")

	// Source flags
	fs.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file")
	fs.StringVar(&flags.EnvFile, "env-file", "", "Environment file (default: .env if present)")

	// Special flags
	fs.BoolVarP(&showHelp, "help", "h", false, "Show help message")
	fs.BoolVar(&showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if showHelp {
		printHelp(output, m)
		return nil, ErrShowHelp
	}
	if showVersion {
		printVersion(output, name)
		return nil, ErrShowVersion
	}

	c := defaults()

	if flags.ConfigFile != "" {
		if err := c.loadFile(flags.ConfigFile); err != nil {
			return nil, err
		}
		c.ConfigFile = flags.ConfigFile
	}

	lookup, err := envLookup(flags.EnvFile, lookupEnv)
	if err != nil {
		return nil, err
	}
	c.EnvFile = flags.EnvFile
	c.applyEnv(lookup)

	fs.Visit(func(f *pflag.Flag) {
		c.applyFlag(f.Name, flags)
	})

	if m == modeOneShot {
		c.Prompt = strings.TrimSpace(strings.Join(fs.Args(), " "))
	}

	if err := c.validate(m); err != nil {
		return nil, err
	}

	return c, nil
}

// loadFile overlays the YAML file at path onto c. Unknown keys are errors.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigFile, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s: %v", ErrConfigFile, path, err)
	}
	return nil
}

// envLookup returns a lookup that consults the process environment first
// and then the env file. The process environment always wins, matching
// godotenv.Load. A missing default .env is not an error; a missing
// explicitly named file is.
func envLookup(envFile string, lookupEnv func(string) (string, bool)) (func(string) (string, bool), error) {
	path := envFile
	if path == "" {
		path = defaultEnvFile
	}

	fileEnv, err := godotenv.Read(path)
	if err != nil {
		if envFile != "" || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %v", ErrConfigFile, path, err)
		}
		fileEnv = nil
	}

	return func(key string) (string, bool) {
		if v, ok := lookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}, nil
}

// applyEnv copies recognized environment variables into c.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDiscordToken); ok {
		c.DiscordToken = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvServer); ok && v != "" {
		c.Server = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// applyFlag copies one explicitly set flag from flags into c.
func (c *Config) applyFlag(name string, flags *Config) {
	switch name {
	case "server":
		c.Server = flags.Server
	case "workflow":
		c.Workflow = flags.Workflow
	case "prompt-field":
		c.PromptField = flags.PromptField
	case "receive-timeout":
		c.ReceiveTimeout = flags.ReceiveTimeout
	case "history-attempts":
		c.HistoryAttempts = flags.HistoryAttempts
	case "history-delay":
		c.HistoryDelay = flags.HistoryDelay
	case "prefix":
		c.Prefix = flags.Prefix
	case "rate-limit":
		c.RateLimit = flags.RateLimit
	case "output":
		c.OutputDir = flags.OutputDir
	case "log-level":
		c.LogLevel = flags.LogLevel
	}
}

// FieldPath returns the prompt field as path components.
func (c *Config) FieldPath() []string {
	return workflow.ParseFieldPath(c.PromptField)
}

// validate checks that all configuration values are within valid ranges
func (c *Config) validate(m mode) error {
	if _, err := comfy.ParseAddress(c.Server); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidServer, err)
	}

	if strings.TrimSpace(c.Workflow) == "" {
		return ErrInvalidWorkflow
	}

	if len(c.FieldPath()) == 0 {
		return ErrInvalidPromptField
	}

	if c.ReceiveTimeout <= 0 || c.ReceiveTimeout > maxReceiveTimeout {
		return ErrInvalidTimeout
	}

	if c.HistoryAttempts < minHistoryAttempts || c.HistoryAttempts > maxHistoryAttempts {
		return ErrInvalidAttempts
	}

	if c.HistoryDelay < 0 || c.HistoryDelay > maxHistoryDelay {
		return ErrInvalidDelay
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
		// Valid
	default:
		return ErrInvalidLogLevel
	}

	switch m {
	case modeBot:
		if strings.TrimSpace(c.Prefix) == "" {
			return ErrInvalidPrefix
		}
		if c.RateLimit < 0 {
			return ErrInvalidRateLimit
		}
		if c.DiscordToken == "" {
			return ErrMissingToken
		}
	case modeOneShot:
		if c.Prompt == "" {
			return ErrMissingPrompt
		}
	}

	return nil
}

// printHelp prints usage information
func printHelp(w io.Writer, m mode) {
	if m == modeOneShot {
		fmt.Fprintf(w, `comfygen - Generate images from a prompt with a ComfyUI server

USAGE:
    comfygen [FLAGS] <prompt>

FLAGS:
    --server <ADDR>            ComfyUI server address (default: %s)
    --workflow <FILE>          Workflow template, JSON or JSONC (default: %s)
    --prompt-field <PATH>      Prompt field in the workflow (default: %s)
    --receive-timeout <DUR>    Maximum wait for each notification (default: %s)
    --history-attempts <N>     History lookups before giving up (default: %d)
    --history-delay <DUR>      Pause between history lookups (default: %s)
    -o, --output <DIR>         Directory to write images to (default: %s)
    --log-level <LEVEL>        Log level: debug, info, warn, error (default: %s)
    --config <FILE>            YAML configuration file
    --env-file <FILE>          Environment file (default: .env if present)
    -h, --help                 Show this help message
    --version                  Show version information

EXAMPLES:
    comfygen "a lighthouse at dusk, oil painting"
    comfygen --server http://gpu-box:8188 -o out/ "a red fox in snow"
`,
			defaultServer, defaultWorkflow, defaultPromptField, defaultReceiveTimeout,
			defaultHistoryAttempts, defaultHistoryDelay, defaultOutputDir, defaultLogLevel)
		return
	}

	fmt.Fprintf(w, `sektabot - Discord bot that draws pictures with ComfyUI

USAGE:
    sektabot [FLAGS]

FLAGS:
    --server <ADDR>            ComfyUI server address (default: %s)
    --workflow <FILE>          Workflow template, JSON or JSONC (default: %s)
    --prompt-field <PATH>      Prompt field in the workflow (default: %s)
    --receive-timeout <DUR>    Maximum wait for each notification (default: %s)
    --history-attempts <N>     History lookups before giving up (default: %d)
    --history-delay <DUR>      Pause between history lookups (default: %s)
    --prefix <PREFIX>          Command prefix (default: %s)
    --rate-limit <N>           Generate commands per user per minute, 0 = unlimited (default: %d)
    --log-level <LEVEL>        Log level: debug, info, warn, error (default: %s)
    --config <FILE>            YAML configuration file
    --env-file <FILE>          Environment file (default: .env if present)
    -h, --help                 Show this help message
    --version                  Show version information

ENVIRONMENT:
    %-22s Discord bot token (required)
    %-22s ComfyUI server address
    %-22s Log level

COMMANDS:
    %sping                      Answer with Pong!
    %szamisli <prompt>          Generate images for the prompt

REQUIREMENTS:
    - ComfyUI must be running (default: %s)
    - The bot application needs the message content intent
`,
		defaultServer, defaultWorkflow, defaultPromptField, defaultReceiveTimeout,
		defaultHistoryAttempts, defaultHistoryDelay, defaultPrefix, defaultRateLimit, defaultLogLevel,
		EnvDiscordToken, EnvServer, EnvLogLevel,
		defaultPrefix, defaultPrefix, defaultServer)
}

// printVersion prints version information
func printVersion(w io.Writer, name string) {
	fmt.Fprintf(w, "%s %s\n", name, Version)
}
