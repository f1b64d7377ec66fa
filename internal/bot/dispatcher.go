// Package bot turns chat messages into generation jobs and relays the
// outcome back to the channel the message came from.
//
// The package is independent of any chat platform: messages arrive as
// Message values and every answer goes through a Replier.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/SektaHub/SektaBot/internal/comfy"
	"github.com/SektaHub/SektaBot/internal/image"
	"github.com/SektaHub/SektaBot/internal/logging"
)

// Default command settings
const (
	DefaultPrefix = "/"

	CommandPing     = "ping"
	CommandGenerate = "zamisli"
)

// Chat responses
const (
	msgPong         = "Pong!"
	msgGreeting     = "Zdravo brat!"
	msgAcknowledge  = "Generating images for prompt: '%s'. This may take a moment..."
	msgNoImages     = "No images were generated. Please try again."
	msgTimeout      = "The image generation process timed out. Please try again later or with a simpler prompt."
	msgError        = "An error occurred: %v"
	msgUsage        = "Usage: %s%s <prompt>"
	msgRateLimited  = "You are generating too quickly. Please wait a minute and try again."
	greetingTrigger = "zdravo"
)

// Replier posts answers to the channel a message came from.
type Replier interface {
	Reply(ctx context.Context, text string) error
	ReplyFile(ctx context.Context, name string, r io.Reader) error
}

// Generator runs one generation job. *generate.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, promptText, clientID string) ([]image.Result, error)
}

// Message is an incoming chat message.
type Message struct {
	AuthorID string
	Author   string
	Content  string
}

// Options configures a Dispatcher.
type Options struct {
	// Prefix introduces a command (default "/")
	Prefix string
	// RateLimit is the number of generate commands a user may start per
	// minute; zero or less disables limiting
	RateLimit int
	// Logger receives dispatch diagnostics (nil discards)
	Logger *logging.Logger
}

// Dispatcher routes messages to commands.
type Dispatcher struct {
	gen     Generator
	prefix  string
	limiter *rateLimiter
	logger  *logging.Logger

	// newClientID mints the notification-channel identity of each job
	newClientID func() string
}

// NewDispatcher creates a Dispatcher that runs generate commands through gen.
func NewDispatcher(gen Generator, opts Options) (*Dispatcher, error) {
	if gen == nil {
		return nil, errors.New("generator cannot be nil")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Dispatcher{
		gen:         gen,
		prefix:      opts.Prefix,
		limiter:     newRateLimiter(opts.RateLimit),
		logger:      opts.Logger,
		newClientID: uuid.NewString,
	}, nil
}

// Prefix returns the command prefix.
func (d *Dispatcher) Prefix() string {
	return d.prefix
}

// StartCleanup drops idle rate-limit state in the background until ctx is done.
func (d *Dispatcher) StartCleanup(ctx context.Context) {
	d.limiter.startCleanup(ctx)
}

// Wants reports whether Handle would act on content. Adapters use it to
// skip spawning work for ordinary chatter.
func (d *Dispatcher) Wants(content string) bool {
	if _, _, ok := ParseCommand(d.prefix, content); ok {
		return true
	}
	return strings.Contains(strings.ToLower(content), greetingTrigger)
}

// ParseCommand splits "<prefix><name> <args>" into its name and argument
// text. ok is false when content does not start with prefix followed by a
// command name.
func ParseCommand(prefix, content string) (name, args string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}

	rest := content[len(prefix):]
	name = rest
	if i := strings.IndexFunc(rest, unicode.IsSpace); i >= 0 {
		name, args = rest[:i], rest[i+1:]
	}
	if name == "" {
		return "", "", false
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// Handle processes one message. Errors from the Replier are returned;
// generation failures are reported to the channel and logged instead.
func (d *Dispatcher) Handle(ctx context.Context, msg Message, reply Replier) error {
	if strings.Contains(strings.ToLower(msg.Content), greetingTrigger) {
		if err := reply.Reply(ctx, msgGreeting); err != nil {
			return err
		}
	}

	name, args, ok := ParseCommand(d.prefix, msg.Content)
	if !ok {
		return nil
	}

	switch name {
	case CommandPing:
		return reply.Reply(ctx, msgPong)
	case CommandGenerate:
		return d.generate(ctx, msg, args, reply)
	default:
		d.logger.Debug("Ignoring unknown command %q from %s", name, msg.Author)
		return nil
	}
}

// generate runs one generation for msg and posts every image as
// <node_id>.png, nodes and images in manifest order.
func (d *Dispatcher) generate(ctx context.Context, msg Message, prompt string, reply Replier) error {
	if prompt == "" {
		return reply.Reply(ctx, fmt.Sprintf(msgUsage, d.prefix, CommandGenerate))
	}
	if !d.limiter.allow(msg.AuthorID) {
		d.logger.Warn("Rate limit exceeded for user %s", msg.Author)
		return reply.Reply(ctx, msgRateLimited)
	}

	clientID := d.newClientID()
	log := d.logger.With("user", msg.Author, "client_id", clientID)

	if err := reply.Reply(ctx, fmt.Sprintf(msgAcknowledge, prompt)); err != nil {
		return err
	}

	log.Info("Generating images for prompt %q", prompt)
	results, err := d.gen.Generate(ctx, prompt, clientID)
	if err != nil {
		log.Error("Generation failed: %v", err)
		return reply.Reply(ctx, failureMessage(err))
	}

	if image.Count(results) == 0 {
		return reply.Reply(ctx, msgNoImages)
	}

	for _, res := range results {
		for i, img := range res.Images {
			data, err := image.EncodePNG(img)
			if err != nil {
				log.Error("Failed to encode image %d of node %s: %v", i, res.NodeID, err)
				return reply.Reply(ctx, failureMessage(err))
			}
			if err := reply.ReplyFile(ctx, res.NodeID+".png", bytes.NewReader(data)); err != nil {
				return fmt.Errorf("failed to upload image %d of node %s: %w", i, res.NodeID, err)
			}
		}
	}

	log.Info("Posted %d images", image.Count(results))
	return nil
}

// failureMessage maps a generation error to the text shown in chat.
func failureMessage(err error) string {
	if errors.Is(err, comfy.ErrTimeout) {
		return msgTimeout
	}
	return fmt.Sprintf(msgError, err)
}
