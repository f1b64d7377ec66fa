// Package discord connects the command dispatcher to a Discord bot account.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/SektaHub/SektaBot/internal/bot"
	"github.com/SektaHub/SektaBot/internal/logging"
)

// maxMessageLength is Discord's limit for the content of one message
const maxMessageLength = 2000

// Intents requested on connect. Message content is a privileged intent and
// must be enabled for the application in the developer portal.
const Intents = discordgo.IntentGuildMessages | discordgo.IntentDirectMessages | discordgo.IntentMessageContent

// ErrMissingToken is returned when no bot token is configured
var ErrMissingToken = errors.New("discord bot token is required")

// Handler is the part of the dispatcher the gateway drives.
type Handler interface {
	Wants(content string) bool
	Handle(ctx context.Context, msg bot.Message, reply bot.Replier) error
}

// messageSender is the subset of *discordgo.Session used to answer.
type messageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelFileSend(channelID, name string, r io.Reader, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Gateway owns the Discord session and feeds incoming messages to a Handler.
// Each message is handled in its own goroutine.
type Gateway struct {
	session *discordgo.Session
	handler Handler
	logger  *logging.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	removes []func()
}

// New creates a Gateway for the bot token. The connection is not opened
// until Open is called.
func New(token string, handler Handler, logger *logging.Logger) (*Gateway, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = Intents

	g := newGateway(handler, logger)
	g.session = session
	return g, nil
}

func newGateway(handler Handler, logger *logging.Logger) *Gateway {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Open registers the event handlers and connects to Discord.
func (g *Gateway) Open() error {
	g.removes = append(g.removes,
		g.session.AddHandler(g.onReady),
		g.session.AddHandler(g.onMessageCreate),
	)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("failed to connect to discord: %w", err)
	}
	return nil
}

// Close stops accepting messages, cancels in-flight commands, waits for
// them to finish and disconnects.
func (g *Gateway) Close() error {
	for _, remove := range g.removes {
		remove()
	}
	g.removes = nil

	g.cancel()
	g.wg.Wait()

	if g.session == nil {
		return nil
	}
	return g.session.Close()
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.logger.Info("Logged in as %s (%d guilds)", r.User.String(), len(r.Guilds))
}

func (g *Gateway) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	g.dispatch(s, selfID, m.Message)
}

// dispatch hands m to the handler in a new goroutine unless it comes from a
// bot (this one included) or carries nothing the handler wants.
func (g *Gateway) dispatch(sender messageSender, selfID string, m *discordgo.Message) {
	if m == nil || m.Author == nil || m.Author.Bot || m.Author.ID == selfID {
		return
	}
	if !g.handler.Wants(m.Content) {
		return
	}
	if g.ctx.Err() != nil {
		return
	}

	msg := bot.Message{
		AuthorID: m.Author.ID,
		Author:   m.Author.Username,
		Content:  m.Content,
	}
	reply := &channelReplier{sender: sender, channelID: m.ChannelID}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := g.handler.Handle(g.ctx, msg, reply); err != nil {
			g.logger.With("user", msg.Author, "channel", m.ChannelID).Error("Failed to answer message: %v", err)
		}
	}()
}

// channelReplier answers in one channel.
type channelReplier struct {
	sender    messageSender
	channelID string
}

func (r *channelReplier) Reply(ctx context.Context, text string) error {
	if _, err := r.sender.ChannelMessageSend(r.channelID, truncate(text, maxMessageLength), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (r *channelReplier) ReplyFile(ctx context.Context, name string, rd io.Reader) error {
	if _, err := r.sender.ChannelFileSend(r.channelID, name, rd, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to send file %s: %w", name, err)
	}
	return nil
}

// truncate shortens s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}
