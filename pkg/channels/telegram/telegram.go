// Package telegram connects the relay's message bus to a Telegram bot using
// long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/sipeed/picorelay/pkg/bus"
	"github.com/sipeed/picorelay/pkg/commands"
	"github.com/sipeed/picorelay/pkg/config"
	"github.com/sipeed/picorelay/pkg/logger"
)

const (
	Name = "telegram"

	telegramMaxMessageLength = 4096
)

var commandRegistrationBackoff = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
}

// botAPI is the subset of *telego.Bot the channel uses.
type botAPI interface {
	Username() string
	UpdatesViaLongPolling(ctx context.Context, params *telego.GetUpdatesParams, options ...telego.LongPollingOption) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error
}

type Channel struct {
	bot     botAPI
	bus     *bus.MessageBus
	limiter *rate.Limiter
	running atomic.Bool
}

// New creates the bot client. Sends are paced at cfg.SendRate messages per
// second; zero disables pacing.
func New(cfg config.TelegramConfig, mb *bus.MessageBus) (*Channel, error) {
	var opts []telego.BotOption

	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}
	opts = append(opts, telego.WithDiscardLogger())

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return newChannel(bot, mb, cfg.SendRate), nil
}

func newChannel(bot botAPI, mb *bus.MessageBus, sendRate float64) *Channel {
	limit := rate.Inf
	burst := 1
	if sendRate > 0 {
		limit = rate.Limit(sendRate)
		burst = max(1, int(sendRate))
	}
	return &Channel{
		bot:     bot,
		bus:     mb,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (c *Channel) IsRunning() bool { return c.running.Load() }

// Start begins long polling and forwards text messages to the bus. It
// returns once polling is established; updates are consumed until ctx ends.
func (c *Channel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot (polling mode)...")

	updates, err := c.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout: 30,
	})
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	c.running.Store(true)
	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": c.bot.Username(),
	})

	go func() {
		defer c.running.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.InfoC("telegram", "Updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(ctx, update.Message)
				}
			}
		}
	}()

	return nil
}

func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	if message.From == nil || strings.TrimSpace(message.Text) == "" {
		return
	}

	msg := bus.InboundMessage{
		Channel:   Name,
		SenderID:  strconv.FormatInt(message.From.ID, 10),
		ChatID:    strconv.FormatInt(message.Chat.ID, 10),
		MessageID: strconv.Itoa(message.MessageID),
		Content:   message.Text,
		Metadata: map[string]string{
			"username":  message.From.Username,
			"chat_type": message.Chat.Type,
		},
	}

	logger.DebugCF("telegram", "Received message", map[string]any{
		"sender_id": msg.SenderID,
		"chat_id":   msg.ChatID,
	})

	if err := c.bus.PublishInbound(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
		logger.WarnCF("telegram", "Dropped inbound message", map[string]any{
			"sender_id": msg.SenderID,
			"error":     err.Error(),
		})
	}
}

// RunSender delivers outbound bus messages addressed to this channel until
// ctx ends or the bus closes.
func (c *Channel) RunSender(ctx context.Context) {
	for {
		msg, ok := c.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		if msg.Channel != Name {
			logger.WarnCF("telegram", "Dropping message for unknown channel", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}
		if err := c.Send(ctx, msg); err != nil {
			logger.ErrorCF("telegram", "Failed to send message", map[string]any{
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// Send delivers msg as plain text, split into Telegram-sized chunks. The
// first chunk replies to msg.ReplyTo when it is set.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(msg.ChatID), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", msg.ChatID, err)
	}

	replyTo := 0
	if msg.ReplyTo != "" {
		if id, convErr := strconv.Atoi(msg.ReplyTo); convErr == nil {
			replyTo = id
		}
	}

	for i, chunk := range splitMessage(msg.Content, telegramMaxMessageLength) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		params := tu.Message(tu.ID(chatID), chunk)
		if i == 0 && replyTo != 0 {
			params.ReplyParameters = &telego.ReplyParameters{
				MessageID:                replyTo,
				AllowSendingWithoutReply: true,
			}
		}
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			return err
		}
	}
	return nil
}

// RegisterCommands publishes the command menu shown by Telegram clients.
func (c *Channel) RegisterCommands(ctx context.Context, defs []commands.Definition) error {
	botCommands := make([]telego.BotCommand, 0, len(defs))
	for _, def := range defs {
		if def.Name == "" || def.Description == "" {
			continue
		}
		botCommands = append(botCommands, telego.BotCommand{
			Command:     def.Name,
			Description: def.Description,
		})
	}

	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: botCommands,
	})
}

// StartCommandRegistration registers the command menu in the background,
// retrying with backoff until it succeeds or ctx ends. A failure only costs
// the menu; commands still work when typed.
func (c *Channel) StartCommandRegistration(ctx context.Context, defs []commands.Definition) {
	go func() {
		for attempt := 0; ; attempt++ {
			err := c.RegisterCommands(ctx, defs)
			if err == nil {
				logger.InfoCF("telegram", "Telegram commands registered", map[string]any{
					"count": len(defs),
				})
				return
			}

			delay := commandRegistrationBackoff[min(attempt, len(commandRegistrationBackoff)-1)]
			logger.WarnCF("telegram", "Failed to register Telegram commands, retrying", map[string]any{
				"error": err.Error(),
				"retry": delay.String(),
			})

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
}

// splitMessage cuts text into chunks of at most limit UTF-16 code units,
// the unit Telegram counts in, preferring line breaks.
func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var chunks []string
	for utf16Len(runes) > limit {
		cut, units, lineBreak := 0, 0, -1
		for ; cut < len(runes); cut++ {
			n := utf16.RuneLen(runes[cut])
			if units+n > limit {
				break
			}
			units += n
			if runes[cut] == '\n' && units > limit/2 {
				lineBreak = cut
			}
		}
		if cut < len(runes) && runes[cut] == '\n' {
			lineBreak = cut
		}
		if lineBreak > 0 {
			cut = lineBreak
		}
		cut = max(cut, 1)

		chunk := strings.TrimSpace(string(runes[:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = []rune(strings.TrimLeft(string(runes[cut:]), "\n"))
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

func utf16Len(runes []rune) int {
	n := 0
	for _, r := range runes {
		n += utf16.RuneLen(r)
	}
	return n
}
