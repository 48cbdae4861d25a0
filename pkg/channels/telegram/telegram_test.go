package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picorelay/pkg/bus"
	"github.com/sipeed/picorelay/pkg/commands"
	"github.com/sipeed/picorelay/pkg/config"
)

type fakeBot struct {
	mu       sync.Mutex
	updates  chan telego.Update
	pollErr  error
	sendErr  error
	sent     []*telego.SendMessageParams
	commands []telego.BotCommand

	cmdFailures int
	cmdCalls    int
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan telego.Update, 8)}
}

func (f *fakeBot) Username() string { return "relay_bot" }

func (f *fakeBot) UpdatesViaLongPolling(
	_ context.Context,
	params *telego.GetUpdatesParams,
	_ ...telego.LongPollingOption,
) (<-chan telego.Update, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	if params == nil || params.Timeout != 30 {
		return nil, errors.New("unexpected polling params")
	}
	return f.updates, nil
}

func (f *fakeBot) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, params)
	return &telego.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) SetMyCommands(_ context.Context, params *telego.SetMyCommandsParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmdCalls++
	if f.cmdCalls <= f.cmdFailures {
		return errors.New("Bad Gateway")
	}
	f.commands = params.Commands
	return nil
}

func (f *fakeBot) sentMessages() []*telego.SendMessageParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*telego.SendMessageParams(nil), f.sent...)
}

func TestNew_RejectsBadProxy(t *testing.T) {
	_, err := New(config.TelegramConfig{
		Token: "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi",
		Proxy: "://bad",
	}, bus.NewMessageBus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid proxy URL")
}

func TestNew_RejectsBadToken(t *testing.T) {
	_, err := New(config.TelegramConfig{Token: "not-a-token"}, bus.NewMessageBus())
	require.Error(t, err)
}

func TestStart_PublishesTextMessages(t *testing.T) {
	bot := newFakeBot()
	mb := bus.NewMessageBus()
	ch := newChannel(bot, mb, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ch.Start(ctx))
	assert.True(t, ch.IsRunning())

	bot.updates <- telego.Update{Message: &telego.Message{
		MessageID: 7,
		Text:      "   ",
		From:      &telego.User{ID: 42},
		Chat:      telego.Chat{ID: 42, Type: "private"},
	}}
	bot.updates <- telego.Update{Message: &telego.Message{
		MessageID: 8,
		Text:      "/task buy milk",
	}}
	bot.updates <- telego.Update{Message: &telego.Message{
		MessageID: 9,
		Text:      "/status",
		From:      &telego.User{ID: 42, Username: "op"},
		Chat:      telego.Chat{ID: -100, Type: "private"},
	}}

	recvCtx, recvCancel := context.WithTimeout(ctx, 2*time.Second)
	defer recvCancel()
	msg, ok := mb.ConsumeInbound(recvCtx)
	require.True(t, ok)

	assert.Equal(t, Name, msg.Channel)
	assert.Equal(t, "42", msg.SenderID)
	assert.Equal(t, "-100", msg.ChatID)
	assert.Equal(t, "9", msg.MessageID)
	assert.Equal(t, "/status", msg.Content)
	assert.Equal(t, "op", msg.Metadata["username"])
}

func TestStart_PollingError(t *testing.T) {
	bot := newFakeBot()
	bot.pollErr = errors.New("unauthorized")
	ch := newChannel(bot, bus.NewMessageBus(), 0)

	err := ch.Start(context.Background())
	require.Error(t, err)
	assert.False(t, ch.IsRunning())
}

func TestSend_RepliesToMessage(t *testing.T) {
	bot := newFakeBot()
	ch := newChannel(bot, bus.NewMessageBus(), 0)

	err := ch.Send(context.Background(), bus.OutboundMessage{
		Channel: Name,
		ChatID:  "42",
		Content: "🏓 Pong!",
		ReplyTo: "9",
	})
	require.NoError(t, err)

	sent := bot.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(42), sent[0].ChatID.ID)
	assert.Equal(t, "🏓 Pong!", sent[0].Text)
	require.NotNil(t, sent[0].ReplyParameters)
	assert.Equal(t, 9, sent[0].ReplyParameters.MessageID)
}

func TestSend_InvalidChatID(t *testing.T) {
	bot := newFakeBot()
	ch := newChannel(bot, bus.NewMessageBus(), 0)

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "abc", Content: "hi"})
	require.Error(t, err)
	assert.Empty(t, bot.sentMessages())
}

func TestSend_SplitsLongMessages(t *testing.T) {
	bot := newFakeBot()
	ch := newChannel(bot, bus.NewMessageBus(), 0)

	line := strings.Repeat("a", 100)
	var lines []string
	for range 60 {
		lines = append(lines, line)
	}
	err := ch.Send(context.Background(), bus.OutboundMessage{
		ChatID:  "42",
		Content: strings.Join(lines, "\n"),
		ReplyTo: "3",
	})
	require.NoError(t, err)

	sent := bot.sentMessages()
	require.Len(t, sent, 2)
	assert.NotNil(t, sent[0].ReplyParameters)
	assert.Nil(t, sent[1].ReplyParameters)
	for _, params := range sent {
		assert.LessOrEqual(t, len(utf16.Encode([]rune(params.Text))), telegramMaxMessageLength)
		assert.False(t, strings.HasPrefix(params.Text, "\n"))
	}
}

func TestSend_PropagatesAPIError(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = errors.New("Too Many Requests")
	ch := newChannel(bot, bus.NewMessageBus(), 0)

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "42", Content: "hi"})
	require.Error(t, err)
}

func TestRunSender_DeliversOutbound(t *testing.T) {
	bot := newFakeBot()
	mb := bus.NewMessageBus()
	ch := newChannel(bot, mb, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ch.RunSender(ctx)
		close(done)
	}()

	require.NoError(t, mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: "other", ChatID: "1", Content: "x"}))
	require.NoError(t, mb.PublishOutbound(ctx, bus.OutboundMessage{Channel: Name, ChatID: "42", Content: "✅ APPROVED"}))

	require.Eventually(t, func() bool { return len(bot.sentMessages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "✅ APPROVED", bot.sentMessages()[0].Text)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSender did not stop")
	}
}

func TestRegisterCommands(t *testing.T) {
	bot := newFakeBot()
	ch := newChannel(bot, bus.NewMessageBus(), 0)

	err := ch.RegisterCommands(context.Background(), []commands.Definition{
		{Name: "status", Description: "Current status"},
		{Name: "hidden"},
		{Name: "ping", Description: "Test bot"},
	})
	require.NoError(t, err)

	require.Len(t, bot.commands, 2)
	assert.Equal(t, "status", bot.commands[0].Command)
	assert.Equal(t, "ping", bot.commands[1].Command)
}

func TestStartCommandRegistration_Retries(t *testing.T) {
	old := commandRegistrationBackoff
	commandRegistrationBackoff = []time.Duration{time.Millisecond}
	t.Cleanup(func() { commandRegistrationBackoff = old })

	bot := newFakeBot()
	bot.cmdFailures = 2
	ch := newChannel(bot, bus.NewMessageBus(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch.StartCommandRegistration(ctx, []commands.Definition{{Name: "ping", Description: "Test bot"}})

	require.Eventually(t, func() bool {
		bot.mu.Lock()
		defer bot.mu.Unlock()
		return len(bot.commands) == 1
	}, 2*time.Second, 5*time.Millisecond)

	bot.mu.Lock()
	defer bot.mu.Unlock()
	assert.Equal(t, 3, bot.cmdCalls)
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("  ", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"aaaa\nbbb", "cccc"}, splitMessage("aaaa\nbbb\ncccc", 10))
	assert.Equal(t, []string{"aaaaaaaaaa", "aaaaa"}, splitMessage(strings.Repeat("a", 15), 10))
	assert.Equal(t, []string{"ééé", "ééé"}, splitMessage("éééééé", 3))
}

func TestSplitMessage_CountsUTF16Units(t *testing.T) {
	// Each emoji is one rune but two UTF-16 units.
	assert.Equal(t, []string{"😀😀", "😀😀", "😀"}, splitMessage("😀😀😀😀😀", 5))

	text := strings.Repeat("✅ done 🚀\n", 600)
	require.Less(t, len([]rune(text)), 2*telegramMaxMessageLength)
	chunks := splitMessage(text, telegramMaxMessageLength)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(utf16.Encode([]rune(chunk))), telegramMaxMessageLength)
		assert.True(t, strings.HasSuffix(chunk, "🚀"), "chunks end on a line break")
	}
	assert.Equal(t, strings.TrimSpace(text), strings.Join(chunks, "\n"))
}
