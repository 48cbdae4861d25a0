package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sipeed/picorelay/cmd/picorelay/internal"
	"github.com/sipeed/picorelay/pkg/audit"
	"github.com/sipeed/picorelay/pkg/breaker"
	"github.com/sipeed/picorelay/pkg/bus"
	"github.com/sipeed/picorelay/pkg/channels/telegram"
	"github.com/sipeed/picorelay/pkg/commands"
	"github.com/sipeed/picorelay/pkg/config"
	"github.com/sipeed/picorelay/pkg/daemon"
	"github.com/sipeed/picorelay/pkg/guard"
	"github.com/sipeed/picorelay/pkg/janitor"
	"github.com/sipeed/picorelay/pkg/logger"
	"github.com/sipeed/picorelay/pkg/ratelimit"
	"github.com/sipeed/picorelay/pkg/relay"
	"github.com/sipeed/picorelay/pkg/sanitize"
	"github.com/sipeed/picorelay/pkg/watcher"
)

// transport is the chat side of the gateway.
type transport interface {
	Start(ctx context.Context) error
	RunSender(ctx context.Context)
	StartCommandRegistration(ctx context.Context, defs []commands.Definition)
}

type connectFunc func(cfg config.TelegramConfig, mb *bus.MessageBus) (transport, error)

func connectTelegram(cfg config.TelegramConfig, mb *bus.MessageBus) (transport, error) {
	return telegram.New(cfg, mb)
}

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(true); err != nil {
		return err
	}
	if err := setupLogging(cfg.Log, debug); err != nil {
		return err
	}

	pid := daemon.NewPIDFile(internal.GetPIDPath())
	if err := pid.Acquire(); err != nil {
		return err
	}
	defer pid.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("%s picorelay %s\n", internal.Logo, internal.FormatVersion())
	return run(ctx, cfg, connectTelegram)
}

func setupLogging(cfg config.LogConfig, debug bool) error {
	if cfg.Level != "" {
		level, err := logger.ParseLevel(cfg.Level)
		if err != nil {
			return err
		}
		logger.SetLevel(level)
	}
	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	}
	if cfg.File != "" {
		if err := logger.EnableFileLogging(cfg.File); err != nil {
			return err
		}
	}
	return nil
}

// run wires the relay and blocks until ctx ends.
func run(ctx context.Context, cfg *config.Config, connect connectFunc) error {
	auditor, err := audit.Open(audit.Config{
		LogFilePath: cfg.Audit.LogFile,
		SecretKey:   []byte(cfg.Audit.SecretKey),
	})
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditor.Close()

	g, err := guard.New(cfg.Telegram.AuthorizedUserID.String(), cfg.Telegram.AllowAnyUser, auditor)
	if err != nil {
		return err
	}

	if err := internal.EnsureTasksDir(ctx, cfg); err != nil {
		return fmt.Errorf("prepare tasks dir: %w", err)
	}
	store := internal.NewStore(cfg)

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Limit:  cfg.Limits.RateLimit,
		Window: cfg.Limits.RateWindow.Std(),
	})

	mb := bus.NewMessageBus()
	defer mb.Close()

	r, err := relay.New(relay.Deps{
		Guard:     g,
		Limiter:   limiter,
		Store:     store,
		Sanitizer: sanitize.New(cfg.Limits.TaskMaxLen),
		Auditor:   auditor,
		Bus:       mb,
		Breaker: breaker.Config{
			Name:      "file-ops",
			Threshold: cfg.Limits.BreakerThreshold,
			Timeout:   cfg.Limits.BreakerTimeout.Std(),
		},
	})
	if err != nil {
		return err
	}

	jan, err := janitor.New(cfg.Limits.JanitorSchedule)
	if err != nil {
		return err
	}
	jan.Register("ratelimit", limiter)
	if err := jan.Start(); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		jan.Stop(stopCtx)
	}()

	ch, err := connect(cfg.Telegram, mb)
	if err != nil {
		return err
	}
	if err := ch.Start(ctx); err != nil {
		return err
	}
	ch.StartCommandRegistration(ctx, r.Definitions())
	go ch.RunSender(ctx)

	if cfg.Telegram.NotifyApprovals && !g.OpenAccess() {
		w := watcher.NewApprovalWatcher(cfg.Files.ApprovalRequestFile, store, notifyOperator(mb, g.AuthorizedID()))
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.ErrorCF("gateway", "Approval watcher stopped", map[string]any{
					"error": err.Error(),
				})
			}
		}()
	}

	logger.InfoCF("gateway", "Relay started", map[string]any{
		"operator":    g.AuthorizedID(),
		"open_access": g.OpenAccess(),
		"commands":    len(r.Definitions()),
		"janitor":     jan.NextRun().Format(time.RFC3339),
	})

	err = r.Run(ctx)
	logger.InfoC("gateway", "Shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// notifyOperator sends notices to the operator's private chat, whose ID
// equals the operator's user ID.
func notifyOperator(mb *bus.MessageBus, operatorID string) watcher.Notifier {
	return func(ctx context.Context, text string) error {
		return mb.PublishOutbound(ctx, bus.OutboundMessage{
			Channel: telegram.Name,
			ChatID:  operatorID,
			Content: text,
		})
	}
}
