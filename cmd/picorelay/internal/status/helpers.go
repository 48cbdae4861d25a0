package status

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sipeed/picorelay/cmd/picorelay/internal"
	"github.com/sipeed/picorelay/pkg/config"
	"github.com/sipeed/picorelay/pkg/daemon"
	"github.com/sipeed/picorelay/pkg/relay"
)

func statusCmd(cmd *cobra.Command) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(false); err != nil {
		return err
	}
	pid := daemon.NewPIDFile(internal.GetPIDPath()).Running()
	return printStatus(cmd.Context(), cmd.OutOrStdout(), internal.GetConfigPath(), pid, cfg)
}

func printStatus(ctx context.Context, out io.Writer, configPath string, gatewayPID int, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	fmt.Fprintf(out, "%s picorelay %s\n\n", internal.Logo, internal.FormatVersion())
	if gatewayPID > 0 {
		fmt.Fprintf(out, "Gateway: running (PID %d)\n", gatewayPID)
	} else {
		fmt.Fprintln(out, "Gateway: not running")
	}
	fmt.Fprintln(out, "Config:", configPath, mark(configPath))
	fmt.Fprintln(out, "Tasks:", cfg.Files.TasksDir, mark(cfg.Files.TasksDir))
	if id := cfg.Telegram.AuthorizedUserID.String(); id != "" {
		fmt.Fprintln(out, "Operator:", id)
	} else {
		fmt.Fprintln(out, "Operator: any user (open access)")
	}
	fmt.Fprintln(out)

	text, _, err := relay.StatusReport(ctx, internal.NewStore(cfg))
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	fmt.Fprintln(out, text)
	return nil
}

func mark(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "✓"
	}
	return "✗"
}
