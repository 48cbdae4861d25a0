// picorelay - remote control for an autonomous coding agent over Telegram
// License: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sipeed/picorelay/cmd/picorelay/internal"
	"github.com/sipeed/picorelay/cmd/picorelay/internal/auditcmd"
	"github.com/sipeed/picorelay/cmd/picorelay/internal/gateway"
	"github.com/sipeed/picorelay/cmd/picorelay/internal/onboard"
	"github.com/sipeed/picorelay/cmd/picorelay/internal/status"
	"github.com/sipeed/picorelay/cmd/picorelay/internal/version"
)

func NewPicorelayCommand() *cobra.Command {
	short := fmt.Sprintf("%s picorelay - Telegram remote control for your agent v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:           "picorelay",
		Short:         short,
		Example:       "picorelay gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		onboard.NewOnboardCommand(),
		gateway.NewGatewayCommand(),
		status.NewStatusCommand(),
		auditcmd.NewAuditCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewPicorelayCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
