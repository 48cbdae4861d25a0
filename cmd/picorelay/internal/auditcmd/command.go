package auditcmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/sipeed/picorelay/cmd/picorelay/internal"
	"github.com/sipeed/picorelay/pkg/audit"
)

func NewAuditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "audit",
		Aliases: []string{"a"},
		Short:   "Inspect the audit log",
	}

	cmd.AddCommand(
		newVerifyCommand(),
		newTailCommand(),
	)

	return cmd
}

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check the audit log hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			return verify(cmd.OutOrStdout(), audit.Config{
				LogFilePath: cfg.Audit.LogFile,
				SecretKey:   []byte(cfg.Audit.SecretKey),
			})
		},
	}
}

func newTailCommand() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the most recent audit events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := internal.LoadConfig()
			if err != nil {
				return err
			}
			return tail(cmd.OutOrStdout(), cfg.Audit.LogFile, n)
		},
	}

	cmd.Flags().IntVarP(&n, "lines", "n", 20, "Number of events to show")

	return cmd
}

func verify(out io.Writer, cfg audit.Config) error {
	logger, err := audit.Open(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	n, err := logger.VerifyChain()
	if err != nil {
		return fmt.Errorf("audit log %s is not intact after %d events: %w", cfg.LogFilePath, n, err)
	}
	fmt.Fprintf(out, "✓ %d events verified in %s\n", n, cfg.LogFilePath)
	return nil
}

func tail(out io.Writer, path string, n int) error {
	events, err := audit.ReadEvents(path)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	for _, e := range events {
		command := e.Command
		if command == "" {
			command = "-"
		}
		fmt.Fprintf(out, "%s  %-8s %-22s %-7s %-12s %s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Severity, e.Kind, e.Outcome, e.Identity, command)
	}
	return nil
}
