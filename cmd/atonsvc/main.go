package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/grad-enav/atonservice/internal/common/logtrace"
)

var errAlreadyHandled = errors.New("already handled")

var rootCmd = &cobra.Command{
	Use:   "atonsvc [command] [flags]",
	Short: "AtoN dataset service",
	Long: `atonsvc ingests AtoN changes from the feed, keeps S-125 datasets up to date
and pushes them to SECOM subscribers.

Examples:
  # Run the service
  atonsvc serve --config /etc/atonsvc/atonsvc.toml

  # Verify an audit log
  atonsvc verify-audit --file audit-20260101T000000Z.log --pubkey signing-key.json`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	logtrace.InitLogger()
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVerifyAuditCmd())
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
