package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/grad-enav/atonservice/internal/atonsvc/audit"
	"github.com/grad-enav/atonservice/internal/atonsvc/keys"
)

func newVerifyAuditCmd() *cobra.Command {
	var file, keyFile string
	cmd := &cobra.Command{
		Use:   "verify-audit --file LOG_FILE --pubkey KEY_FILE",
		Short: "Verify the integrity of an audit log",
		Long: `Verify an audit log by checking its hash chain and the signature of every entry
against the public key stored in the service's signing key file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := keys.ReadPublicKey(keyFile)
			if err != nil {
				return fmt.Errorf("reading public key: %w", err)
			}
			n, err := audit.VerifyFile(file, pub)
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "FAILED after %d verified entries: %v\n", n, err)
				return errAlreadyHandled
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Audit log file")
	cmd.Flags().StringVar(&keyFile, "pubkey", "", "Signing key file holding the public key")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("pubkey")
	return cmd
}
