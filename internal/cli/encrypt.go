package cli

import (
	"fmt"

	"github.com/barryq93/wisdomgraph/internal/utils"
	"github.com/spf13/cobra"
)

func newEncryptPasswordCmd() *cobra.Command {
	var key, text string

	cmd := &cobra.Command{
		Use:     "encrypt-password",
		Short:   "Encrypt a secret for the config file",
		Example: `  wisdomgraph encrypt-password --key "32-byte-long-secret-key-here!!!!" --text "mypassword"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(key) != 32 {
				return fmt.Errorf("key must be 32 bytes long for AES-256, got %d", len(key))
			}
			encrypted, err := utils.Encrypt(key, text)
			if err != nil {
				return fmt.Errorf("encryption failed: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Encrypted value: %s\n", encrypted)
			fmt.Fprintln(out, "Copy this value into your config.yml for neo4j.password or basic_auth.password.")
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "32-byte encryption key (required)")
	cmd.Flags().StringVar(&text, "text", "", "Text to encrypt (required)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
