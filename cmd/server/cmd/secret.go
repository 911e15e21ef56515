package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

const minSecretBytes = 16

func newSecretCommand() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Generate a shared secret for STORAGE_API_KEY",
		Long: `Generate a random shared secret for service-to-service authentication.

Set the same value as STORAGE_API_KEY on the gateway and the storage
service. The default placeholder is rejected in production.

Examples:
  passvault secret
  passvault secret --bytes 48`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := generateSecret(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), secret)
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "bytes", 32, "random bytes before encoding")
	return cmd
}

func generateSecret(size int) (string, error) {
	if size < minSecretBytes {
		return "", fmt.Errorf("--bytes must be at least %d", minSecretBytes)
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
