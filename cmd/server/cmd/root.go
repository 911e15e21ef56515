package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "passvault",
		Short: "passvault - password manager gateway and storage services",
		Long: `passvault runs the two services of the password manager.

The gateway encrypts credentials under a per-entry master key and forwards
them to the storage service through a circuit breaker with retries. The
storage service persists entries in SQLite and keeps an audit log fed from
Kafka.

Configuration comes from environment variables, optionally backed by a flat
YAML file passed with --config.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (optional, uses env vars by default)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")

	root.AddCommand(newGatewayCommand())
	root.AddCommand(newStorageCommand())
	root.AddCommand(newTokenCommand())
	root.AddCommand(newSecretCommand())
	root.AddCommand(newHealthcheckCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
