// Package main implements the card reader device service entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kiosk-device/cardhub/internal/config"
)

var (
	cfgFile string
	envFile string
)

// rootCmd runs the service when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "cardhub",
	Short: "Card reader device service",
	Long: `cardhub owns the kiosk card reader and serves its commands to local
clients over a WebSocket session.

Examples:
  cardhub                          # serve with defaults and CARDHUB_* overrides
  cardhub serve --config cardhub.yaml
  cardhub check-config --config cardhub.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFiles(envFile)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default $CARDHUB_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file read before the config, skipped when missing")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCheckConfigCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
