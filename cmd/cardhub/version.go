package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kiosk-device/cardhub/internal/config"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the service version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cardhub %s\n", config.Version)
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the configuration, then print the effective values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			redactSecrets(cfg)
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# configuration is valid\n%s", out)
			return nil
		},
	}
}

// redactSecrets masks credentials before the config is printed.
func redactSecrets(cfg *config.Config) {
	for _, s := range []*string{
		&cfg.Services.KDSAPIKey,
		&cfg.Services.BluefinAPIKey,
		&cfg.Analytics.MQTTPassword,
		&cfg.Auth.HMACSecret,
	} {
		if *s != "" {
			*s = "***"
		}
	}
}
