package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/service/relay"
	"github.com/oshokin/alarm-relay/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// rootCmd represents the base command for running the relay.
	rootCmd = &cobra.Command{
		Use:   "alarm-relay",
		Short: "Relay emergency alarms from mail and pager sources to notification targets.",
		Long: `Starts the alarm relay daemon.

Alarms are read from the configured IMAP mailboxes and serial pager receivers,
resolved against the configured templates, arbitrated against the last
dispatched alarm and delivered to every notifier and webhook they address.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return relay.Run(ctx, &relay.Options{ConfigPath: configPath})
		},
	}

	// checkConfigCmd validates the configuration without starting anything.
	checkConfigCmd = &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file and print warnings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			for _, warning := range cfg.Warnings() {
				_, _ = fmt.Fprintln(out, "warning:", warning)
			}

			_, _ = fmt.Fprintf(out, "%s is valid: %d notifiers, %d mail sources, %d serial sources, %d templates\n",
				configPath, len(cfg.Notifiers), len(cfg.Sources.Mail), len(cfg.Sources.Serial), len(cfg.Templates))

			return nil
		},
	}
)

// Execute runs the alarm-relay CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.AddCommand(checkConfigCmd)
}
