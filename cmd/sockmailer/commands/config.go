package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busybox42/sockmailer/internal/config"
)

func newConfigCommand(configPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
		Long:  "Commands for generating, validating and inspecting the sockmailer configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "./sockmailer.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.SaveDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote default configuration to %s\n", path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd, *configPath)
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			masked := *cfg
			if masked.Transport.Password != "" {
				masked.Transport.Password = "***REDACTED***"
			}
			if masked.Cache.Password != "" {
				masked.Cache.Password = "***REDACTED***"
			}
			out, err := masked.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	return configCmd
}

func validateConfig(cmd *cobra.Command, configPath string) error {
	cfg, file, err := config.Load(configPath)
	if err != nil {
		return err
	}

	result := cfg.Validate()
	if file != "" {
		config.NewConfigFileSecurity().CheckPermissions(file, cfg, result)
	} else {
		file = "(defaults)"
	}

	out := cmd.OutOrStdout()
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "WARNING: %s\n", w.Error())
	}
	for _, e := range result.Errors {
		fmt.Fprintf(out, "ERROR: %s\n", e.Error())
	}
	if !result.Valid {
		return fmt.Errorf("%s: %d validation error(s)", file, len(result.Errors))
	}
	fmt.Fprintf(out, "%s: configuration is valid\n", file)
	return nil
}
