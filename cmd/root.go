// Package cmd wires the marquee command line interface together. Every
// command is built by a constructor so that tests can execute a fresh,
// fully isolated command tree without touching global state.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/marquee/internal/config"
	"github.com/xkilldash9x/marquee/internal/observability"
)

// Execute builds the command tree and runs it under the given context.
// The context should already be wired to the process signals so that a
// SIGINT or SIGTERM cancels the running session.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// NewRootCommand returns the marquee root command with all subcommands
// attached. The viper instance is private to the returned tree; repeated
// calls never share configuration state.
func NewRootCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "marquee",
		Short: "Unattended browser kiosk that loops a URL playlist",
		Long: `Marquee drives a real Chrome browser through a playlist of URLs, forever.
It probes each URL before spending a page load on it, dwells on every page,
restarts the browser when it misbehaves, and keeps going until told to stop.`,
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			config.SetDefaults(v)
			if err := loadConfigFile(v, cfgFile); err != nil {
				return err
			}

			// Fail fast on a broken config file or environment before any
			// subcommand runs. Subcommands re-read the viper state after
			// binding their own flags.
			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default ./config.yaml, then $HOME/.marquee/config.yaml)")

	rootCmd.AddCommand(newRunCmd(v), newURLsCmd(v), newVersionCmd())
	return rootCmd
}

// loadConfigFile layers the optional YAML config file and MARQUEE_*
// environment variables on top of the defaults already present in v.
// A missing file is only an error when it was named explicitly.
func loadConfigFile(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix("MARQUEE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".marquee"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && cfgFile == "" {
			// Defaults plus environment are a complete configuration.
			return nil
		}
		return fmt.Errorf("reading config: %w", err)
	}
	return nil
}
