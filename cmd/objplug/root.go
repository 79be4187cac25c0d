package main

import (
	"fmt"
	"strings"
	"time"

	objectplugin "github.com/masegraye/object-plugin-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagEndpoint = "endpoint"
	flagConfig   = "config"
	flagLogLevel = "log-level"
	flagTimeout  = "timeout"
	flagRetries  = "retries"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:           "objplug",
		Short:         "Fetch and stream objects from an object server",
		Long:          "objplug opens a session with an object server, fetches published objects with their references, and opens message streams to bidirectional objects.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			path := v.GetString(flagConfig)
			if path == "" {
				return nil
			}
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", path, err)
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagEndpoint, "http://localhost:8080", "object server URL")
	flags.String(flagConfig, "", "config file (yaml, toml or json)")
	flags.String(flagLogLevel, "warn", "log level (debug, info, warn, error)")
	flags.Duration(flagTimeout, 30*time.Second, "timeout for unary calls")
	flags.Int(flagRetries, 3, "attempts per unary call")
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix(objectplugin.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.AddCommand(
		newFetchCmd(v),
		newStreamCmd(v),
	)

	return rootCmd
}

func newClient(v *viper.Viper) (*objectplugin.Client, error) {
	logger, err := objectplugin.NewLogger(v.GetString(flagLogLevel))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", flagLogLevel, err)
	}

	policy := objectplugin.DefaultRetryPolicy()
	policy.MaxAttempts = v.GetInt(flagRetries)

	return objectplugin.NewClient(objectplugin.ClientConfig{
		Endpoint: v.GetString(flagEndpoint),
		Retry:    &policy,
		Logger:   logger,
	})
}
