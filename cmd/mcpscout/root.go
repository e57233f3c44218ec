package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/probelabs/mcpscout/config"
	"github.com/probelabs/mcpscout/logging"
)

// rootOptions carries the persistent flags shared by all commands.
type rootOptions struct {
	configPath string
	baseURL    string
	port       int
	timeout    time.Duration
	verbose    bool
}

// resolve merges the config file (or defaults) with flag overrides.
func (o *rootOptions) resolve() (config.Config, *logging.Logger, error) {
	var cfg config.Config
	if o.configPath != "" {
		loaded, err := config.LoadFile(o.configPath)
		if err != nil {
			return config.Config{}, nil, err
		}
		cfg = loaded
	} else {
		loaded, path, err := config.Load()
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
		cfg = loaded
	}

	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.timeout > 0 {
		cfg.RequestTimeout = o.timeout
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	log := logging.New()
	if o.verbose {
		log.SetLevel(logging.LevelDebug)
	}
	return cfg, log, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "mcpscout",
		Short:         "Probe an MCP server over its SSE transport",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Bare invocation runs discovery.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", "", "Server base URL (e.g. http://127.0.0.1)")
	rootCmd.PersistentFlags().IntVar(&opts.port, "port", 0, "Server port")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Per-request response timeout")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newDiscoverCommand(opts))
	rootCmd.AddCommand(newCallCommand(opts))

	return rootCmd
}
