package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/probelabs/mcpscout/mcpsse"
)

func newDiscoverCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Connect, initialize, and list the server's tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(cmd, opts)
		},
	}
}

func runDiscover(cmd *cobra.Command, opts *rootOptions) error {
	cfg, log, err := opts.resolve()
	if err != nil {
		return err
	}

	client := mcpsse.New(cfg, mcpsse.WithLogger(log))
	defer client.Close()

	ctx := cmd.Context()
	if err := client.StartSession(ctx); err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	out := cmd.OutOrStdout()
	if info, err := client.Initialize(ctx); err != nil {
		// Discovery can still work against lenient servers.
		log.Warn("initialize failed", map[string]interface{}{"error": err.Error()})
	} else {
		fmt.Fprintf(out, "Connected to %s %s (session %s)\n\n", info.Name, info.Version, client.SessionID())
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("listing tools: %w", err)
	}
	if len(tools) == 0 {
		fmt.Fprintln(out, "No tools advertised.")
		return nil
	}

	fmt.Fprintln(out, renderToolsTable(tools))
	fmt.Fprintf(out, "%d tool(s) discovered\n", len(tools))
	return nil
}
