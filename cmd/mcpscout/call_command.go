package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/probelabs/mcpscout/mcpsse"
)

func newCallCommand(opts *rootOptions) *cobra.Command {
	var rawArgs []string

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Invoke a tool on the server and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}

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
			if _, err := client.Initialize(ctx); err != nil {
				return fmt.Errorf("initializing session: %w", err)
			}

			result, err := client.CallTool(ctx, args[0], toolArgs)
			if err != nil {
				return fmt.Errorf("calling %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if result.IsError {
				fmt.Fprintln(out, "Tool reported an error:")
			}
			for _, content := range result.Content {
				switch content.Type {
				case "text":
					fmt.Fprintln(out, content.Text)
				default:
					fmt.Fprintf(out, "[%s content, %d bytes]\n", content.Type, len(content.Data))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "tool argument as key=value (repeatable)")
	return cmd
}

// parseToolArgs turns repeated key=value flags into a tool argument map.
func parseToolArgs(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --arg %q: expected key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}
