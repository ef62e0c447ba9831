package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/plugterm/internal/app"
)

func newPlainCmd(flags *rootFlags, code *int) *cobra.Command {
	var opts app.PlainOptions
	cmd := &cobra.Command{
		Use:   "plain",
		Short: "Chat line by line on stdin and stdout, without the terminal UI",
		Long: `Chat line by line on stdin and stdout, without the terminal UI.

Lines are sent to the active channel. Besides the usual commands, plain mode
understands .groups, .group <name|number>, .channels, .create <name>,
.user <name> and .invite <code>. End of input quits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return flags.run(cmd.Context(), code, func(ctx context.Context, a *app.App) (int, error) {
				return a.RunPlain(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), opts)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false, "strip colors from output")
	return cmd
}
