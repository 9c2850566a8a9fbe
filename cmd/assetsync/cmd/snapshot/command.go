// Package snapshot provides the snapshot command.
package snapshot

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/assetsync/cmd/application"
	"github.com/agentstation/assetsync/internal/cmd/output"
	"github.com/agentstation/assetsync/pkg/errors"
)

// NewCommand creates the snapshot command using app context.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "snapshot <uri>",
		GroupID: "inspect",
		Short:   "Describe a source without registering anything",
		Long: `Snapshot prints the self-description of a source: its current tree
restricted to the elements that would be registered, with their chains,
asset ids and policies. The registry is not touched.`,
		Args:    cobra.ExactArgs(1),
		Example: `  assetsync snapshot http://aas-env:8081 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}
			src, err := app.NewSource(args[0])
			if err != nil {
				return err
			}
			if err := client.AddSource(src); err != nil {
				return err
			}

			snap, err := client.Snapshot(cmd.Context(), src.URI())
			if err != nil {
				return err
			}
			for _, note := range snap.Notes {
				app.Logger().Warn().Str("source", snap.Source).Msg(note)
			}

			format := output.DetectFormat(app.OutputFormat())
			var data any = snap
			if format == output.FormatTable || format == output.FormatWide {
				data = output.SnapshotView{Snapshot: snap}
			}
			if err := output.NewFormatter(format).Format(cmd.OutOrStdout(), data); err != nil {
				return errors.WrapIO("write", "stdout", err)
			}
			return nil
		},
	}
}
