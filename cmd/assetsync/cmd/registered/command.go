// Package registered provides the registered command.
package registered

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/assetsync/cmd/application"
	"github.com/agentstation/assetsync/internal/cmd/output"
	"github.com/agentstation/assetsync/pkg/errors"
)

// NewCommand creates the registered command using app context.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "registered <uri>",
		GroupID: "inspect",
		Short:   "List the resources registered for a source",
		Long: `Registered lists what the configured registry holds for a source,
with the policies each resource is bound to. Only a persistent registry
(--registry sqlite) outlives the process.`,
		Args:    cobra.ExactArgs(1),
		Example: `  ASSETSYNC_REGISTRY=sqlite assetsync registered http://aas-env:8081`,
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
			if _, err := client.Restore(cmd.Context(), src.URI()); err != nil {
				return err
			}

			view := output.NewEntriesView(client.Registered(src.URI()))
			if err := output.Write(cmd.OutOrStdout(), app.OutputFormat(), view); err != nil {
				return errors.WrapIO("write", "stdout", err)
			}
			return nil
		},
	}
}
