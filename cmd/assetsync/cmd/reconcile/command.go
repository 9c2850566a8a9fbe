// Package reconcile provides the reconcile command.
package reconcile

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/assetsync/cmd/application"
	"github.com/agentstation/assetsync/internal/cmd/output"
	"github.com/agentstation/assetsync/pkg/errors"
)

// NewCommand creates the reconcile command using app context.
func NewCommand(app application.Application) *cobra.Command {
	var restore bool

	cmd := &cobra.Command{
		Use:     "reconcile <uri>...",
		GroupID: "core",
		Short:   "Run one reconciliation cycle per source",
		Long: `Reconcile fetches every given source once, registers new elements,
updates changed ones and unregisters vanished ones.

With a persistent registry, --restore (the default) first adopts what the
registry already holds for the source so that vanished elements are
removed as well.`,
		Args: cobra.MinimumNArgs(1),
		Example: `  assetsync reconcile http://aas-env:8081
  assetsync reconcile registry+http://aas-registry:8080
  assetsync reconcile file:///srv/aas/line-1.json -o yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}
			logger := app.Logger()
			ctx := cmd.Context()

			var failed []error
			for _, uri := range args {
				src, err := app.NewSource(uri)
				if err != nil {
					return err
				}
				if err := client.AddSource(src); err != nil {
					return err
				}
				if restore {
					if _, err := client.Restore(ctx, src.URI()); err != nil {
						logger.Warn().Err(err).Str("source", src.URI()).Msg("Restore failed")
					}
				}

				res, err := client.Reconcile(ctx, src.URI())
				if res == nil {
					return err
				}
				if err != nil {
					failed = append(failed, err)
				}
				if err := output.Write(cmd.OutOrStdout(), app.OutputFormat(), output.NewResultView(res)); err != nil {
					return errors.WrapIO("write", "stdout", err)
				}
			}
			return errors.Join(failed...)
		},
	}

	cmd.Flags().BoolVar(&restore, "restore", true, "adopt resources the registry already holds for the source")

	return cmd
}
