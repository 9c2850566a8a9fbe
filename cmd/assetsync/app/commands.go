package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/assetsync/cmd/assetsync/cmd/reconcile"
	"github.com/agentstation/assetsync/cmd/assetsync/cmd/registered"
	"github.com/agentstation/assetsync/cmd/assetsync/cmd/run"
	"github.com/agentstation/assetsync/cmd/assetsync/cmd/snapshot"
	"github.com/agentstation/assetsync/cmd/assetsync/cmd/version"
)

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(run.NewCommand(a))
	rootCmd.AddCommand(reconcile.NewCommand(a))

	// Inspection commands
	rootCmd.AddCommand(snapshot.NewCommand(a))
	rootCmd.AddCommand(registered.NewCommand(a))

	// Utility commands
	rootCmd.AddCommand(version.NewCommand(a))
}
