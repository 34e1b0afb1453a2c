package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dockerops/dockerops/lib"
)

func init() {
	rootCmd.AddCommand(teardownCmd)
}

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Remove all managed stacks and images and clear the state store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Store.Close()

		summary, err := engine.Teardown(context.Background())
		if err != nil {
			return err
		}
		if len(summary.Failures) > 0 {
			lib.Log().Warningf("%d resource(s) could not be removed, state cleared anyway", len(summary.Failures))
		}
		lib.Log().Info("teardown complete")
		return nil
	},
	SilenceUsage: true,
}
