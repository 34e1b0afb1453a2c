package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dockerops/dockerops/lib"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync <url>",
	Short: "Run one reconciliation pass over a source tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer engine.Store.Close()

		summary, err := engine.Sync(context.Background(), args[0])
		if summary != nil {
			printSummary(summary)
		}
		return err
	},
	SilenceUsage: true,
}

func printSummary(summary *lib.PassSummary) {
	for _, stack := range summary.Stacks {
		if stack.Err != nil {
			lib.LogE(stack.Err).Warningf("stack %s: %s", stack.Name, stack.Action)
			continue
		}
		lib.Log().Infof("stack %s: %s", stack.Name, stack.Action)
	}
	for _, image := range summary.Images {
		if image.Err != nil {
			lib.LogE(image.Err).Warningf("image %s: %s", image.Name, image.Action)
			continue
		}
		lib.Log().Infof("image %s: %s", image.Name, image.Action)
	}
	for _, err := range summary.Transient {
		lib.LogE(err).Warning("transient, will retry on the next pass")
	}
}
