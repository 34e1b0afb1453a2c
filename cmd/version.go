package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dockerops/dockerops/config"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("DockerOps CLI v%s\n", config.Version)
	},
}
