package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show synced sources, stacks and images",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, _, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		sources, err := store.GetAllSources()
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			fmt.Println("Nothing has been synced yet.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Source", "Last Sync"})
		for _, source := range sources {
			table.Append([]string{source.URL, source.LastSync.Format(time.RFC3339)})
		}
		table.Render()

		stacks, err := store.GetAllStacks()
		if err != nil {
			return err
		}
		table = tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Stack", "Status", "Hash"})
		for _, stack := range stacks {
			table.Append([]string{stack.Name, string(stack.Status), stack.Hash})
		}
		table.Render()

		images, err := store.GetAllImages()
		if err != nil {
			return err
		}
		table = tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Image", "References", "Digest"})
		for _, image := range images {
			table.Append([]string{image.Name, strconv.Itoa(image.ReferenceCount), image.Digest})
		}
		table.Render()
		return nil
	},
	SilenceUsage: true,
}
