package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/wcroots/internal/presentation"
)

var scanCmd = &cobra.Command{
	Use:   "scan [roots...]",
	Short: "List the working copies below the workspace roots",
	Long: `Scan the workspace roots for Subversion working copies and print them as JSON.

Roots given on the command line replace the configured ones. Without either,
the current directory is scanned.

Examples:
  wcroots scan
  wcroots scan ~/src ~/work
  wcroots scan | jq '.[].root'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg
		if len(args) > 0 {
			c.Roots = args
		}
		c.Watch = false

		e, err := newEngine(c)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.discover(cmd.Context()); err != nil {
			return err
		}

		formatter := presentation.NewFormatter(cmd.OutOrStdout())
		return formatter.FormatRepositories(presentation.FromRepositories(e.registry.List()))
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
