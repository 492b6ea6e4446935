package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zjrosen/wcroots/internal/paths"
	"github.com/zjrosen/wcroots/internal/presentation"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>...",
	Short: "Print the working copy that owns each path",
	Long: `Scan the workspace roots, then resolve every path to the most specific
working copy that owns it. Paths inside externals or ignored entries resolve
to the working copy checked out there, or to null.

Examples:
  wcroots resolve src/main.c
  wcroots resolve ~/src/app/vendor/lib/x.h | jq -r '.[0].root'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg
		c.Watch = false

		e, err := newEngine(c)
		if err != nil {
			return err
		}
		defer e.close()

		ctx := cmd.Context()
		if err := e.discover(ctx); err != nil {
			return err
		}

		targets := make([]string, len(args))
		for i, a := range args {
			targets[i] = paths.Normalize(a)
		}
		// Paths outside the roots still find their enclosing working copy.
		e.manager.Scanner().ScanAll(ctx, targets, 0)
		e.manager.Wait()

		out := make([]presentation.ResolutionDTO, len(targets))
		for i, p := range targets {
			repo, ok := e.registry.ResolvePath(p)
			out[i] = presentation.FromResolution(p, repo, ok)
		}
		return presentation.NewFormatter(cmd.OutOrStdout()).FormatResolutions(out)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
