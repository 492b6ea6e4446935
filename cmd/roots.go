package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/wcroots/internal/config"
)

var rootsCmd = &cobra.Command{
	Use:               "roots",
	Short:             "Manage configured workspace roots",
	PersistentPreRunE: setupLenient,
}

var rootsAddCmd = &cobra.Command{
	Use:   "add <dir>...",
	Short: "Add workspace roots to the config file",
	Long: `Add one or more directories to the roots list of the config file. Other
settings and comments in the file are preserved.

Examples:
  wcroots roots add ~/src
  wcroots -c ~/.config/wcroots/config.yaml roots add ~/src ~/work`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()
		roots := cfg.Roots
		for _, dir := range args {
			var err error
			roots, err = config.AddRoot(path, dir, roots)
			if err != nil {
				return fmt.Errorf("adding root %s: %w", dir, err)
			}
		}
		cfg.Roots = roots
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %d root(s)\n", path, len(roots))
		return err
	},
}

func init() {
	rootsCmd.AddCommand(rootsAddCmd)
	rootCmd.AddCommand(rootsCmd)
}
