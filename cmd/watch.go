package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/wcroots/internal/log"
	"github.com/zjrosen/wcroots/internal/presentation"
)

var watchCmd = &cobra.Command{
	Use:   "watch [roots...]",
	Short: "Stream working-copy events until interrupted",
	Long: `Scan the workspace roots, then keep watching them for working copies being
checked out, updated or removed. Every event is printed as one JSON line.

Examples:
  wcroots watch
  wcroots watch ~/src | jq -c 'select(.type == "opened")'`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	c := cfg
	if len(args) > 0 {
		c.Roots = args
	}
	c.Watch = true

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(c)
	if err != nil {
		return err
	}
	defer e.close()

	events := e.manager.Events(ctx)
	if err := e.manager.Start(ctx); err != nil {
		return err
	}
	log.Info(log.CatWorkspace, "watching", "roots", e.manager.Roots())

	formatter := presentation.NewFormatter(cmd.OutOrStdout())
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := formatter.FormatEvent(presentation.FromEvent(ev)); err != nil {
				return err
			}
		}
	}
}
