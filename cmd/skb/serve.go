package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background refresh daemon",
	Long: `Starts the periodic refresh loop: every interval the pipeline
re-describes and re-embeds changed files. Stops cleanly on SIGINT or
SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(repoRootFlag)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.store.Rebuild(); err != nil {
			return err
		}

		sched := eng.newScheduler()
		sched.Start()
		fmt.Printf("Refreshing every %d minutes. Ctrl-C to stop.\n",
			eng.cfg.Scheduler.IntervalMinutes)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		return sched.Stop(30 * time.Second)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
