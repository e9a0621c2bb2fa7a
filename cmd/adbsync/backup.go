package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/chen3feng/android-backup/internal/backup"
	"github.com/chen3feng/android-backup/internal/engine"
	"github.com/chen3feng/android-backup/internal/event"
	"github.com/chen3feng/android-backup/internal/stats"
	"github.com/chen3feng/android-backup/internal/ui"
)

// backupCmd backs up every connected device according to its config file,
// with date-named snapshots and a "latest" pointer when the device asks for
// multiple versions.
func backupCmd() *cobra.Command {
	var (
		configPath  string
		adbPath     string
		concurrency int
		dryRun      bool
		verbose     bool
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:           "backup",
		Short:         "Back up all connected devices per their configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(verbose, quiet)

			collector := stats.NewCollector()
			events := make(chan event.Event, 256)
			presenter := ui.NewPresenter(ui.Config{
				Writer:     os.Stdout,
				ErrWriter:  os.Stderr,
				Stats:      collector,
				Quiet:      quiet,
				NoProgress: !ui.IsTTY(os.Stderr.Fd()),
			})

			var presenterWg sync.WaitGroup
			presenterWg.Add(1)
			go func() {
				defer presenterWg.Done()
				_ = presenter.Run(events)
			}()

			failures, err := backup.Run(cmd.Context(), backup.Options{
				ADBPath:     adbPath,
				ConfigPath:  configPath,
				Concurrency: concurrency,
				DryRun:      dryRun,
				Stats:       collector,
				Events:      events,
			})
			close(events)
			presenterWg.Wait()

			if !quiet {
				if summary := presenter.Summary(); summary != "" {
					fmt.Fprintln(os.Stderr, summary)
				}
			}
			if err != nil {
				return err
			}
			if failures > 0 {
				return &exitError{code: exitPartial, err: fmt.Errorf("%d file actions failed", failures)}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "global config file (default: XDG config path)")
	cmd.Flags().StringVar(&adbPath, "adb", "", "path to the adb executable")
	cmd.Flags().IntVar(&concurrency, "concurrency", engine.DefaultConcurrency, "number of parallel transfers")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without writing")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except warnings and errors")
	return cmd
}
