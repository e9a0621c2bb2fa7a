package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chen3feng/android-backup/internal/adb"
	"github.com/chen3feng/android-backup/internal/backup"
	"github.com/chen3feng/android-backup/internal/config"
)

// devicesCmd lists connected devices with their resolved serial and name.
func devicesCmd() *cobra.Command {
	var adbPath string

	cmd := &cobra.Command{
		Use:           "devices",
		Short:         "List connected devices",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(false, false)

			cfg, _ := config.Load()
			bin, err := resolveADB(adbPath, cfg)
			if err != nil {
				return &exitError{code: exitTransport, err: err}
			}

			devices, err := adb.Discover(cmd.Context(), bin)
			if err != nil {
				return &exitError{code: exitTransport, err: err}
			}
			if len(devices) == 0 {
				return &exitError{code: exitTransport, err: backup.ErrNoDevices}
			}
			for _, d := range devices {
				fmt.Fprintf(os.Stdout, "%s\n", d)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&adbPath, "adb", "", "path to the adb executable")
	return cmd
}
