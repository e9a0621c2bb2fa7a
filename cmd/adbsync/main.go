// Command adbsync incrementally backs up directories from Android devices
// over adb, rsync-style: only changed files are transferred, and unchanged
// files can be hard-linked from a previous snapshot.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/chen3feng/android-backup/internal/adb"
	"github.com/chen3feng/android-backup/internal/backup"
	"github.com/chen3feng/android-backup/internal/config"
	"github.com/chen3feng/android-backup/internal/engine"
	"github.com/chen3feng/android-backup/internal/event"
	"github.com/chen3feng/android-backup/internal/ignore"
	"github.com/chen3feng/android-backup/internal/scan"
	"github.com/chen3feng/android-backup/internal/stats"
	"github.com/chen3feng/android-backup/internal/ui"
)

var version = "dev"

// Exit codes, part of the CLI contract.
const (
	exitOK        = 0
	exitConfig    = 1
	exitTransport = 2
	exitPartial   = 3
	exitCancelled = 130
)

func main() {
	os.Exit(run())
}

// excludeFlag is a custom pflag.Value that appends repeated --exclude
// patterns to a shared rule set in CLI order.
type excludeFlag struct {
	rules *ignore.RuleSet
}

func (*excludeFlag) String() string { return "" }
func (*excludeFlag) Type() string   { return "pattern" }

func (f *excludeFlag) Set(val string) error {
	f.rules.Add(val)
	return nil
}

//nolint:gocyclo,revive // cognitive-complexity: main CLI entry point orchestrates all flag parsing
func run() int {
	var (
		deviceSerial string
		adbPath      string
		excludeFrom  string
		reference    string
		deleteFlag   bool
		noDelete     bool
		dryRun       bool
		concurrency  int
		verbose      bool
		quiet        bool
		noProgress   bool
		showVersion  bool
	)

	rules := ignore.New()

	rootCmd := &cobra.Command{
		Use:   "adbsync [flags] <remote_root> <local_root>",
		Short: "Incremental Android backups over adb",
		Args: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintf(os.Stdout, "adbsync %s\n", version)
				return nil
			}
			remoteRoot, localRoot := args[0], args[1]

			cfg, err := config.Load()
			if err != nil {
				slog.Warn("failed to load config", "error", err)
			}
			if !cmd.Flags().Changed("concurrency") && cfg.Defaults.Concurrency != nil {
				concurrency = *cfg.Defaults.Concurrency
			}
			if !cmd.Flags().Changed("verbose") && cfg.Defaults.Verbose != nil {
				verbose = *cfg.Defaults.Verbose
			}
			setupLogging(verbose, quiet)

			if excludeFrom != "" {
				fromFile, err := ignore.Load(excludeFrom)
				if err != nil {
					return err
				}
				// File patterns apply before the command-line ones.
				fromFile.Add(rulesPatterns(rules)...)
				rules = fromFile
			}

			adbBin, err := resolveADB(adbPath, cfg)
			if err != nil {
				return &exitError{code: exitTransport, err: err}
			}

			ctx := cmd.Context()
			serial := deviceSerial
			if serial == "" {
				if serial, err = pickDevice(ctx, adbBin); err != nil {
					return err
				}
			}

			// Single-version mirrors delete by default; snapshot chains
			// (with a reference) keep everything unless asked.
			doDelete := reference == ""
			if cmd.Flags().Changed("delete") {
				doDelete = deleteFlag
			}
			if noDelete {
				doDelete = false
			}

			if dryRun {
				slog.Info("dry run mode")
			}

			collector := stats.NewCollector()
			events := make(chan event.Event, 256)

			presenter := ui.NewPresenter(ui.Config{
				Writer:     os.Stdout,
				ErrWriter:  os.Stderr,
				Stats:      collector,
				Quiet:      quiet,
				NoProgress: noProgress || !ui.IsTTY(os.Stderr.Fd()),
			})

			var presenterWg sync.WaitGroup
			presenterWg.Add(1)
			go func() {
				defer presenterWg.Done()
				_ = presenter.Run(events)
			}()

			result := engine.Pull(ctx, engine.Options{
				Transport:     adb.New(adbBin, serial),
				RemoteRoot:    remoteRoot,
				LocalRoot:     localRoot,
				ReferenceRoot: reference,
				Excludes:      rules,
				Delete:        doDelete,
				Concurrency:   concurrency,
				DryRun:        dryRun,
				Stats:         collector,
				Events:        events,
			})
			close(events)
			presenterWg.Wait()

			if !quiet {
				if summary := presenter.Summary(); summary != "" {
					fmt.Fprintln(os.Stderr, summary)
				}
			}
			return pullOutcome(result)
		},
	}

	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringVar(&deviceSerial, "device", "", "device serial (default: the only connected device)")
	rootCmd.Flags().StringVar(&adbPath, "adb", "", "path to the adb executable")
	rootCmd.Flags().Var(&excludeFlag{rules: rules}, "exclude", "exclude paths matching PATTERN (repeatable, gitignore syntax)")
	rootCmd.Flags().StringVar(&excludeFrom, "exclude-from", "", "read exclude patterns from FILE")
	rootCmd.Flags().StringVar(&reference, "reference", "", "hard-link unchanged files from this previous snapshot")
	rootCmd.Flags().BoolVar(&deleteFlag, "delete", false, "delete local files absent on the device")
	rootCmd.Flags().BoolVar(&noDelete, "no-delete", false, "never delete local files")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without writing")
	rootCmd.Flags().IntVar(&concurrency, "concurrency", engine.DefaultConcurrency, "number of parallel transfers")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except warnings and errors")
	rootCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable periodic progress output")
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")

	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(docsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return reportError(ctx, err)
	}
	return exitOK
}

func setupLogging(verbose, quiet bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	} else if quiet {
		level = slog.LevelWarn
	}
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    !ui.IsTTY(os.Stderr.Fd()),
	})
	slog.SetDefault(slog.New(handler))
}

func resolveADB(flagValue string, cfg config.Config) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if cfg.ADBPath != "" {
		return cfg.ADBPath, nil
	}
	return adb.FindADB()
}

// pickDevice selects the device when --device was not given: the only
// connected device, or an error telling the user to choose.
func pickDevice(ctx context.Context, adbBin string) (string, error) {
	devices, err := adb.Discover(ctx, adbBin)
	if err != nil {
		return "", &exitError{code: exitTransport, err: err}
	}
	switch len(devices) {
	case 0:
		return "", &exitError{code: exitTransport, err: backup.ErrNoDevices}
	case 1:
		return devices[0].Address, nil
	default:
		for _, d := range devices {
			fmt.Fprintf(os.Stderr, "  %s\n", d)
		}
		return "", fmt.Errorf("%d devices connected, choose one with --device", len(devices))
	}
}

// pullOutcome converts an engine result into the process outcome.
func pullOutcome(result engine.Result) error {
	if result.Err != nil {
		return result.Err
	}
	if n := len(result.Failures); n > 0 {
		fmt.Fprintf(os.Stderr, "%d files failed:\n", n)
		for _, f := range result.Failures {
			fmt.Fprintf(os.Stderr, "  %s\n", f)
		}
		return &exitError{code: exitPartial, err: fmt.Errorf("%d file actions failed", n)}
	}
	return nil
}

func rulesPatterns(r *ignore.RuleSet) []string {
	if r == nil {
		return nil
	}
	return r.Patterns()
}

// reportError prints err and maps it to the documented exit codes.
func reportError(ctx context.Context, err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		if exitErr.err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			printGuidance(exitErr.err)
		}
		return exitErr.code
	}

	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "Cancelled.")
		return exitCancelled
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	printGuidance(err)

	switch {
	case errors.Is(err, adb.ErrNotFound), errors.Is(err, backup.ErrNoDevices):
		return exitTransport
	case isTransportError(err):
		return exitTransport
	default:
		return exitConfig
	}
}

func isTransportError(err error) bool {
	var cmdErr *adb.CommandError
	var parseErr *scan.ParseError
	var unsupErr *scan.UnsupportedError
	var fsErr *engine.FilesystemError
	return errors.As(err, &cmdErr) ||
		errors.As(err, &parseErr) ||
		errors.As(err, &unsupErr) ||
		errors.As(err, &fsErr)
}

func printGuidance(err error) {
	switch {
	case errors.Is(err, adb.ErrNotFound):
		fmt.Fprintln(os.Stderr, "Install Android platform-tools, or point --adb (or adb_path in the config) at the binary.")
	case errors.Is(err, backup.ErrNoDevices):
		fmt.Fprintln(os.Stderr, "Check `adb devices`: connect the device via USB, enable USB debugging, and confirm the authorization prompt.")
	}
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }
