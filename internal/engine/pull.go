// Package engine implements the incremental pull: it reconciles a remote
// device tree against the local target (and an optional reference snapshot)
// and executes the resulting plan with bounded parallelism.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chen3feng/android-backup/internal/event"
	"github.com/chen3feng/android-backup/internal/ignore"
	"github.com/chen3feng/android-backup/internal/scan"
	"github.com/chen3feng/android-backup/internal/stats"
)

// DefaultConcurrency bounds the worker pool when the caller does not choose.
// Each worker holds its own adb child process; a handful saturates the
// device-side I/O long before it saturates the host.
const DefaultConcurrency = 4

// Options describes one pull run.
type Options struct {
	Transport Transport
	// RemoteRoot is the absolute POSIX path of the device-side tree.
	RemoteRoot string
	// LocalRoot is the directory that will mirror RemoteRoot.
	LocalRoot string
	// ReferenceRoot optionally names a previous snapshot whose unchanged
	// files are reused via hard links.
	ReferenceRoot string
	Excludes      *ignore.RuleSet
	// Delete removes local entries absent on the device.
	Delete        bool
	Concurrency   int
	DryRun        bool
	ModTimeWindow int64
	Stats         *stats.Collector
	Events        chan<- event.Event
}

// Result is the outcome of one pull run.
type Result struct {
	Stats    stats.Snapshot
	Failures []Failure
	Err      error
}

// Pull mirrors one remote tree into the local root. Fatal errors (scan
// failure, disk full, cancellation) are returned in Result.Err; per-file
// failures land in Result.Failures and leave the rest of the run intact.
func Pull(ctx context.Context, opts Options) Result {
	collector := opts.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}

	if !strings.HasPrefix(opts.RemoteRoot, "/") {
		return Result{Err: fmt.Errorf("remote root %q is not an absolute path", opts.RemoteRoot)}
	}
	localRoot, err := filepath.Abs(opts.LocalRoot)
	if err != nil {
		return Result{Err: fmt.Errorf("resolve local root: %w", err)}
	}
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return Result{Err: &FilesystemError{Path: localRoot, Err: err}}
	}

	if removed, err := SweepStaging(localRoot); err != nil {
		return Result{Err: &FilesystemError{Path: localRoot, Err: err}}
	} else if removed > 0 {
		slog.Info("removed leftover staging files", "count", removed)
	}

	remote, local, reference, refRoot, err := scanAll(ctx, opts, localRoot)
	if err != nil {
		return Result{Stats: collector.Snapshot(), Err: err}
	}

	hardlinkOK := false
	if refRoot != "" {
		hardlinkOK = ProbeHardlink(refRoot, localRoot)
		slog.Debug("hardlink probe", "reference", refRoot, "supported", hardlinkOK)
	}

	plan := BuildPlan(PlanInput{
		RemoteRoot:    opts.RemoteRoot,
		ReferenceRoot: refRoot,
		Remote:        remote,
		Local:         local,
		Reference:     reference,
		ModTimeWindow: opts.ModTimeWindow,
		Delete:        opts.Delete,
	})

	planned := int64(len(plan.Files))
	collector.AddFilesSkipped(int64(remote.FileCount()) - planned)
	collector.AddTotals(planned, plan.TransferBytes())
	emit(opts.Events, event.Event{
		Type:      event.ScanComplete,
		Total:     planned,
		TotalSize: plan.TransferBytes(),
	})

	if opts.DryRun {
		logPlan(plan)
		return Result{Stats: collector.Snapshot()}
	}

	exec := NewExecutor(ExecutorConfig{
		Transport:   opts.Transport,
		LocalRoot:   localRoot,
		Concurrency: concurrency(opts.Concurrency),
		HardlinkOK:  hardlinkOK,
		Stats:       collector,
		Events:      opts.Events,
	})
	err = exec.Execute(ctx, plan)
	return Result{
		Stats:    collector.Snapshot(),
		Failures: exec.Failures(),
		Err:      err,
	}
}

// scanAll runs the remote, local, and reference scans in parallel; the adb
// round-trip dominates and the local walks hide behind it.
func scanAll(ctx context.Context, opts Options, localRoot string) (remote, local, reference scan.Inventory, refRoot string, err error) {
	refRoot = resolveReference(opts.ReferenceRoot, localRoot)

	emit(opts.Events, event.Event{Type: event.ScanStarted})

	var wg sync.WaitGroup
	var remoteErr, localErr, refErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		remote, remoteErr = scan.NewRemoteScanner(opts.Transport, opts.Excludes).Scan(ctx, opts.RemoteRoot)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		local, localErr = scan.ScanLocal(localRoot, opts.Excludes)
	}()

	if refRoot != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reference, refErr = scan.ScanLocal(refRoot, opts.Excludes)
		}()
	}
	wg.Wait()

	if remoteErr != nil {
		return nil, nil, nil, "", fmt.Errorf("scan device %s: %w", opts.RemoteRoot, remoteErr)
	}
	if localErr != nil {
		return nil, nil, nil, "", &FilesystemError{Path: localRoot, Err: localErr}
	}
	if refErr != nil {
		// A broken reference only loses the link optimization.
		slog.Warn("cannot scan reference snapshot, pulling everything", "path", refRoot, "error", refErr)
		reference, refRoot = nil, ""
	}
	return remote, local, reference, refRoot, nil
}

// resolveReference validates the reference snapshot path, dropping it when it
// is missing or is the target itself (first run of a multi-version backup).
func resolveReference(refRoot, localRoot string) string {
	if refRoot == "" {
		return ""
	}
	abs, err := filepath.Abs(refRoot)
	if err != nil {
		return ""
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		slog.Warn("reference snapshot is not a directory, ignoring", "path", refRoot)
		return ""
	}
	if same, err := sameDir(abs, localRoot); err == nil && same {
		return ""
	}
	return abs
}

func sameDir(a, b string) (bool, error) {
	ra, err := filepath.EvalSymlinks(a)
	if err != nil {
		return false, err
	}
	rb, err := filepath.EvalSymlinks(b)
	if err != nil {
		return false, err
	}
	return ra == rb, nil
}

func concurrency(n int) int {
	if n < 1 {
		return DefaultConcurrency
	}
	return n
}

func emit(events chan<- event.Event, ev event.Event) {
	if events == nil {
		return
	}
	select {
	case events <- ev:
	default:
	}
}

func logPlan(plan *Plan) {
	for _, a := range plan.Dirs {
		slog.Info("would create dir", "path", a.Path)
	}
	for _, a := range plan.Files {
		slog.Info("would "+a.Op.String(), "path", a.Path, "size", a.Size)
	}
	for _, a := range plan.Deletes {
		slog.Info("would delete", "path", a.Path)
	}
}
