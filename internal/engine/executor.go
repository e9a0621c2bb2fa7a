package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/chen3feng/android-backup/internal/adb"
	"github.com/chen3feng/android-backup/internal/event"
	"github.com/chen3feng/android-backup/internal/platform"
	"github.com/chen3feng/android-backup/internal/scan"
	"github.com/chen3feng/android-backup/internal/stats"
)

// Transport is the slice of the adb façade the engine needs: the scanner
// interface plus single-file pull.
type Transport interface {
	scan.Runner
	Pull(ctx context.Context, remote, local string) error
}

// retryBackoff is slept between pull attempts of the same file.
var retryBackoff = []time.Duration{250 * time.Millisecond, time.Second, 4 * time.Second}

// ExecutorConfig controls plan execution.
type ExecutorConfig struct {
	Transport   Transport
	LocalRoot   string
	Concurrency int
	HardlinkOK  bool // result of the per-run probe
	Stats       *stats.Collector
	Events      chan<- event.Event
}

// Executor runs a plan with a bounded worker pool. Per-file failures are
// collected and reported at the end; only cancellation and fatal filesystem
// errors abort the run.
type Executor struct {
	cfg      ExecutorConfig
	hardlink atomic.Bool

	mu       sync.Mutex
	failures []Failure
	fatal    error
}

// NewExecutor creates an executor for one run.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	e := &Executor{cfg: cfg}
	e.hardlink.Store(cfg.HardlinkOK)
	return e
}

// Failures returns the per-file failures recorded so far.
func (e *Executor) Failures() []Failure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Failure(nil), e.failures...)
}

// Execute runs the plan phases in order: directories, file transfers,
// directory timestamps, deletions. It returns a fatal error or the context's
// error on cancellation; per-file failures are available via Failures.
func (e *Executor) Execute(ctx context.Context, plan *Plan) error {
	defer CleanupTmpFiles()

	if err := e.createDirs(ctx, plan.Dirs); err != nil {
		return err
	}
	if err := e.transferFiles(ctx, plan.Files); err != nil {
		return err
	}
	e.setDirTimes(plan.DirTimes)
	if err := e.deleteEntries(ctx, plan.Deletes); err != nil {
		return err
	}
	return nil
}

func (e *Executor) abs(rel string) string {
	return filepath.Join(e.cfg.LocalRoot, filepath.FromSlash(rel))
}

func (e *Executor) emit(ev event.Event) {
	if e.cfg.Events == nil {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case e.cfg.Events <- ev:
	default:
	}
}

// createDirs is sequential: it is pure metadata work, and parents must exist
// before children and before any file lands inside them.
func (e *Executor) createDirs(ctx context.Context, dirs []Action) error {
	for _, a := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.MkdirAll(e.abs(a.Path), 0o755); err != nil {
			return &FilesystemError{Path: a.Path, Err: err}
		}
		e.cfg.Stats.AddDirsCreated(1)
		e.emit(event.Event{Type: event.DirCreated, Path: a.Path})
	}
	return nil
}

func (e *Executor) transferFiles(ctx context.Context, files []Action) error {
	if len(files) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan Action, e.cfg.Concurrency*2)
	var wg sync.WaitGroup
	for range e.cfg.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range tasks {
				if ctx.Err() != nil {
					continue // drain; dispatch has stopped
				}
				e.runFile(ctx, a, cancel)
			}
		}()
	}

dispatch:
	for _, a := range files {
		select {
		case tasks <- a:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(tasks)
	wg.Wait()

	if err := e.fatalErr(); err != nil {
		return err
	}
	return ctx.Err()
}

func (e *Executor) runFile(ctx context.Context, a Action, cancel context.CancelFunc) {
	var err error
	switch a.Op {
	case OpPull:
		err = e.pullFile(ctx, a)
	case OpLink:
		err = e.linkOrCopy(ctx, a)
	default:
		err = fmt.Errorf("unexpected op %s in transfer phase", a.Op)
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	if isDiskFull(err) {
		e.setFatal(&FilesystemError{Path: a.Path, Err: err})
		cancel()
		return
	}
	e.recordFailure(a, err)
}

// pullFile transfers one file through a staging path and renames it into
// place, retrying transport faults with backoff.
func (e *Executor) pullFile(ctx context.Context, a Action) error {
	dest := e.abs(a.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(retryBackoff); attempt++ {
		if attempt > 0 {
			slog.Warn("retrying pull", "path", a.Path, "attempt", attempt, "error", lastErr)
			e.emit(event.Event{Type: event.FileRetried, Path: a.Path, Attempt: attempt, Error: lastErr})
			select {
			case <-time.After(retryBackoff[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = e.pullOnce(ctx, a, dest)
		if lastErr == nil {
			e.cfg.Stats.AddFilesPulled(1)
			e.cfg.Stats.AddBytesPulled(a.Size)
			e.emit(event.Event{Type: event.FilePulled, Path: a.Path, Size: a.Size})
			return nil
		}
		if !retryable(lastErr) {
			break
		}
	}
	return lastErr
}

func (e *Executor) pullOnce(ctx context.Context, a Action, dest string) error {
	tmp := filepath.Join(filepath.Dir(dest), StagingName(filepath.Base(dest)))
	RegisterTmp(tmp)
	defer func() {
		DeregisterTmp(tmp)
		_ = os.Remove(tmp) // no-op if rename succeeded
	}()

	if err := e.cfg.Transport.Pull(ctx, a.Remote, tmp); err != nil {
		return err
	}
	return e.finishFile(tmp, dest, a.MTime)
}

// finishFile renames a complete staging file into place and stamps the
// remote mtime, strictly in that order so the timestamp always refers to the
// final content.
func (e *Executor) finishFile(tmp, dest string, mtime int64) error {
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	if err := platform.SetTimes(dest, mtime); err != nil {
		return fmt.Errorf("set mtime: %w", err)
	}
	return nil
}

// linkOrCopy materializes an unchanged file from the reference snapshot,
// preferring a hard link. The first link failure that means "this filesystem
// cannot do that" switches the whole run to copying.
func (e *Executor) linkOrCopy(ctx context.Context, a Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest := e.abs(a.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dest), StagingName(filepath.Base(dest)))
	RegisterTmp(tmp)
	defer func() {
		DeregisterTmp(tmp)
		_ = os.Remove(tmp)
	}()

	if e.hardlink.Load() {
		err := os.Link(a.Source, tmp)
		if err == nil {
			if err := e.finishFile(tmp, dest, a.MTime); err != nil {
				return err
			}
			e.cfg.Stats.AddFilesLinked(1)
			e.emit(event.Event{Type: event.FileLinked, Path: a.Path, Size: a.Size})
			return nil
		}
		if !linkUnsupported(err) {
			return fmt.Errorf("hard link: %w", err)
		}
		if e.hardlink.CompareAndSwap(true, false) {
			slog.Warn("target filesystem does not support hard links, copying instead", "error", err)
		}
	}

	if err := e.copyFromReference(a, tmp); err != nil {
		return err
	}
	if err := e.finishFile(tmp, dest, a.MTime); err != nil {
		return err
	}
	e.cfg.Stats.AddFilesCopied(1)
	e.emit(event.Event{Type: event.FileCopied, Path: a.Path, Size: a.Size})
	return nil
}

func (e *Executor) copyFromReference(a Action, tmp string) error {
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}
	if _, err := platform.CopyFile(a.Source, f, a.Size); err != nil {
		f.Close()
		return fmt.Errorf("copy from reference: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close staging file: %w", err)
	}
	return nil
}

// setDirTimes stamps created directories after all writes inside them have
// settled. Failures are only logged: contents and file timestamps are intact.
func (e *Executor) setDirTimes(actions []Action) {
	for _, a := range actions {
		if err := platform.SetTimes(e.abs(a.Path), a.MTime); err != nil {
			slog.Warn("cannot set directory mtime", "path", a.Path, "error", err)
		}
	}
}

// deleteEntries removes extraneous local entries. Directories are removed
// with rmdir semantics; one still holding excluded files is left in place.
func (e *Executor) deleteEntries(ctx context.Context, deletes []Action) error {
	for _, a := range deletes {
		if err := ctx.Err(); err != nil {
			return err
		}
		p := e.abs(a.Path)
		err := os.Remove(p)
		switch {
		case err == nil:
			e.cfg.Stats.AddFilesDeleted(1)
			e.emit(event.Event{Type: event.EntryDeleted, Path: a.Path})
		case os.IsNotExist(err):
		case a.IsDir && isDirNotEmpty(err):
			slog.Debug("keeping non-empty directory", "path", a.Path)
		default:
			e.recordFailure(a, err)
		}
	}
	return nil
}

func isDirNotEmpty(err error) bool {
	return errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST)
}

// retryable reports whether a pull failure is worth another attempt: any adb
// exit (the transport may have hiccuped) or a timeout, but not local
// filesystem errors.
func retryable(err error) bool {
	var cerr *adb.CommandError
	if errors.As(err, &cerr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func linkUnsupported(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EXDEV, syscall.ENOSYS, syscall.EPERM, syscall.EACCES, syscall.EOPNOTSUPP} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func (e *Executor) recordFailure(a Action, err error) {
	slog.Warn("action failed", "op", a.Op.String(), "path", a.Path, "error", err)
	e.cfg.Stats.AddFilesFailed(1)
	e.emit(event.Event{Type: event.FileFailed, Path: a.Path, Size: a.Size, Error: err})
	e.mu.Lock()
	e.failures = append(e.failures, Failure{Path: a.Path, Op: a.Op, Err: err})
	e.mu.Unlock()
}

func (e *Executor) setFatal(err error) {
	e.mu.Lock()
	if e.fatal == nil {
		e.fatal = err
	}
	e.mu.Unlock()
}

func (e *Executor) fatalErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatal
}
