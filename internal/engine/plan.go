package engine

import (
	"log/slog"
	"path"
	"path/filepath"
	"sort"

	"github.com/chen3feng/android-backup/internal/scan"
)

// DefaultModTimeWindow is the tolerance, in seconds, for treating remote and
// local mtimes as equal. FAT-family filesystems round timestamps to 2-second
// boundaries, and portable drives are the common backup target, so 2 is the
// safe default; size differences still force a transfer regardless.
const DefaultModTimeWindow = 2

// PlanInput carries the inventories and settings the reconciler diffs.
type PlanInput struct {
	RemoteRoot    string // absolute POSIX path on the device
	ReferenceRoot string // local reference snapshot root, "" if none
	Remote        scan.Inventory
	Local         scan.Inventory
	Reference     scan.Inventory // nil when ReferenceRoot is ""
	ModTimeWindow int64          // seconds; 0 means DefaultModTimeWindow
	Delete        bool           // remove local entries absent on the device
}

// BuildPlan diffs the remote inventory against the local target (and the
// optional reference snapshot) into an executable plan. Remote symlinks and
// special files are skipped with a warning; a local file is considered
// identical to its remote counterpart when sizes match and mtimes agree
// within the window.
func BuildPlan(in PlanInput) *Plan {
	window := in.ModTimeWindow
	if window <= 0 {
		window = DefaultModTimeWindow
	}

	plan := &Plan{}
	for _, p := range in.Remote.SortedPaths() {
		r := in.Remote[p]
		switch r.Kind {
		case scan.KindDir:
			if l, ok := in.Local[p]; !ok || l.Kind != scan.KindDir {
				plan.Dirs = append(plan.Dirs, Action{Op: OpCreateDir, Path: p, MTime: r.MTime})
				plan.DirTimes = append(plan.DirTimes, Action{Op: OpSetMTime, Path: p, MTime: r.MTime})
			}
		case scan.KindFile:
			if a, ok := planFile(in, r, window); ok {
				plan.Files = append(plan.Files, a)
			}
		default:
			slog.Warn("skipping special remote entry", "path", p, "kind", r.Kind.String())
		}
	}

	// Children before parents, so directory mtimes survive file writes and
	// deletions empty directories before removing them.
	reverseByPath(plan.DirTimes)

	if in.Delete {
		plan.Deletes = planDeletes(in.Remote, in.Local)
	}
	return plan
}

// planFile decides what to do about one remote regular file. Returns ok=false
// when the local copy is already identical.
func planFile(in PlanInput, r scan.FileRecord, window int64) (Action, bool) {
	if l, ok := in.Local[r.Path]; ok && identical(l, r, window) {
		return Action{}, false
	}
	if ref, ok := in.Reference[r.Path]; ok && identical(ref, r, window) {
		return Action{
			Op:     OpLink,
			Path:   r.Path,
			Source: filepath.Join(in.ReferenceRoot, filepath.FromSlash(r.Path)),
			Size:   r.Size,
			MTime:  r.MTime,
		}, true
	}
	return Action{
		Op:     OpPull,
		Path:   r.Path,
		Remote: path.Join(in.RemoteRoot, r.Path),
		Size:   r.Size,
		MTime:  r.MTime,
	}, true
}

// identical reports whether a local record can stand in for the remote one.
// Only regular files ever match; symlinks and specials are never equivalent.
func identical(l, r scan.FileRecord, window int64) bool {
	return l.Kind == scan.KindFile &&
		l.Size == r.Size &&
		absDiff(l.MTime, r.MTime) <= window
}

// planDeletes lists local entries with no remote counterpart: files first,
// then directories deepest-first so each is empty when its turn comes.
// Excluded entries never appear in the inventories, so they are never
// deleted.
func planDeletes(remote, local scan.Inventory) []Action {
	var files, dirs []Action
	for _, p := range local.SortedPaths() {
		if _, ok := remote[p]; ok {
			continue
		}
		l := local[p]
		if l.Kind == scan.KindDir {
			dirs = append(dirs, Action{Op: OpDelete, Path: p, IsDir: true})
		} else {
			files = append(files, Action{Op: OpDelete, Path: p})
		}
	}
	reverseByPath(dirs)
	return append(files, dirs...)
}

func reverseByPath(actions []Action) {
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].Path > actions[j].Path
	})
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
