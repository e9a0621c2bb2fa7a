package scan

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chen3feng/android-backup/internal/ignore"
)

// ScanLocal walks a local tree and returns its inventory. Symlinks are never
// followed; they are recorded with KindSymlink so the reconciler can refuse
// to treat them as regular files. Unreadable entries are logged and skipped;
// only a missing or unreadable root fails the scan.
func ScanLocal(root string, rules *ignore.RuleSet) (Inventory, error) {
	inv := make(Inventory)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == root {
				return walkErr
			}
			slog.Warn("skipping unreadable local entry", "path", p, "error", walkErr)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			slog.Warn("skipping local entry outside root", "path", p, "error", err)
			return nil
		}
		rel = filepath.ToSlash(rel)

		isDir := d.IsDir()
		if rules.Match(rel, isDir) {
			if isDir {
				return fs.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("skipping unstatable local entry", "path", p, "error", err)
			return nil
		}

		inv[rel] = localRecord(rel, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func localRecord(rel string, info os.FileInfo) FileRecord {
	rec := FileRecord{Path: rel, MTime: info.ModTime().Unix()}
	mode := info.Mode()
	switch {
	case mode.IsDir():
		rec.Kind = KindDir
	case mode&os.ModeSymlink != 0:
		rec.Kind = KindSymlink
	case mode.IsRegular():
		rec.Kind = KindFile
		rec.Size = info.Size()
	default:
		rec.Kind = KindOther
	}
	return rec
}
