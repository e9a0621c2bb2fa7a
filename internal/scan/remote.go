package scan

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/chen3feng/android-backup/internal/adb"
	"github.com/chen3feng/android-backup/internal/ignore"
)

// findFormat prints per-entry records `type\tsize\tmtime\tpath` terminated by
// NUL, so filenames containing newlines survive. %T@ is seconds since epoch
// with a fractional part; the parser truncates to whole seconds.
const findFormat = `%y\t%s\t%T@\t%p\0`

// RemoteScanner enumerates a device-side subtree with a single `find`
// invocation, amortizing adb's per-command latency across the whole tree.
type RemoteScanner struct {
	runner Runner
	rules  *ignore.RuleSet
}

// NewRemoteScanner returns a scanner over the given runner. rules may be nil.
func NewRemoteScanner(runner Runner, rules *ignore.RuleSet) *RemoteScanner {
	return &RemoteScanner{runner: runner, rules: rules}
}

// ParseError reports a find/stat output record the scanner could not parse.
// A partial inventory is never returned; the scan aborts.
type ParseError struct {
	Record string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scan: malformed record %q: %s", e.Record, e.Reason)
}

// UnsupportedError reports that the device's find and stat both lack the
// flags the scanner depends on.
type UnsupportedError struct {
	Detail string
}

func (e *UnsupportedError) Error() string {
	return "scan: device toolbox not supported: " + e.Detail
}

// Scan enumerates the subtree rooted at root (an absolute POSIX path) and
// returns its inventory. Excluded entries, and everything below excluded
// directories, are omitted.
func (s *RemoteScanner) Scan(ctx context.Context, root string) (Inventory, error) {
	root = strings.TrimRight(root, "/")
	if root == "" {
		root = "/"
	}

	if s.printfSupported(ctx, root) {
		return s.scanPrintf(ctx, root)
	}
	slog.Warn("device find lacks -printf, falling back to per-batch stat", "root", root)
	return s.scanStat(ctx, root)
}

// printfSupported probes whether the device find understands -printf.
func (s *RemoteScanner) printfSupported(ctx context.Context, root string) bool {
	cmd := fmt.Sprintf("find %s -maxdepth 0 -printf ''", adb.Quote(root))
	_, err := s.runner.Shell(ctx, cmd)
	return err == nil
}

func (s *RemoteScanner) scanPrintf(ctx context.Context, root string) (Inventory, error) {
	inv := make(Inventory)
	skip := newPrefixSet()

	cmd := fmt.Sprintf("find %s -printf '%s'", adb.Quote(root), findFormat)
	err := s.runner.ShellRecords(ctx, cmd, 0, func(record []byte) error {
		if len(record) == 0 {
			return nil
		}
		rec, err := parseFindRecord(string(record), root)
		if err != nil {
			return err
		}
		if rec.Path == "" {
			return nil // the root itself
		}
		s.collect(inv, skip, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// collect adds rec to inv unless it is excluded or below an excluded
// directory. find emits parents before children, so a prefix set of excluded
// directories is enough to prune whole subtrees.
func (s *RemoteScanner) collect(inv Inventory, skip *prefixSet, rec FileRecord) {
	if skip.contains(rec.Path) {
		return
	}
	if s.rules.Match(rec.Path, rec.Kind == KindDir) {
		if rec.Kind == KindDir {
			skip.add(rec.Path)
		}
		return
	}
	inv[rec.Path] = rec
}

// parseFindRecord parses one `type\tsize\tmtime\tpath` record.
func parseFindRecord(record, root string) (FileRecord, error) {
	fields := strings.SplitN(record, "\t", 4)
	if len(fields) != 4 {
		return FileRecord{}, &ParseError{Record: record, Reason: "want 4 tab-separated fields"}
	}
	if len(fields[0]) != 1 {
		return FileRecord{}, &ParseError{Record: record, Reason: "bad type field"}
	}
	kind := parseKind(fields[0][0])

	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return FileRecord{}, &ParseError{Record: record, Reason: "bad size field"}
	}
	mtime, err := parseEpochSeconds(fields[2])
	if err != nil {
		return FileRecord{}, &ParseError{Record: record, Reason: "bad mtime field"}
	}
	rel, err := relativeTo(fields[3], root)
	if err != nil {
		return FileRecord{}, &ParseError{Record: record, Reason: err.Error()}
	}
	if kind != KindFile {
		size = 0
	}
	return FileRecord{Path: rel, Kind: kind, Size: size, MTime: mtime}, nil
}

func parseKind(c byte) Kind {
	switch c {
	case 'f', 'd', 'l':
		return Kind(c)
	default:
		return KindOther
	}
}

// parseEpochSeconds parses %T@ output ("1700000000.1234567890"), truncating
// the fractional part.
func parseEpochSeconds(s string) (int64, error) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return strconv.ParseInt(s, 10, 64)
}

// relativeTo strips the scan root from an absolute device path. The root
// itself maps to the empty path.
func relativeTo(p, root string) (string, error) {
	if p == root {
		return "", nil
	}
	prefix := root
	if prefix != "/" {
		prefix += "/"
	}
	rel, ok := strings.CutPrefix(p, prefix)
	if !ok || rel == "" {
		return "", fmt.Errorf("path %q not under root %q", p, root)
	}
	return rel, nil
}

// statBatchSize caps how many paths one fallback stat invocation carries, to
// stay under the device shell's argument limits.
const statBatchSize = 100

// scanStat is the fallback for devices whose find lacks -printf: list paths
// with a bare find, then stat them in batches. Newlines in filenames are not
// survivable here; affected entries fail the parse and abort the scan.
func (s *RemoteScanner) scanStat(ctx context.Context, root string) (Inventory, error) {
	out, err := s.runner.Shell(ctx, fmt.Sprintf("find %s", adb.Quote(root)))
	if err != nil {
		return nil, &UnsupportedError{Detail: fmt.Sprintf("find failed: %v", err)}
	}

	var paths []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			paths = append(paths, line)
		}
	}

	inv := make(Inventory)
	skip := newPrefixSet()
	for start := 0; start < len(paths); start += statBatchSize {
		end := min(start+statBatchSize, len(paths))
		if err := s.statBatch(ctx, root, paths[start:end], inv, skip); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

func (s *RemoteScanner) statBatch(ctx context.Context, root string, paths []string, inv Inventory, skip *prefixSet) error {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = adb.Quote(p)
	}
	cmd := fmt.Sprintf(`stat -c '%%F\t%%s\t%%Y\t%%n' %s`, strings.Join(quoted, " "))
	out, err := s.runner.Shell(ctx, cmd)
	if err != nil {
		return &UnsupportedError{Detail: fmt.Sprintf("stat failed: %v", err)}
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		rec, err := parseStatLine(line, root)
		if err != nil {
			return err
		}
		if rec.Path == "" {
			continue
		}
		s.collect(inv, skip, rec)
	}
	return nil
}

// parseStatLine parses one `%F\t%s\t%Y\t%n` stat line.
func parseStatLine(line, root string) (FileRecord, error) {
	fields := strings.SplitN(line, "\t", 4)
	if len(fields) != 4 {
		return FileRecord{}, &ParseError{Record: line, Reason: "want 4 tab-separated fields"}
	}
	kind := statKind(fields[0])
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return FileRecord{}, &ParseError{Record: line, Reason: "bad size field"}
	}
	mtime, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return FileRecord{}, &ParseError{Record: line, Reason: "bad mtime field"}
	}
	rel, err := relativeTo(fields[3], root)
	if err != nil {
		return FileRecord{}, &ParseError{Record: line, Reason: err.Error()}
	}
	if kind != KindFile {
		size = 0
	}
	return FileRecord{Path: rel, Kind: kind, Size: size, MTime: mtime}, nil
}

func statKind(s string) Kind {
	switch s {
	case "regular file", "regular empty file":
		return KindFile
	case "directory":
		return KindDir
	case "symbolic link":
		return KindSymlink
	default:
		return KindOther
	}
}

// prefixSet tracks excluded directory prefixes.
type prefixSet struct {
	prefixes []string
}

func newPrefixSet() *prefixSet { return &prefixSet{} }

func (ps *prefixSet) add(dir string) {
	ps.prefixes = append(ps.prefixes, dir+"/")
}

func (ps *prefixSet) contains(p string) bool {
	for _, prefix := range ps.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
