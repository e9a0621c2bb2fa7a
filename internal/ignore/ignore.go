// Package ignore filters backup entries with gitignore-style exclude
// patterns: wildcards, `**`, directory-only trailing `/`, root anchoring with
// leading `/`, and negation with leading `!`, applied in order with the last
// match winning.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// RuleSet is an ordered set of exclude patterns. The zero value and nil
// exclude nothing.
type RuleSet struct {
	lines   []string
	matcher *gitignore.GitIgnore
}

// New compiles a rule set from pattern lines.
func New(lines ...string) *RuleSet {
	r := &RuleSet{}
	r.Add(lines...)
	return r
}

// Load reads patterns from a file, one per line. Blank lines and lines
// starting with # are skipped.
func Load(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exclude file: %w", err)
	}
	defer f.Close()

	r := &RuleSet{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.lines = append(r.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read exclude file %s: %w", path, err)
	}
	r.compile()
	return r, nil
}

// Add appends patterns after the existing ones and recompiles.
func (r *RuleSet) Add(lines ...string) {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r.lines = append(r.lines, line)
	}
	r.compile()
}

func (r *RuleSet) compile() {
	r.matcher = gitignore.CompileIgnoreLines(r.lines...)
}

// Patterns returns the pattern lines in order.
func (r *RuleSet) Patterns() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.lines...)
}

// Len returns the number of patterns.
func (r *RuleSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.lines)
}

// Empty reports whether the set has no patterns.
func (r *RuleSet) Empty() bool { return r.Len() == 0 }

// Match reports whether the relative POSIX path is excluded. Directory
// matches apply to everything below the directory; scanners short-circuit
// descent on them.
func (r *RuleSet) Match(relPath string, isDir bool) bool {
	if r == nil || r.matcher == nil || relPath == "" {
		return false
	}
	if r.matcher.MatchesPath(relPath) {
		return true
	}
	// Directory-only patterns ("name/") need the trailing slash present.
	return isDir && r.matcher.MatchesPath(relPath+"/")
}
