package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/chen3feng/android-backup/internal/stats"
)

// FormatRate formats a bytes-per-second rate as a human-readable string.
func FormatRate(bytesPerSec float64) string {
	if bytesPerSec <= 0 {
		return "0 B/s"
	}
	units := []string{"B/s", "KB/s", "MB/s", "GB/s", "TB/s"}
	val := bytesPerSec
	for _, u := range units {
		if val < 1024 {
			if val < 10 {
				return fmt.Sprintf("%.2f %s", val, u)
			}
			if val < 100 {
				return fmt.Sprintf("%.1f %s", val, u)
			}
			return fmt.Sprintf("%.0f %s", val, u)
		}
		val /= 1024
	}
	return fmt.Sprintf("%.1f PB/s", val)
}

// FormatETA formats a duration as a human-readable ETA string.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	d = d.Round(time.Second)

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	if n < 0 {
		return "-" + FormatCount(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		b.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// CompletionSummary renders the end-of-run line.
func CompletionSummary(s stats.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pulled %s (%s)", FormatCount(s.FilesPulled), stats.FormatBytes(s.BytesPulled))
	if s.FilesLinked > 0 {
		fmt.Fprintf(&b, ", linked %s", FormatCount(s.FilesLinked))
	}
	if s.FilesCopied > 0 {
		fmt.Fprintf(&b, ", copied %s", FormatCount(s.FilesCopied))
	}
	if s.FilesDeleted > 0 {
		fmt.Fprintf(&b, ", deleted %s", FormatCount(s.FilesDeleted))
	}
	if s.FilesSkipped > 0 {
		fmt.Fprintf(&b, ", unchanged %s", FormatCount(s.FilesSkipped))
	}
	if s.FilesFailed > 0 {
		fmt.Fprintf(&b, ", FAILED %s", FormatCount(s.FilesFailed))
	}
	fmt.Fprintf(&b, " in %s", s.Elapsed.Round(time.Second))
	return b.String()
}
