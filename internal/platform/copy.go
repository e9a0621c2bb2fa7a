// Package platform holds the OS-specific pieces of the backup engine: fast
// whole-file copies, timestamp setting, and the stat details the hardlink
// probe needs.
package platform

import (
	"io"
	"os"
	"sync"
)

const bufferSize = 1 << 20

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// copyReadWrite copies the whole source file into dst with a pooled buffer.
func copyReadWrite(srcPath string, dst *os.File) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	bufp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufp)

	return io.CopyBuffer(dst, src, *bufp)
}
