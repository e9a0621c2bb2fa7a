package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/chen3feng/android-backup/internal/event"
	"github.com/chen3feng/android-backup/internal/stats"
)

// plainPresenter outputs one line per completed action to stdout, and
// periodic progress to stderr.
type plainPresenter struct {
	w          io.Writer
	errW       io.Writer
	stats      *stats.Collector
	noProgress bool
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastProgress := time.Now()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			if !p.noProgress && time.Since(lastProgress) >= 5*time.Second {
				p.printProgress()
				lastProgress = time.Now()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.FilePulled:
		speed := p.stats.RollingSpeed(5)
		fmt.Fprintf(p.w, "pull  %s  %s  %s\n", ev.Path, stats.FormatBytes(ev.Size), FormatRate(speed))
	case event.FileLinked:
		fmt.Fprintf(p.w, "link  %s\n", ev.Path)
	case event.FileCopied:
		fmt.Fprintf(p.w, "copy  %s  %s\n", ev.Path, stats.FormatBytes(ev.Size))
	case event.EntryDeleted:
		fmt.Fprintf(p.w, "delete  %s\n", ev.Path)
	case event.FileFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "FAILED  %s  %s\n", ev.Path, errMsg)
	}
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	done := snap.FilesPulled + snap.FilesLinked + snap.FilesCopied
	if snap.FilesTotal > 0 {
		speed := p.stats.RollingSpeed(10)
		eta := p.stats.ETA()
		fmt.Fprintf(p.errW, "progress: %s/%s files %s/%s %s eta %s\n",
			FormatCount(done), FormatCount(snap.FilesTotal),
			stats.FormatBytes(snap.BytesPulled), stats.FormatBytes(snap.BytesTotal),
			FormatRate(speed),
			FormatETA(eta),
		)
	}
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
