// Package ui renders pull progress. Presenters consume engine events and
// read the shared stats collector; they never change its counters, though
// the plain presenter drives the collector's throughput ring through Tick.
package ui

import (
	"io"

	"github.com/chen3feng/android-backup/internal/event"
	"github.com/chen3feng/android-backup/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan event.Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer     io.Writer
	ErrWriter  io.Writer
	Stats      *stats.Collector
	Quiet      bool
	NoProgress bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{}
	}
	return &plainPresenter{
		w:          cfg.Writer,
		errW:       cfg.ErrWriter,
		stats:      cfg.Stats,
		noProgress: cfg.NoProgress,
	}
}
