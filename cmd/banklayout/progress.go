package main

import (
	"log/slog"
	"os"

	"github.com/garethgeorge/banklayout/internal/progress"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// barTracker draws a terminal progress bar, starting a new bar for every pass.
type barTracker struct {
	msg string
	bar *progressbar.ProgressBar
}

var _ progress.BarProgressTracker = (*barTracker)(nil)

func newProgressTracker() progress.BarProgressTracker {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return &progress.LogBarProgressTracker{Logger: slog.Default()}
	}
	return &barTracker{}
}

func (b *barTracker) SetMessage(msg string) {
	b.msg = msg
	if b.bar != nil {
		b.bar.Describe(msg)
	}
}

func (b *barTracker) SetTotal(total int64) {
	b.bar = progressbar.Default(total, b.msg)
}

func (b *barTracker) SetDone(n int) {
	if b.bar != nil {
		_ = b.bar.Set(n)
	}
}

func (b *barTracker) SetError(err error) {
	if b.bar != nil {
		_ = b.bar.Clear()
	}
}

func (b *barTracker) MarkFinished() {
	if b.bar != nil {
		_ = b.bar.Finish()
		b.bar = nil
	}
}
