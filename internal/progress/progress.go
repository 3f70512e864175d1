package progress

import "log/slog"

// BarProgressTracker follows a pass over a known number of blocks.
type BarProgressTracker interface {
	SetMessage(msg string)
	SetTotal(total int64)
	SetDone(n int)
	SetError(err error)
	MarkFinished()
}

type NoopBarProgressTracker struct{}

var _ BarProgressTracker = NoopBarProgressTracker{}

func (n NoopBarProgressTracker) SetMessage(msg string) {}
func (n NoopBarProgressTracker) SetTotal(total int64)  {}
func (n NoopBarProgressTracker) SetDone(n2 int)        {}
func (n NoopBarProgressTracker) SetError(err error)    {}
func (n NoopBarProgressTracker) MarkFinished()         {}

// LogBarProgressTracker reports progress as log lines, for output that is not a terminal.
type LogBarProgressTracker struct {
	Logger *slog.Logger
	Every  int // log every Every blocks, 0 logs only messages and the end

	msg   string
	total int64
	done  int
}

var _ BarProgressTracker = (*LogBarProgressTracker)(nil)

func (l *LogBarProgressTracker) SetMessage(msg string) {
	l.msg = msg
	l.Logger.Info(msg)
}

func (l *LogBarProgressTracker) SetTotal(total int64) {
	l.total = total
}

func (l *LogBarProgressTracker) SetDone(n int) {
	l.done = n
	if l.Every > 0 && n%l.Every == 0 {
		l.Logger.Info(l.msg, "done", n, "total", l.total)
	}
}

func (l *LogBarProgressTracker) SetError(err error) {
	l.Logger.Error(l.msg, "error", err)
}

func (l *LogBarProgressTracker) MarkFinished() {
	l.Logger.Info(l.msg+" finished", "done", l.done, "total", l.total)
}
