package pipeline

import (
	"io"
	"log"
	"sync/atomic"
)

// Level selects how much the runner logs.
type Level int

const (
	// LevelOps logs failed computes only.
	LevelOps Level = iota
	// LevelDiag adds superseded and cancelled computes.
	LevelDiag
	// LevelTrace adds one line per finished hologram.
	LevelTrace
)

type runnerLog struct {
	logger *log.Logger
	max    Level
}

var output atomic.Pointer[runnerLog]

// SetLogOutput sends runner messages up to max to w. A nil w silences
// the runner, which is the default.
func SetLogOutput(w io.Writer, max Level) {
	if w == nil {
		output.Store(nil)
		return
	}
	output.Store(&runnerLog{
		logger: log.New(w, "[pipeline] ", log.LstdFlags|log.Lmicroseconds),
		max:    max,
	})
}

func logAt(level Level, format string, args ...any) {
	l := output.Load()
	if l == nil || level > l.max {
		return
	}
	l.logger.Printf(format, args...)
}

func opsf(format string, args ...any)   { logAt(LevelOps, format, args...) }
func diagf(format string, args ...any)  { logAt(LevelDiag, format, args...) }
func tracef(format string, args ...any) { logAt(LevelTrace, format, args...) }
