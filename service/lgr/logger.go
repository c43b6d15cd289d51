package lgr

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mdobak/go-xerrors"
	"github.com/natefinch/lumberjack"
)

// Logger is the global structured logger. It writes JSON records to
// stdout and to a size-rotated file so edge devices with small disks
// don't fill up.
var Logger *slog.Logger

var fileLogger = &lumberjack.Logger{
	Filename:   "edge-node.log",
	MaxSize:    10, // MB
	MaxBackups: 5,
	MaxAge:     7, // days
	Compress:   true,
}

func init() {
	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, fileLogger), &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceAttr,
	})
	Logger = slog.New(handler)
}

type stackFrame struct {
	Func   string `json:"func"`
	Source string `json:"source"`
	Line   int    `json:"line"`
}

// replaceAttr serializes error attributes with their stack trace when
// the error carries one (go-xerrors attaches traces at creation time).
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindAny {
		return a
	}

	err, ok := a.Value.Any().(error)
	if !ok {
		return a
	}

	trace := xerrors.StackTrace(err)
	if len(trace) == 0 {
		a.Value = slog.StringValue(err.Error())
		return a
	}

	frames := trace.Frames()
	stack := make([]stackFrame, len(frames))
	for i, f := range frames {
		stack[i] = stackFrame{
			Func:   filepath.Base(f.Function),
			Source: filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File)),
			Line:   f.Line,
		}
	}

	a.Value = slog.GroupValue(
		slog.String("msg", err.Error()),
		slog.Any("trace", stack),
	)
	return a
}
