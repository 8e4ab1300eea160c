package log

import (
	"bytes"
	"io"
	"sync"
)

// LineWriter returns an io.Writer that logs each complete line it receives
// at the given level. Partial lines are held until a newline arrives.
func LineWriter(logger Logger, level Level) io.Writer {
	return &lineWriter{logger: logger, level: level}
}

type lineWriter struct {
	mu     sync.Mutex
	logger Logger
	level  Level
	buf    bytes.Buffer
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

func (w *lineWriter) emit(msg string) {
	switch w.level {
	case DebugLevel:
		w.logger.Debug(msg)
	case WarnLevel:
		w.logger.Warn(msg)
	case ErrorLevel:
		w.logger.Error(msg)
	default:
		w.logger.Info(msg)
	}
}

// PrintfLogger is the printf-style logging interface storage engines expect.
type PrintfLogger interface {
	Errorf(string, ...interface{})
	Warningf(string, ...interface{})
	Infof(string, ...interface{})
	Debugf(string, ...interface{})
}

// Printf adapts logger to the Errorf/Warningf/Infof/Debugf interface used by
// storage engines. Info chatter from the engine is demoted to debug.
func Printf(logger Logger, prefix string) PrintfLogger {
	return &printfAdapter{logger: logger, prefix: prefix}
}

type printfAdapter struct {
	logger Logger
	prefix string
}

func (a *printfAdapter) Errorf(format string, args ...interface{}) {
	a.logger.Errorf(a.prefix+format, args...)
}

func (a *printfAdapter) Warningf(format string, args ...interface{}) {
	a.logger.Warnf(a.prefix+format, args...)
}

func (a *printfAdapter) Infof(format string, args ...interface{}) {
	a.logger.Debugf(a.prefix+format, args...)
}

func (a *printfAdapter) Debugf(format string, args ...interface{}) {
	a.logger.Debugf(a.prefix+format, args...)
}
