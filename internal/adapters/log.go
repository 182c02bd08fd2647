package adapters

import (
	"sync"
)

// Logger is the structured logger the macro log writes to.
type Logger interface {
	Info(msg string, args ...any)
}

// LogEntry is one line written by ACTION_LOG.
type LogEntry struct {
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// MacroLog implements engine.LogAdapter over the process logger.
type MacroLog struct {
	logger Logger

	mu     sync.RWMutex
	onLine func(LogEntry)
}

// NewMacroLog creates a macro log writing to logger.
func NewMacroLog(logger Logger) *MacroLog {
	return &MacroLog{logger: logger}
}

// OnLine sets a callback run for every line after it is logged.
func (l *MacroLog) OnLine(fn func(LogEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onLine = fn
}

// Log implements engine.LogAdapter.
func (l *MacroLog) Log(tag, message string) {
	l.logger.Info("macro log", "tag", tag, "message", message)

	l.mu.RLock()
	fn := l.onLine
	l.mu.RUnlock()
	if fn != nil {
		fn(LogEntry{Tag: tag, Message: message})
	}
}
