package logging

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// Level represents an enumeration of log levels
type Level int

const (
	Critical Level = 50
	Error    Level = 40
	Warning  Level = 30
	Info     Level = 20
	Debug    Level = 10
	NotSet   Level = 0
)

// Logger provides leveled logging with a component prefix and key-value context
type Logger struct {
	prefix  string
	logger  *log.Logger
	level   Level
	levelMu sync.Mutex
}

// NewLogger creates a new logger for a named component
func NewLogger(prefix string, level ...Level) *Logger {
	levelValue := Info
	if len(level) > 0 {
		levelValue = level[0]
	}
	return &Logger{
		prefix: prefix,
		logger: log.New(os.Stdout, fmt.Sprintf("[%s] ", prefix), log.LstdFlags),
		level:  levelValue,
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.levelMu.Lock()
	defer l.levelMu.Unlock()
	l.level = level
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.levelMu.Lock()
	defer l.levelMu.Unlock()
	if l.level > Debug {
		return
	}
	l.logger.Println(l.formatMessage("DEBUG", msg, keyvals...))
}

// Info logs an informational message
func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.levelMu.Lock()
	defer l.levelMu.Unlock()
	if l.level > Info {
		return
	}
	l.logger.Println(l.formatMessage("INFO", msg, keyvals...))
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.levelMu.Lock()
	defer l.levelMu.Unlock()
	if l.level > Warning {
		return
	}
	l.logger.Println(l.formatMessage("WARN", msg, keyvals...))
}

// Error logs an error message
func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.levelMu.Lock()
	defer l.levelMu.Unlock()
	if l.level > Error {
		return
	}
	l.logger.Println(l.formatMessage("ERROR", msg, keyvals...))
}

// formatMessage formats a message with key-value pairs
func (l *Logger) formatMessage(level, msg string, keyvals ...interface{}) string {
	formatted := fmt.Sprintf("[%s] %s", level, msg)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			formatted += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
		}
	}
	return formatted
}
