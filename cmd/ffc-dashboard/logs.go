package main

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogMessage represents a single log entry
type LogMessage struct {
	Time    time.Time
	Level   LogLevel
	Message string
}

// LogManager manages the log panel and message history. It is also the
// io.Writer behind the dashboard's zerolog logger, so structured log lines
// show up in the panel instead of corrupting the terminal.
type LogManager struct {
	textView *tview.TextView

	mu          sync.Mutex
	messages    []LogMessage
	maxMessages int
	partial     []byte
	now         func() time.Time
}

// NewLogManager creates a new log manager
func NewLogManager(maxMessages int) *LogManager {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetMaxLines(maxMessages)
	textView.SetBorder(true).SetTitle(" Logs ")

	return &LogManager{
		textView:    textView,
		messages:    make([]LogMessage, 0, maxMessages),
		maxMessages: maxMessages,
		now:         time.Now,
	}
}

// GetView returns the tview component
func (lm *LogManager) GetView() *tview.TextView {
	return lm.textView
}

// AddLog adds a log message with the specified level
func (lm *LogManager) AddLog(level LogLevel, format string, args ...any) {
	msg := LogMessage{
		Time:    lm.now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
	}

	lm.mu.Lock()
	lm.messages = append(lm.messages, msg)
	if len(lm.messages) > lm.maxMessages {
		lm.messages = lm.messages[len(lm.messages)-lm.maxMessages:]
	}
	lm.mu.Unlock()

	// TextView serializes its own writes
	fmt.Fprintf(lm.textView, "[gray]%s[-] [%s]%-5s[-] %s\n",
		msg.Time.Format("15:04:05"), colorForLevel(level), level, tview.Escape(msg.Message))
	lm.textView.ScrollToEnd()
}

// Info logs an info message
func (lm *LogManager) Info(format string, args ...any) {
	lm.AddLog(LogLevelInfo, format, args...)
}

// Warn logs a warning message
func (lm *LogManager) Warn(format string, args ...any) {
	lm.AddLog(LogLevelWarn, format, args...)
}

// Error logs an error message
func (lm *LogManager) Error(format string, args ...any) {
	lm.AddLog(LogLevelError, format, args...)
}

// Messages returns a copy of the retained messages, oldest first.
func (lm *LogManager) Messages() []LogMessage {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return append([]LogMessage(nil), lm.messages...)
}

// Write accepts zerolog console output (no color, no timestamp). Each
// complete line becomes one message; the level comes from the line's
// three-letter level tag.
func (lm *LogManager) Write(p []byte) (int, error) {
	lm.mu.Lock()
	data := append(lm.partial, p...)
	lines := bytes.Split(data, []byte{'\n'})
	lm.partial = append([]byte(nil), lines[len(lines)-1]...)
	lm.mu.Unlock()

	for _, line := range lines[:len(lines)-1] {
		text := strings.TrimSpace(string(line))
		if text == "" {
			continue
		}
		level, msg := splitLevel(text)
		lm.AddLog(level, "%s", msg)
	}
	return len(p), nil
}

// splitLevel strips the zerolog console level tag from a line.
func splitLevel(line string) (LogLevel, string) {
	tag, rest, found := strings.Cut(line, " ")
	if !found {
		return LogLevelInfo, line
	}
	switch tag {
	case "TRC", "DBG":
		return LogLevelDebug, rest
	case "INF":
		return LogLevelInfo, rest
	case "WRN":
		return LogLevelWarn, rest
	case "ERR", "FTL", "PNC":
		return LogLevelError, rest
	default:
		return LogLevelInfo, line
	}
}

func colorForLevel(level LogLevel) string {
	switch level {
	case LogLevelDebug:
		return "gray"
	case LogLevelWarn:
		return "yellow"
	case LogLevelError:
		return "red"
	default:
		return "white"
	}
}
