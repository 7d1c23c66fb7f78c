// Package logger provides leveled, component-tagged logging for parley.
//
// Output goes to stderr (and optionally a file) as single lines of the form
//
//	2026-01-02T15:04:05Z [INFO] [connection] Channel opened attempt=1
//
// Components are short lowercase tags ("connection", "moderation", ...).
package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "UNKNOWN"
}

var (
	mu      sync.Mutex
	level   = INFO
	logFile *os.File
)

// SetLevel sets the global minimum log level.
func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// ParseLevel maps a config string to a Level. Unknown values map to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// SetLogFile mirrors log output to the given path in addition to stderr.
func SetLogFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	return nil
}

func emit(l Level, component, msg string, fields map[string]any) {
	mu.Lock()
	defer mu.Unlock()
	if l < level {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().UTC().Format(time.RFC3339))
	sb.WriteString(" [")
	sb.WriteString(l.String())
	sb.WriteString("] [")
	sb.WriteString(component)
	sb.WriteString("] ")
	sb.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%v", k, fields[k])
		}
	}
	sb.WriteByte('\n')

	line := sb.String()
	os.Stderr.WriteString(line)
	if logFile != nil {
		logFile.WriteString(line)
	}
}

func DebugC(component, msg string) { emit(DEBUG, component, msg, nil) }
func InfoC(component, msg string)  { emit(INFO, component, msg, nil) }
func WarnC(component, msg string)  { emit(WARN, component, msg, nil) }
func ErrorC(component, msg string) { emit(ERROR, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]any) { emit(DEBUG, component, msg, fields) }
func InfoCF(component, msg string, fields map[string]any)  { emit(INFO, component, msg, fields) }
func WarnCF(component, msg string, fields map[string]any)  { emit(WARN, component, msg, fields) }
func ErrorCF(component, msg string, fields map[string]any) { emit(ERROR, component, msg, fields) }
