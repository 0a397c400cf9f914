package debug

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, homing, health snapshots)
	LevelLive    = 2 // Live info (commands, sessions, batches)
	LevelVerbose = 3 // Verbose (config details, planner decisions)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	mu     sync.RWMutex
	level  int
	logFmt string
	out    io.Writer = os.Stdout
	logger *slog.Logger
)

// Init initializes the debug system with a level (0-4) and a handler format
// ("text" or "json").
// 0 = no output
// 1 = important info (startup, homing, health)
// 2 = live info (commands received, session lifecycle)
// 3 = verbose (configuration, planner decisions)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int, logFormat string) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	logFmt = strings.ToLower(logFormat)
	rebuild()
}

// SetOutput redirects log output, e.g. to mirror it to the status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

func rebuild() {
	if level <= LevelOff {
		logger = nil
		return
	}
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	var h slog.Handler
	if logFmt == "json" {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	logger = slog.New(h).With("app", "camlift")
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the structured logger. When output is off, a logger that
// discards everything is returned so callers never need a nil check.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

func emit(minLevel int, sl slog.Level, tag, msg string, args ...any) {
	mu.RLock()
	l, lg := level, logger
	mu.RUnlock()
	if l < minLevel || lg == nil {
		return
	}
	lg.Log(context.Background(), sl, msg, append([]any{"tag", tag}, args...)...)
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	emit(LevelInfo, slog.LevelInfo, "INFO", fmt.Sprintf(format, args...))
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	emit(LevelInfo, slog.LevelWarn, "WARN", fmt.Sprintf(format, args...))
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	emit(LevelInfo, slog.LevelInfo, "INFO", "═══ "+title+" ═══")
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	emit(LevelLive, slog.LevelInfo, "LIVE", fmt.Sprintf(format, args...))
}

// Move prints a motor movement (level 2).
func Move(motor string, steps int, direction string) {
	emit(LevelLive, slog.LevelInfo, "LIVE", "motor move", "motor", motor, "steps", steps, "direction", direction)
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	emit(LevelVerbose, slog.LevelDebug, "VERBOSE", fmt.Sprintf(format, args...))
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	emit(LevelVerbose, slog.LevelDebug, "VERBOSE", fmt.Sprintf("%s: %+v", name, v))
}

// Section prints a section separator (level 3).
func Section(name string) {
	emit(LevelVerbose, slog.LevelDebug, "VERBOSE", "━━━ "+name+" ━━━")
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	emit(LevelVerbose, slog.LevelDebug, "VERBOSE", fmt.Sprintf("Step %d: %s", num, description))
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	emit(LevelInfo, slog.LevelInfo, "INFO", fmt.Sprintf("  %s = %v", name, value))
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	emit(LevelTrace, slog.LevelDebug, "TRACE", fmt.Sprintf(format, args...))
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	emit(LevelTrace, slog.LevelDebug, "GPIO", operation, "pin", pin, "value", fmt.Sprint(value))
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	emit(LevelInfo, slog.LevelError, "ERROR", err.Error())
}
