package debug

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (flow results, failures, network changes)
	LevelLive    = 2 // Live info (flow state transitions)
	LevelVerbose = 3 // Verbose (paths, sizes, locators)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

var (
	level  int
	logger *logrus.Entry
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (flow results, failures, network changes)
// 2 = live info (state transitions of each flow)
// 3 = verbose (temp paths, payload sizes, locators, public URIs)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	level = debugLevel
	if level <= LevelOff {
		logger = nil
		return
	}

	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05.000000",
	})
	switch {
	case level >= LevelTrace:
		base.SetLevel(logrus.TraceLevel)
	case level >= LevelVerbose:
		base.SetLevel(logrus.DebugLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
	logger = base.WithField("app", "pixkeep")
}

// SetOutput redirects debug output, e.g. to tee it into the web status stream.
func SetOutput(w io.Writer) {
	if logger != nil {
		logger.Logger.SetOutput(w)
	}
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Infof(format, args...)
	}
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Warnf(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if level >= LevelInfo && logger != nil {
		logger.Info("═══════════════════════════════════════")
		logger.Infof("  %s", title)
		logger.Info("═══════════════════════════════════════")
	}
}

// Failure logs a flow failure with the step it originated from (level 1).
func Failure(flow, step string, err error) {
	if level >= LevelInfo && logger != nil {
		logger.WithFields(logrus.Fields{
			"flow": flow,
			"step": step,
		}).Errorf("Error in %s: %v", flow, err)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.WithField("tier", "live").Infof(format, args...)
	}
}

// Transition prints a flow state change (level 2).
func Transition(flow, from, to string) {
	if level >= LevelLive && logger != nil {
		logger.WithFields(logrus.Fields{
			"tier": "live",
			"flow": flow,
		}).Infof("%s -> %s", from, to)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf(format, args...)
	}
}

// Print prints a level 3 message (alias for Verbose).
func Print(format string, args ...interface{}) {
	Verbose(format, args...)
}

// Printf is an alias for Print for compatibility.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debugf("  %s", name)
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Infof("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace, GPIO).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Tracef(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.WithField("gpio", operation).Tracef("pin=%d value=%v", pin, value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Error(err)
	}
}

// Fmt is a helper function that returns a formatted string
// only if debug is enabled (to avoid unnecessary allocations).
func Fmt(format string, args ...interface{}) string {
	if level > 0 {
		return fmt.Sprintf(format, args...)
	}
	return ""
}
