package rda

import (
	"fmt"
	"strings"
	"time"
)

// ModeFlag is the minimum severity a log message needs to be written.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var modeNames = map[string]ModeFlag{
	"debug":    DebugMode,
	"info":     InfoMode,
	"warning":  WarningMode,
	"error":    ErrorMode,
	"critical": CriticalMode,
	"silent":   SilentMode,
}

func (m ModeFlag) String() string {
	for name, flag := range modeNames {
		if flag == m {
			return name
		}
	}
	return fmt.Sprintf("mode(%d)", uint(m))
}

// ParseLogMode converts a name like "debug" or "WARNING" into a ModeFlag.
func ParseLogMode(s string) (ModeFlag, error) {
	m, found := modeNames[strings.ToLower(strings.TrimSpace(s))]
	if !found {
		return InfoMode, fmt.Errorf("unknown log level %q", s)
	}
	return m, nil
}

var mode = InfoMode

// Logger records messages at different severities.  The default implementation
// writes through the standard log package or a rotating log file.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
	// message at Debug level.
	Debugf(format string, args ...interface{})

	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are flushed and closed.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// For example, SetLogMode(rda.WarningMode) will log any calls using
// Warningf, Errorf, or Criticalf.  To turn off all logging, use SilentMode.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

// LogMode returns the current minimum severity.
func LogMode() ModeFlag {
	return mode
}

func Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if mode <= CriticalMode {
		logger.Criticalf(format, args...)
	}
}

// Shutdown closes the package logger.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog adds elapsed time to logging.
// Example:
//
//	mylog := NewTimeLog()
//	...
//	mylog.Debugf("fetched tile")  // Appends elapsed time from NewTimeLog() to message.
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) withElapsed(format string, args []interface{}) (string, []interface{}) {
	return format + ": %s\n", append(args, time.Since(t.start))
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if mode <= DebugMode {
		f, a := t.withElapsed(format, args)
		logger.Debugf(f, a...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if mode <= InfoMode {
		f, a := t.withElapsed(format, args)
		logger.Infof(f, a...)
	}
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	if mode <= WarningMode {
		f, a := t.withElapsed(format, args)
		logger.Warningf(f, a...)
	}
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	if mode <= ErrorMode {
		f, a := t.withElapsed(format, args)
		logger.Errorf(f, a...)
	}
}
