package rda

import (
	"fmt"
	"strings"
	"testing"
)

type captureLogger struct {
	lines []string
}

func (c *captureLogger) add(level, format string, args ...interface{}) {
	c.lines = append(c.lines, level+" "+strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (c *captureLogger) Debugf(format string, args ...interface{}) { c.add("DEBUG", format, args...) }
func (c *captureLogger) Infof(format string, args ...interface{})  { c.add("INFO", format, args...) }
func (c *captureLogger) Warningf(format string, args ...interface{}) {
	c.add("WARNING", format, args...)
}
func (c *captureLogger) Errorf(format string, args ...interface{}) { c.add("ERROR", format, args...) }
func (c *captureLogger) Criticalf(format string, args ...interface{}) {
	c.add("CRITICAL", format, args...)
}
func (c *captureLogger) Shutdown() {}

func TestLogModes(t *testing.T) {
	capture := &captureLogger{}
	SetLoggerTo(capture)
	defer SetLoggerTo(nil)
	oldMode := LogMode()
	defer SetLogMode(oldMode)

	SetLogMode(WarningMode)
	Debugf("debug %d\n", 1)
	Infof("info %d\n", 2)
	Warningf("warning %d\n", 3)
	Errorf("error %d\n", 4)
	if len(capture.lines) != 2 || capture.lines[0] != "WARNING warning 3" || capture.lines[1] != "ERROR error 4" {
		t.Errorf("Bad log lines at warning level: %v\n", capture.lines)
	}

	capture.lines = nil
	SetLogMode(DebugMode)
	tlog := NewTimeLog()
	tlog.Debugf("fetched %s", "tile")
	if len(capture.lines) != 1 || !strings.HasPrefix(capture.lines[0], "DEBUG fetched tile: ") {
		t.Errorf("Bad timed log line: %v\n", capture.lines)
	}

	capture.lines = nil
	SetLogMode(SilentMode)
	Criticalf("nothing\n")
	if len(capture.lines) != 0 {
		t.Errorf("Expected silence, got %v\n", capture.lines)
	}
}

func TestParseLogMode(t *testing.T) {
	if m, err := ParseLogMode(" WARNING "); err != nil || m != WarningMode {
		t.Errorf("Bad parse of warning: %s, %v\n", m, err)
	}
	if _, err := ParseLogMode("loud"); err == nil {
		t.Errorf("Expected error parsing unknown level\n")
	}
	if DebugMode.String() != "debug" {
		t.Errorf("Bad mode name %q\n", DebugMode.String())
	}
}
