package blog

import "testing"

func TestSeverityLevelOrdering(t *testing.T) {
	levels := []Severity{TRACE, DEBUG, INFO, WARN, ERROR}
	for i := 1; i < len(levels); i++ {
		if severityLevel(levels[i-1]) >= severityLevel(levels[i]) {
			t.Fatalf("severityLevel(%d) >= severityLevel(%d), want strictly increasing", levels[i-1], levels[i])
		}
	}
}

func TestSetLevelSuppressesBelowThreshold(t *testing.T) {
	defer SetLevel(INFO)

	SetLevel(WARN)
	l := New("test")
	// None of these should panic; this exercises the suppression branch
	// in log() for severities below the configured threshold.
	l.Trace("trace message %d", 1)
	l.Debug("debug message %d", 2)
	l.Info("info message %d", 3)
	l.Warn("warn message %d", 4)
	l.Error("error message %d", 5)
}
