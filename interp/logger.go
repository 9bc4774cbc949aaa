package interp

import "github.com/sirupsen/logrus"

// Logger wraps a logrus.FieldLogger with the run/test identity fields the
// rest of this package always wants attached, the way common/logger.go
// wraps logrus with a category filter for xk6-browser's CDP chatter.
type Logger struct {
	entry *logrus.Entry
}

// NewLogger builds a Logger carrying testId/runId fields.
func NewLogger(base logrus.FieldLogger, testID, runID string) *Logger {
	fields := logrus.Fields{}
	if testID != "" {
		fields["test_id"] = testID
	}
	if runID != "" {
		fields["run_id"] = runID
	}
	var entry *logrus.Entry
	switch l := base.(type) {
	case *logrus.Logger:
		entry = l.WithFields(fields)
	case *logrus.Entry:
		entry = l.WithFields(fields)
	default:
		entry = logrus.NewEntry(logrus.StandardLogger()).WithFields(fields)
	}
	return &Logger{entry: entry}
}

// WithStep returns a derived Logger annotated with the given step index
// and section, for use for the duration of one step's execution.
func (l *Logger) WithStep(index int, section string) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields{
		"step_index": index,
		"section":    section,
	})}
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, args ...interface{}) { l.entry.Infof(format, args...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
