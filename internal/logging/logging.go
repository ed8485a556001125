package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// #region constructor

// New builds the process-wide logger. JSON output, level from LOG_LEVEL.
func New() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{})

	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "trace":
		l.SetLevel(logrus.TraceLevel)
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		l.SetLevel(logrus.WarnLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// #endregion constructor

// #region component

// Component returns an entry tagged with the component name.
func Component(l *logrus.Logger, name string) *logrus.Entry {
	return l.WithField("component", name)
}

// #endregion component

// #region discard

// Discard returns a logger that drops everything. Used in tests and in
// CLIs that print their own output.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(discardWriter{})
	return l
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// #endregion discard
