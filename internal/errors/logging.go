package errors

import (
	stderrors "errors"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with structured error logging.
type Logger struct {
	*logrus.Logger
}

func NewLogger(level string) *Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return &Logger{Logger: logger}
}

// Entry returns a logrus entry with the error and its AppError context attached.
func Entry(base logrus.FieldLogger, err error) *logrus.Entry {
	entry := base.WithError(err)

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		entry = entry.WithField("error_code", appErr.Code)
		for k, v := range appErr.Context {
			entry = entry.WithField(k, v)
		}
	}
	return entry
}

func (l *Logger) LogError(err error, message string, fields ...logrus.Fields) {
	entry := Entry(l.Logger, err)
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	entry.Error(message)
}

func (l *Logger) LogWarn(err error, message string, fields ...logrus.Fields) {
	entry := Entry(l.Logger, err)
	for _, f := range fields {
		entry = entry.WithFields(f)
	}
	entry.Warn(message)
}
