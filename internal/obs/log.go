package obs

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"loyaltydesk.org/internal/config"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyTime: "ts"},
		})
		logger.SetLevel(config.LogLevel())
	})
	return logger
}

// NewLogger returns an entry tagged with the service name.
func NewLogger(service string) *logrus.Entry {
	return Logger().WithField("service", service)
}

// LogRequest emits a structured line with common HTTP fields.
func LogRequest(fields logrus.Fields) {
	Logger().WithFields(fields).Info("request_complete")
}
