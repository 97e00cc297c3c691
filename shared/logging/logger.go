package logging

import (
	"os"

	"github.com/sirupsen/logrus"

	"l1sentry/shared/config"
)

// New builds a logrus logger configured from the environment.
// LOG_LEVEL selects the level (default "info"); LOG_FORMAT selects
// "json" or "text" output (default "text").
func New(component string) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(config.Get("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	switch config.Get("LOG_FORMAT", "text") {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return logger.WithField("component", component)
}
