package common

import (
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	log.SetOutput(io.Discard)

	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

func GetLogger() *logrus.Logger {
	return logger
}

// Log returns an entry tagged with the component emitting it.
func Log(component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// StdLogger adapts the shared logger for APIs that only accept a *log.Logger,
// such as httputil.ReverseProxy.
func StdLogger(component string) *log.Logger {
	return log.New(Log(component).WriterLevel(logrus.WarnLevel), "", 0)
}
