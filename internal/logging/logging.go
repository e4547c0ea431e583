// Package logging constructs the shared *logrus.Entry every subsystem
// logs through: a development logger (JSON, file-backed, level from
// LOG_LEVEL) when LOG_LEVEL or DEBUG requests it, a production logger
// (plain text, stderr, info level) otherwise.
package logging

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

func wantDebug() bool {
	return os.Getenv("DEBUG") == "TRUE" || os.Getenv("LOG_LEVEL") != ""
}

func level() logrus.Level {
	lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logrus.DebugLevel
	}
	return lvl
}

// New returns the process-wide logger. reportDir, when non-empty, names
// the directory a development logger's bq2.log file is created under;
// an empty reportDir falls back to the current directory.
func New(reportDir string) *logrus.Entry {
	var log *logrus.Logger
	if wantDebug() {
		log = newDevelopmentLogger(reportDir)
	} else {
		log = newProductionLogger()
	}
	return logrus.NewEntry(log)
}

func newDevelopmentLogger(reportDir string) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(level())
	log.SetFormatter(&logrus.JSONFormatter{})

	dir := reportDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err == nil {
		if file, err := os.OpenFile(filepath.Join(dir, "bq2.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			log.SetOutput(file)
		}
	}
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{})
	log.SetLevel(logrus.InfoLevel)
	return log
}
