// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opd-ai/rtpcast/config"
)

// Init applies cfg to the standard logrus logger. When file output is enabled
// entries go to stdout and to a rotating file; the returned closer releases
// the file and is a no-op otherwise.
func Init(cfg config.LogConfig) (io.Closer, error) {
	return Configure(logrus.StandardLogger(), cfg, os.Stdout)
}

// Configure applies cfg to logger, writing to console and, when enabled, to
// the rotating file.
func Configure(logger *logrus.Logger, cfg config.LogConfig, console io.Writer) (io.Closer, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if !cfg.File.Enabled {
		logger.SetOutput(console)
		return nopCloser{}, nil
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    cfg.File.MaxSizeMB,  // megabytes
		MaxBackups: cfg.File.MaxBackups, // number of backups
		MaxAge:     cfg.File.MaxAgeDays, // days
		Compress:   cfg.File.Compress,   // compress the backups
	}
	logger.SetOutput(io.MultiWriter(console, file))

	logger.WithFields(logrus.Fields{
		"function": "logging.Configure",
		"path":     cfg.File.Path,
		"level":    level.String(),
	}).Debug("File logging enabled")

	return file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
