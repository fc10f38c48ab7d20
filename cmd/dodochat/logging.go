package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ChamsBouzaiene/dodochat/internal/config"
)

// newLogger builds the process logger. Output goes to stderr and, when
// configured, the log file; stdout stays free for the stdio protocol and the
// interactive chat. quiet drops the stderr copy.
func newLogger(cfg config.LogConfig, levelOverride string, quiet bool) (*logrus.Logger, io.Closer, error) {
	logger := logrus.New()

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	levelName := cfg.Level
	if levelOverride != "" {
		levelName = levelOverride
	}
	if levelName == "" {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	logger.SetLevel(level)

	var writers []io.Writer
	if !quiet {
		writers = append(writers, os.Stderr)
	}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writers = append(writers, f)
		closer = f
	}
	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
