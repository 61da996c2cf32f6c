// Package logging builds the logrus logger a node runs with.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TheusHen/roam/roam/config"
)

// Setup returns a logger configured from opts. When opts.File is set, output
// is duplicated into a rotated file and the returned closer releases it.
func Setup(opts config.LogOptions) (*logrus.Logger, io.Closer, error) {
	return setup(opts, os.Stderr)
}

func setup(opts config.LogOptions, console io.Writer) (*logrus.Logger, io.Closer, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	if opts.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		l.SetOutput(console)
		return l, nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, err
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    max(opts.MaxSizeMB, 1),
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	l.SetOutput(io.MultiWriter(console, file))
	return l, file, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
