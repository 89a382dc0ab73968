package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the backend and output of a daemon logger.
type Config struct {
	Backend    string `mapstructure:"backend"` // "slog" or "zap"
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "console"
	Output     string `mapstructure:"output"` // "stdout", "stderr" or a file path
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// New builds a Logger from cfg. The returned closer releases the log file, if any.
func New(cfg Config) (Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	w, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case "", "slog":
		return NewSlog(level, false, w), closer, nil
	case "zap":
		return NewZap(level, cfg.Format, w), closer, nil
	}

	_ = closer.Close()
	return nil, nil, fmt.Errorf("logger: unknown backend %q", cfg.Backend)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(cfg Config) (io.Writer, io.Closer, error) {
	switch cfg.Output {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
		return nil, nil, fmt.Errorf("logger: failed to create log directory: %w", err)
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.Output,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}

	return lj, lj, nil
}
