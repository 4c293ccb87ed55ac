package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// LogFileConfig enables size-based log rotation when Path is set.
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

var logFormats = map[string]LogFormat{
	"text": LogFormatText,
	"json": LogFormatJSON,
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// resolveLogging fills the format and level from the flags, or from the run
// mode when they were left empty: dev logs debug text, prod logs info JSON.
func resolveLogging(cfg *Config, format, level string) error {
	if format == "" {
		format = string(LogFormatText)
		if cfg.Mode == ModeProd {
			format = string(LogFormatJSON)
		}
	}
	if level == "" {
		level = "debug"
		if cfg.Mode == ModeProd {
			level = "info"
		}
	}

	var err error
	if cfg.LogFormat, err = choice("log format", format, logFormats, "text or json"); err != nil {
		return err
	}
	if cfg.LogLevel, err = choice("log level", level, logLevels, "debug, info, warn, error"); err != nil {
		return err
	}
	if cfg.LogFile.Path != "" {
		if cfg.LogFile.MaxSizeMB <= 0 {
			return fmt.Errorf("%s/--log-max-size-mb must be > 0", EnvLogMaxSizeMB)
		}
		if cfg.LogFile.MaxBackups < 0 || cfg.LogFile.MaxAgeDays < 0 {
			return fmt.Errorf("%s and %s must be >= 0", EnvLogMaxBackups, EnvLogMaxAgeDays)
		}
	}
	return nil
}

// NewLogger builds the process logger. With a log file configured, records go
// to both stdout and the rotating file; the returned closer flushes the file.
func NewLogger(cfg Config) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)
	if cfg.LogFile.Path != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile.Path,
			MaxSize:    cfg.LogFile.MaxSizeMB,
			MaxBackups: cfg.LogFile.MaxBackups,
			MaxAge:     cfg.LogFile.MaxAgeDays,
			Compress:   cfg.LogFile.Compress,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	switch cfg.LogFormat {
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(out, opts)), closer, nil
	case LogFormatText:
		return slog.New(slog.NewTextHandler(out, opts)), closer, nil
	}
	_ = closer.Close()
	return nil, nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
