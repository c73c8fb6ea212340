package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/auto-dns/docker-hosts-sync/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

func SetupLogger(cfg *config.LoggingConfig) zerolog.Logger {
	return newLogger(cfg, output(cfg))
}

func output(cfg *config.LoggingConfig) io.Writer {
	if cfg.File == "" {
		return zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
}

func newLogger(cfg *config.LoggingConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.WarnLevel
	}

	zerolog.SetGlobalLevel(level)

	zerolog.TimeFieldFormat = time.RFC3339

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Caller().
		Str("service", "docker_hosts_sync").
		Str("host", hostname).
		Logger()
}
