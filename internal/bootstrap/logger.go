package bootstrap

import (
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
)

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ProvideLogger builds the process logger. LOG_FORMAT=text gives a coloured
// console handler for local runs; anything else is JSON.
func ProvideLogger(cfg *Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)

	var handler slog.Handler
	switch cfg.LogFormat {
	case "text":
		handler = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmlog.Level(level),
		})
	default:
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
