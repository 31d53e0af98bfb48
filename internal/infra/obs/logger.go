package obs

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger configures slog with colorful output for dev/local and JSON elsewhere.
func NewLogger(env string) *slog.Logger {
	level := slog.LevelInfo
	if lvl, ok := levelFromEnv(os.Getenv("LOG_LEVEL")); ok {
		level = lvl
	}
	writer := os.Stdout
	switch strings.ToLower(env) {
	case "dev", "local":
		return slog.New(tint.NewHandler(writer, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
			AddSource:  true,
		}))
	case "test":
		return slog.New(slog.NewTextHandler(writer, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})).With("service", "travelsaga")
}

func levelFromEnv(raw string) (slog.Level, bool) {
	if raw == "" {
		return 0, false
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return 0, false
	}
	return lvl, true
}
