package notestesting

import (
	"log/slog"
	"os"
	"strings"

	"github.com/malbeclabs/notes/utils/pkg/logger"
)

// NewLogger returns a logger for tests. Only errors are printed unless DEBUG asks for more.
func NewLogger() *slog.Logger {
	return logger.NewWithLevel(os.Stderr, LevelFromEnv(os.Getenv("DEBUG")), true)
}

// LevelFromEnv maps a DEBUG value to a level: "2" or "debug" for debug, "1", "true" or
// "info" for info, error otherwise.
func LevelFromEnv(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "2", "debug":
		return slog.LevelDebug
	case "1", "true", "info":
		return slog.LevelInfo
	}
	return slog.LevelError
}
