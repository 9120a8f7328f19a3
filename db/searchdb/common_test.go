package searchdb

import (
	"log/slog"
	"os"

	"github.com/meghashyamc/esgateway/logger"
)

func newTestLogger() logger.Logger {
	opts := &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	}
	handler := slog.NewJSONHandler(os.Stderr, opts)
	return slog.New(handler)
}
