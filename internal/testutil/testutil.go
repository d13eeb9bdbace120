package testutil

import (
	"log/slog"
	"os"
)

func Ptr[T any](v T) *T {
	return &v
}

// Logger writes errors only, keeping test output quiet.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}
