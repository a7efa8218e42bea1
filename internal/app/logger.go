package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// NewLogger returns a configured slog.Logger based on configuration. When
// LOG_FILE is set, records are also appended to that file as JSON. The
// returned closer releases the file.
func NewLogger(cfg *Config) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{AddSource: true}
	var console slog.Handler
	if cfg != nil && cfg.LogFormat == "json" {
		console = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		console = slog.NewTextHandler(os.Stdout, opts)
	}
	if cfg == nil || cfg.LogFile == "" {
		return slog.New(console), nopCloser{}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slogmulti.Fanout(console, slog.NewJSONHandler(f, opts))), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
