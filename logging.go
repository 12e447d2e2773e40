package redixcluster

import (
	"context"
	"log/slog"
)

// discardHandler is the zero-value slog.Handler used when a caller does
// not supply a logger: redixcluster is a library and must stay silent by
// default rather than writing to a process-wide default logger.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler            { return h }
