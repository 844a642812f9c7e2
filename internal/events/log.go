package events

import (
	"context"
	"log/slog"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, e Event) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.LogAttrs(ctx, slog.LevelInfo, "event",
		slog.String("id", e.ID),
		slog.String("type", e.Type),
		slog.Int64("user_id", e.UserID),
		slog.Int64("subject_id", e.SubjectID),
		slog.Any("data", e.Data),
	)
	return nil
}
