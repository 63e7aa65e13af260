package log

import (
	"context"
	"log/slog"
	"strings"
)

// SlogAdapter writes trace events to an slog.Logger.
// Useful for development when you want to see stream events in console.
type SlogAdapter struct {
	logger *slog.Logger
	level  slog.Level
}

// NewSlogAdapter creates a SlogAdapter logging at Debug level.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger, level: slog.LevelDebug}
}

// WithLevel returns a copy of the adapter logging at level.
func (a *SlogAdapter) WithLevel(level slog.Level) *SlogAdapter {
	return &SlogAdapter{logger: a.logger, level: level}
}

// Log writes the event to the slog logger.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.SubscriptionID != "" {
		attrs = append(attrs, slog.String("sub_id", event.SubscriptionID))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.String("event", event.Frame.Event),
			slog.Int("size", event.Frame.Size),
		)
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Claims != nil:
		pairs := make([]string, 0, len(event.Claims.Values))
		for _, k := range event.Claims.Keys() {
			pairs = append(pairs, k+"="+event.Claims.Values[k])
		}
		attrs = append(attrs,
			slog.String("action", event.Claims.Action.String()),
			slog.String("claims", "{"+strings.Join(pairs, ", ")+"}"),
		)
	case event.Delivery != nil:
		attrs = append(attrs,
			slog.String("event", event.Delivery.EventType),
			slog.Int("subscribers", event.Delivery.Subscribers),
		)
		if event.Delivery.Broadcast {
			attrs = append(attrs, slog.Bool("broadcast", true))
		}
		if event.Delivery.Sentinel {
			attrs = append(attrs, slog.Bool("sentinel", true))
		}
		if event.Delivery.Dropped {
			attrs = append(attrs, slog.Bool("dropped", true))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), a.level, "stream", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
