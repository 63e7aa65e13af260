package connection

import (
	"log/slog"
	"time"

	rtlog "github.com/auditlens/realtime-go/pkg/log"
)

// Config holds connection manager configuration.
type Config struct {
	// AutoReconnect retries a failed claim set without a new request.
	AutoReconnect bool

	// MaxAttempts caps consecutive automatic retries (0 = unlimited).
	MaxAttempts int

	// Backoff configures retry delays.
	Backoff BackoffConfig

	// TokenTimeout bounds the token fetch (0 = no timeout).
	TokenTimeout time.Duration

	// DialTimeout bounds the stream handshake (0 = no timeout).
	DialTimeout time.Duration

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Trace receives stream trace events. Defaults to a no-op logger.
	Trace rtlog.Logger
}

// DefaultConfig returns the default connection configuration.
func DefaultConfig() Config {
	return Config{
		AutoReconnect: true,
		Backoff: BackoffConfig{
			Initial:    InitialBackoff,
			Max:        MaxBackoff,
			Multiplier: BackoffMultiplier,
			Jitter:     JitterFactor,
		},
	}
}
