package realtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/auditlens/realtime-go/pkg/config"
	"github.com/auditlens/realtime-go/pkg/connection"
	rtlog "github.com/auditlens/realtime-go/pkg/log"
	"github.com/auditlens/realtime-go/pkg/route"
	"github.com/auditlens/realtime-go/pkg/stream"
	"github.com/auditlens/realtime-go/pkg/subscription"
	"github.com/auditlens/realtime-go/pkg/token"
)

// OptionsFromConfig builds client options from a validated configuration.
// header is sent with token and stream requests (e.g. a session cookie).
func OptionsFromConfig(cfg *config.Config, header http.Header, logger *slog.Logger, trace rtlog.Logger) (Options, error) {
	templates := cfg.Routes.Templates
	if len(templates) == 0 {
		templates = route.DefaultTemplates()
	}
	matcher, err := route.NewMatcher(templates, cfg.Routes.Keys)
	if err != nil {
		return Options{}, fmt.Errorf("routes: %w", err)
	}

	var dialer stream.Dialer
	switch cfg.Transport {
	case config.TransportWebSocket:
		dialer = &stream.WSDialer{URL: cfg.StreamURL(), Header: header}
	case config.TransportSSE, "":
		dialer = &stream.SSEDialer{URL: cfg.StreamURL(), Header: header}
	default:
		return Options{}, fmt.Errorf("unknown transport %q", cfg.Transport)
	}

	return Options{
		Tokens:  token.NewCache(&token.HTTPSource{URL: cfg.TokenURL(), Header: header}, cfg.TokenLeeway.Std()),
		Dialer:  dialer,
		Matcher: matcher,
		Connection: connection.Config{
			AutoReconnect: cfg.Reconnect.Auto,
			MaxAttempts:   cfg.Reconnect.MaxAttempts,
			Backoff: connection.BackoffConfig{
				Initial:    cfg.Reconnect.Initial.Std(),
				Max:        cfg.Reconnect.Max.Std(),
				Multiplier: cfg.Reconnect.Multiplier,
				Jitter:     cfg.Reconnect.Jitter,
			},
			TokenTimeout: cfg.TokenTimeout.Std(),
			DialTimeout:  cfg.DialTimeout.Std(),
		},
		Subscriptions: subscription.Config{MaxSubscriptions: cfg.MaxSubscriptions},
		Sentinel:      cfg.Sentinel,
		Logger:        logger,
		Trace:         trace,
	}, nil
}
