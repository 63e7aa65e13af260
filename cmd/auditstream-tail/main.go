// Command auditstream-tail follows an audit event stream from the terminal.
//
// It opens subscriptions through the realtime client and prints every
// delivered event, which makes it useful for checking what a given set of
// claims actually receives.
//
// Usage:
//
//	auditstream-tail [flags]
//
// Flags:
//
//	-config string      Configuration file path
//	-backend string     Backend base URL (overrides the config file)
//	-transport string   Stream transport: sse, websocket
//	-discover string    Find the backend via mDNS ("" for any instance)
//	-header value       Extra request header "Name: value" (repeatable)
//	-sub string         Subscribe at startup to comma-separated event types
//	-claims string      Claims for the startup subscription: key=value,...
//	-nav string         Initial route path
//	-trace-log string   Write a CBOR stream trace to this file
//	-log-level string   Log level: debug, info, warn, error
//	-interactive        Enable interactive command mode
//
// Examples:
//
//	# Follow code events for one team
//	auditstream-tail -backend http://localhost:8080 -sub code -claims team=t1
//
//	# Discover a backend on the local network and drive it interactively
//	auditstream-tail -discover "" -interactive
//
//	# Record a trace for later analysis with auditstream-log
//	auditstream-tail -config tail.yaml -trace-log session.rtlog -interactive
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/auditlens/realtime-go/cmd/auditstream-tail/interactive"
	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/config"
	"github.com/auditlens/realtime-go/pkg/connection"
	"github.com/auditlens/realtime-go/pkg/discovery"
	rtlog "github.com/auditlens/realtime-go/pkg/log"
	"github.com/auditlens/realtime-go/pkg/realtime"
	"github.com/auditlens/realtime-go/pkg/version"
)

// headerFlags collects repeated -header flags.
type headerFlags []string

func (h *headerFlags) String() string     { return strings.Join(*h, ", ") }
func (h *headerFlags) Set(v string) error { *h = append(*h, v); return nil }

// Flags holds the command-line settings.
type Flags struct {
	ConfigFile  string
	Backend     string
	Transport   string
	Discover    string
	Headers     headerFlags
	Subscribe   string
	Claims      string
	Navigate    string
	TraceLog    string
	LogLevel    string
	Interactive bool
}

var (
	flags       Flags
	discoverSet bool
)

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path")
	flag.StringVar(&flags.Backend, "backend", "", "Backend base URL (overrides the config file)")
	flag.StringVar(&flags.Transport, "transport", "", "Stream transport: sse, websocket")
	flag.StringVar(&flags.Discover, "discover", "", `Find the backend via mDNS ("" for any instance)`)
	flag.Var(&flags.Headers, "header", `Extra request header "Name: value" (repeatable)`)
	flag.StringVar(&flags.Subscribe, "sub", "", "Subscribe at startup to comma-separated event types")
	flag.StringVar(&flags.Claims, "claims", "", "Claims for the startup subscription: key=value,...")
	flag.StringVar(&flags.Navigate, "nav", "", "Initial route path")
	flag.StringVar(&flags.TraceLog, "trace-log", "", "Write a CBOR stream trace to this file")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Enable interactive command mode")
}

func main() {
	flag.Parse()
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "discover" {
			discoverSet = true
		}
	})

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	setupLogging(cfg.LogLevel)

	log.Println("Audit Stream Tail")
	log.Println("=================")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if discoverSet {
		if err := discoverBackend(ctx, cfg); err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	log.Printf("Backend:   %s", cfg.BackendURL)
	log.Printf("Transport: %s", cfg.Transport)

	header, err := parseHeaders(flags.Headers)
	if err != nil {
		log.Fatalf("Invalid header: %v", err)
	}

	var trace rtlog.Logger
	if cfg.TraceLog != "" {
		fileLogger, err := rtlog.NewFileLogger(cfg.TraceLog)
		if err != nil {
			log.Fatalf("Failed to open trace log: %v", err)
		}
		defer fileLogger.Close()
		trace = fileLogger
		if cfg.LogLevel == "debug" {
			trace = rtlog.NewMultiLogger(fileLogger, rtlog.NewSlogAdapter(slog.Default()))
		}
		log.Printf("Trace log: %s", cfg.TraceLog)
	} else if cfg.LogLevel == "debug" {
		trace = rtlog.NewSlogAdapter(slog.Default())
	}

	opts, err := realtime.OptionsFromConfig(cfg, header, slog.Default(), trace)
	if err != nil {
		log.Fatalf("Failed to build client options: %v", err)
	}
	client, err := realtime.New(opts)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	client.OnStateChange(func(oldState, newState connection.State) {
		if newState == connection.StateError {
			log.Printf("[STATE] %s -> %s: %v", oldState, newState, client.LastError())
			return
		}
		log.Printf("[STATE] %s -> %s", oldState, newState)
	})

	if flags.Navigate != "" {
		if err := client.Navigate(flags.Navigate); err != nil {
			log.Fatalf("Navigate failed: %v", err)
		}
	}
	if flags.Subscribe != "" {
		if err := subscribeAtStartup(client); err != nil {
			log.Fatalf("Subscribe failed: %v", err)
		}
	}

	if flags.Interactive {
		console, err := interactive.New(client)
		if err != nil {
			log.Fatalf("Failed to create interactive console: %v", err)
		}
		// Redirect log output through readline to avoid interfering with input
		log.SetOutput(console.Stdout())
		go console.Run(ctx, cancel)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	client.Close()
	log.Println("Goodbye!")
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadFile(flags.ConfigFile); err != nil {
			return nil, err
		}
	}
	if flags.Backend != "" {
		cfg.BackendURL = flags.Backend
	}
	if flags.Transport != "" {
		cfg.Transport = flags.Transport
	}
	if flags.TraceLog != "" {
		cfg.TraceLog = flags.TraceLog
	}
	if flags.LogLevel != "" {
		cfg.LogLevel = flags.LogLevel
	}
	return cfg, nil
}

// setupLogging configures the standard logger. slog.Default writes through
// it, so redirecting log output also moves structured logs.
func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "warn":
		log.SetFlags(log.Ltime)
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		log.SetFlags(log.Ltime)
		slog.SetLogLoggerLevel(slog.LevelError)
	}
}

// discoverBackend browses mDNS and points cfg at the first match.
func discoverBackend(ctx context.Context, cfg *config.Config) error {
	name := flags.Discover
	if name == "" {
		log.Println("Discovering backends...")
	} else {
		log.Printf("Discovering backend %q...", name)
	}

	svc, err := discovery.NewBrowser(discovery.DefaultBrowserConfig()).Find(ctx, name)
	if err != nil {
		return err
	}
	log.Printf("Found %s at %s:%d (%s)", svc.InstanceName, svc.Host, svc.Port, strings.Join(svc.Addresses, ", "))
	if major := version.CurrentVersion().Major; svc.Version != int(major) {
		log.Printf("Warning: backend advertises protocol %d, this client speaks %s", svc.Version, version.Current)
	}

	cfg.BackendURL = svc.BaseURL()
	if svc.StreamPath != "" {
		cfg.StreamPath = svc.StreamPath
	}
	if svc.TokenPath != "" {
		cfg.TokenPath = svc.TokenPath
	}
	if flags.Transport == "" && svc.Transport != "" {
		cfg.Transport = svc.Transport
	}
	return nil
}

func parseHeaders(values []string) (http.Header, error) {
	if len(values) == 0 {
		return nil, nil
	}
	header := make(http.Header)
	for _, v := range values {
		name, value, ok := strings.Cut(v, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%q is not Name: value", v)
		}
		header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}
	return header, nil
}

func subscribeAtStartup(client *realtime.Client) error {
	explicit, err := claims.ParsePairs(strings.Split(flags.Claims, ","))
	if err != nil {
		return err
	}
	id, err := client.SubscribeWithClaims(strings.Split(flags.Subscribe, ","), func(ev realtime.Event) {
		name := ev.Type
		if name == "" {
			name = "(message)"
		}
		log.Printf("[EVENT] %s %s", name, ev.Raw)
	}, explicit)
	if err != nil {
		return err
	}
	log.Printf("Subscribed: %s (claims %s)", id, explicit)
	return nil
}
