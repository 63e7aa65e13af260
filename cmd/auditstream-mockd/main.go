// Command auditstream-mockd runs a mock audit stream backend.
//
// It issues signed stream tokens, serves the event stream over SSE and
// WebSocket, advertises itself via mDNS and can publish synthetic events.
//
// Usage:
//
//	auditstream-mockd [flags]
//
// Flags:
//
//	-port int           HTTP port (default 8080)
//	-name string        mDNS instance name (default "auditstream-mock")
//	-secret string      Token signing secret (default: random per run)
//	-token-ttl duration Lifetime of issued tokens (default 5m)
//	-demo duration      Publish a synthetic event at this interval (0 disables)
//	-seed uint          Seed for the synthetic event sequence
//	-no-advertise       Do not advertise via mDNS
//	-log-level string   Log level: debug, info, warn, error (default "info")
//
// Examples:
//
//	# Serve demo traffic and let auditstream-tail find it
//	auditstream-mockd -demo 500ms
//	auditstream-tail -discover "" -sub code -claims team=t1
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/auditlens/realtime-go/internal/mockbackend"
	"github.com/auditlens/realtime-go/pkg/discovery"
)

// Config holds the daemon configuration.
type Config struct {
	Port        int
	Name        string
	Secret      string
	TokenTTL    time.Duration
	Demo        time.Duration
	Seed        uint64
	NoAdvertise bool
	LogLevel    string
}

var config Config

func init() {
	flag.IntVar(&config.Port, "port", discovery.DefaultPort, "HTTP port")
	flag.StringVar(&config.Name, "name", "auditstream-mock", "mDNS instance name")
	flag.StringVar(&config.Secret, "secret", "", "Token signing secret (default: random per run)")
	flag.DurationVar(&config.TokenTTL, "token-ttl", mockbackend.DefaultTokenTTL, "Lifetime of issued tokens")
	flag.DurationVar(&config.Demo, "demo", 0, "Publish a synthetic event at this interval (0 disables)")
	flag.Uint64Var(&config.Seed, "seed", 1, "Seed for the synthetic event sequence")
	flag.BoolVar(&config.NoAdvertise, "no-advertise", false, "Do not advertise via mDNS")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	flag.Parse()

	setupLogging(config.LogLevel)

	log.Println("Audit Stream Mock Backend")
	log.Println("=========================")

	if config.Port <= 0 || config.Port > 65535 {
		log.Fatalf("Invalid port: %d", config.Port)
	}

	backend, err := mockbackend.New(mockbackend.Config{
		Secret:    []byte(config.Secret),
		TokenTTL:  config.TokenTTL,
		KeepAlive: 15 * time.Second,
		Logger:    slog.Default(),
	})
	if err != nil {
		log.Fatalf("Failed to create backend: %v", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           backend,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()
	log.Printf("Listening on :%d (stream %s, token %s)", config.Port, backend.StreamPath(), backend.TokenPath())

	if !config.NoAdvertise {
		adv := discovery.NewAdvertiser(discovery.DefaultAdvertiserConfig())
		err := adv.Advertise(&discovery.BackendInfo{
			Name:       config.Name,
			Port:       uint16(config.Port),
			StreamPath: backend.StreamPath(),
			TokenPath:  backend.TokenPath(),
			Transport:  "sse",
		})
		if err != nil {
			log.Printf("Failed to advertise: %v", err)
		} else {
			log.Printf("Advertising %q as %s", config.Name, discovery.ServiceType)
			defer adv.Stop()
		}
	}

	if config.Demo > 0 {
		demoCfg := mockbackend.DefaultDemoConfig()
		demoCfg.Interval = config.Demo
		demoCfg.Seed = config.Seed
		demo := mockbackend.NewDemo(backend, demoCfg)
		go func() {
			if err := demo.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("Demo publisher stopped: %v", err)
			}
		}()
		log.Printf("Publishing demo events every %s", config.Demo)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	cancel()

	// Open streams never finish on their own.
	backend.Terminate()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping server: %v", err)
	}

	log.Println("Goodbye!")
}

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
