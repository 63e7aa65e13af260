package mockbackend

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// DemoEventTypes are the named event types the demo publishes.
var DemoEventTypes = []string{"code", "invite", "analysis"}

// DemoConfig configures synthetic traffic.
type DemoConfig struct {
	// Interval between events.
	Interval time.Duration

	// Teams and Projects are the scope values events are spread over.
	Teams    []string
	Projects []string

	// Seed makes the event sequence reproducible.
	Seed uint64

	// HeartbeatEvery publishes an anonymous unscoped event every n events.
	// Zero disables heartbeats.
	HeartbeatEvery int
}

// DefaultDemoConfig returns the demo settings used by auditstream-mockd.
func DefaultDemoConfig() DemoConfig {
	return DemoConfig{
		Interval:       time.Second,
		Teams:          []string{"t1", "t2"},
		Projects:       []string{"p1", "p2", "p3"},
		Seed:           1,
		HeartbeatEvery: 10,
	}
}

// Demo publishes synthetic audit events to a Server.
type Demo struct {
	server *Server
	config DemoConfig
	rng    *rand.Rand
	n      int
}

// NewDemo creates a demo publisher for server.
func NewDemo(server *Server, config DemoConfig) *Demo {
	if len(config.Teams) == 0 {
		config.Teams = DefaultDemoConfig().Teams
	}
	return &Demo{
		server: server,
		config: config,
		rng:    rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
	}
}

// Next builds the next event without publishing it.
func (d *Demo) Next() Event {
	d.n++
	if d.config.HeartbeatEvery > 0 && d.n%d.config.HeartbeatEvery == 0 {
		return Event{Data: map[string]any{"heartbeat": d.n}}
	}

	team := d.config.Teams[d.rng.IntN(len(d.config.Teams))]
	scope := map[string]string{"team": team}
	payload := map[string]any{"seq": d.n, "team": team}
	if len(d.config.Projects) > 0 && d.rng.IntN(2) == 0 {
		project := d.config.Projects[d.rng.IntN(len(d.config.Projects))]
		scope["project"] = project
		payload["project"] = project
	}

	typ := DemoEventTypes[d.rng.IntN(len(DemoEventTypes))]
	switch typ {
	case "code":
		payload["file"] = fmt.Sprintf("src/module_%02d.go", d.rng.IntN(20))
		payload["line"] = 1 + d.rng.IntN(400)
	case "invite":
		payload["user"] = fmt.Sprintf("user-%03d", d.rng.IntN(1000))
	case "analysis":
		payload["status"] = []string{"queued", "running", "done"}[d.rng.IntN(3)]
	}
	return Event{Type: typ, Data: payload, Scope: scope}
}

// Step publishes one event and returns how many streams received it.
func (d *Demo) Step() (int, error) {
	ev := d.Next()
	n, err := d.server.Publish(ev)
	if err != nil {
		return 0, err
	}
	d.server.logger.Debug("demo event", "type", ev.Type, "scope", ev.Scope, "streams", n)
	return n, nil
}

// Run publishes events every Interval until ctx is done.
func (d *Demo) Run(ctx context.Context) error {
	interval := d.config.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.Step(); err != nil {
				return err
			}
		}
	}
}
