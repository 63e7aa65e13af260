// Package interactive provides the interactive command-line interface
// for auditstream-tail.
package interactive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/auditlens/realtime-go/pkg/claims"
	"github.com/auditlens/realtime-go/pkg/realtime"
)

// Console drives a realtime.Client from typed commands.
type Console struct {
	client *realtime.Client
	rl     *readline.Instance
	out    io.Writer
}

// New creates a console reading commands through readline.
func New(client *realtime.Client) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tail> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	c := newConsole(client, rl.Stdout())
	c.rl = rl
	return c, nil
}

func newConsole(client *realtime.Client, out io.Writer) *Console {
	return &Console{client: client, out: out}
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("sub"),
	readline.PcItem("unsub"),
	readline.PcItem("update"),
	readline.PcItem("set"),
	readline.PcItem("clear"),
	readline.PcItem("nav"),
	readline.PcItem("claims"),
	readline.PcItem("status"),
	readline.PcItem("list"),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Exec(line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether the console should exit.
func (c *Console) Exec(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "sub", "subscribe":
		c.cmdSubscribe(args)
	case "unsub", "unsubscribe":
		c.cmdUnsubscribe(args)
	case "update":
		c.cmdClaims(args, "update", c.client.UpdateClaims)
	case "set":
		c.cmdClaims(args, "set", c.client.SetClaims)
	case "clear":
		c.cmdClear(args)
	case "nav", "cd":
		c.cmdNavigate(args)
	case "claims":
		c.cmdShowClaims()
	case "status":
		c.cmdStatus()
	case "list", "ls":
		c.cmdList()
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Audit Stream Tail Commands:
  Subscriptions:
    sub <types> [key=value ...]    - Subscribe to comma-separated event types ("-" for none)
    unsub <id>                     - Remove a subscription
    update <id> key=value|-key ... - Merge claims into a subscription
    set <id> key=value|-key ...    - Replace a subscription's claims
    clear <id>                     - Clear a subscription's claims and reconnect

  Routing:
    nav <path>                     - Navigate, e.g. /teams/t1/projects/p2

  Inspection:
    claims                         - Show the merged claim set
    status                         - Show connection status
    list                           - List subscriptions

  General:
    help                           - Show this help
    quit                           - Exit`)
}

func (c *Console) cmdSubscribe(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: sub <types> [key=value ...]")
		return
	}

	var types []string
	if args[0] != "-" {
		for _, t := range strings.Split(args[0], ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	explicit, err := claims.ParsePairs(args[1:])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid claims: %v\n", err)
		return
	}

	var id string
	ready := make(chan struct{})
	handler := func(ev realtime.Event) {
		<-ready
		c.printEvent(id, ev)
	}
	id, err = c.client.SubscribeWithClaims(types, handler, explicit)
	close(ready)
	if err != nil {
		fmt.Fprintf(c.out, "Subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Subscribed: %s\n", id)
}

func (c *Console) printEvent(id string, ev realtime.Event) {
	name := ev.Type
	if name == "" {
		name = "(message)"
	}
	data := ev.Raw
	if b, err := json.Marshal(ev.Data); err == nil {
		data = string(b)
	}
	fmt.Fprintf(c.out, "[%s] %s %s %s\n", ev.Received.Format("15:04:05.000"), shortID(id), name, data)
}

func (c *Console) cmdUnsubscribe(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: unsub <id>")
		return
	}
	if err := c.client.Unsubscribe(args[0]); err != nil {
		fmt.Fprintf(c.out, "Unsubscribe failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Unsubscribed: %s\n", args[0])
}

func (c *Console) cmdClaims(args []string, name string, apply func(string, claims.Claims) error) {
	if len(args) < 1 {
		fmt.Fprintf(c.out, "Usage: %s <id> key=value|-key ...\n", name)
		return
	}
	partial, err := claims.ParsePairs(args[1:])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid claims: %v\n", err)
		return
	}
	if err := apply(args[0], partial); err != nil {
		fmt.Fprintf(c.out, "%s failed: %v\n", name, err)
		return
	}
	c.cmdShowClaims()
}

func (c *Console) cmdClear(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: clear <id>")
		return
	}
	if err := c.client.ClearClaims(args[0]); err != nil {
		fmt.Fprintf(c.out, "clear failed: %v\n", err)
		return
	}
	c.cmdShowClaims()
}

func (c *Console) cmdNavigate(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: nav <path>")
		return
	}
	if err := c.client.Navigate(args[0]); err != nil {
		fmt.Fprintf(c.out, "Navigate failed: %v\n", err)
		return
	}

	ctx := c.client.Route()
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+ctx[k])
	}
	fmt.Fprintf(c.out, "Route: {%s}\n", strings.Join(parts, ", "))
}

func (c *Console) cmdShowClaims() {
	fmt.Fprintf(c.out, "Claims: %s\n", c.client.CurrentClaims())
}

func (c *Console) cmdStatus() {
	st := c.client.Status()
	fmt.Fprintln(c.out, "\nConnection Status:")
	fmt.Fprintln(c.out, "-------------------------------------------")
	fmt.Fprintf(c.out, "  State:         %s\n", st.State)
	if st.ConnectionID != "" {
		fmt.Fprintf(c.out, "  Connection:    %s\n", st.ConnectionID)
	}
	fmt.Fprintf(c.out, "  Claims:        %s\n", st.Claims)
	fmt.Fprintf(c.out, "  Subscriptions: %d\n", c.client.Count())
	if listeners := c.client.Listeners(); len(listeners) > 0 {
		fmt.Fprintf(c.out, "  Listeners:     %s\n", strings.Join(listeners, ", "))
	}
	if st.Err != nil {
		fmt.Fprintf(c.out, "  Last error:    %v\n", st.Err)
	}
}

func (c *Console) cmdList() {
	subs := c.client.Subscriptions()
	if len(subs) == 0 {
		fmt.Fprintln(c.out, "No subscriptions")
		return
	}

	fmt.Fprintf(c.out, "\nSubscriptions (%d):\n", len(subs))
	fmt.Fprintln(c.out, "-------------------------------------------")
	for _, s := range subs {
		types := "(none)"
		if len(s.EventTypes) > 0 {
			types = strings.Join(s.EventTypes, ",")
		}
		fmt.Fprintf(c.out, "  ID: %s\n", s.ID)
		fmt.Fprintf(c.out, "      Types:   %s\n", types)
		fmt.Fprintf(c.out, "      Claims:  %s\n", s.Explicit())
		fmt.Fprintf(c.out, "      Created: %s\n", s.Created.Format(time.TimeOnly))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
