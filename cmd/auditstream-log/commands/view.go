// Package commands implements the auditstream-log CLI commands.
package commands

import (
	"fmt"
	"io"
	"strings"

	rtlog "github.com/auditlens/realtime-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *rtlog.Layer
	Direction *rtlog.Direction
	Category  *rtlog.Category
	EventType string
}

// Matches reports whether the event passes the filter.
func (f ViewFilter) Matches(e rtlog.Event) bool {
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.EventType != "" && eventTypeOf(e) != f.EventType {
		return false
	}
	return true
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event rtlog.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Label
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n",
		ts, shortenConnID(event.ConnectionID), event.Direction, event.Layer, typeLabel(event))
	if event.SubscriptionID != "" {
		fmt.Fprintf(w, "  Subscription: %s\n", event.SubscriptionID)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Claims != nil:
		formatClaimsDetails(w, event.Claims)
	case event.Delivery != nil:
		formatDeliveryDetails(w, event.Delivery)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func typeLabel(event rtlog.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.StateChange != nil:
		return "State"
	case event.Claims != nil:
		return "Claims " + event.Claims.Action.String()
	case event.Delivery != nil:
		return "Delivery"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the last 8 characters of the connection ID.
// ULIDs share their leading timestamp, so the tail is the distinctive part.
func shortenConnID(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *rtlog.FrameEvent) {
	name := frame.Event
	if name == "" {
		name = "(anonymous)"
	}
	fmt.Fprintf(w, "  Event: %s\n", name)
	if frame.ID != "" {
		fmt.Fprintf(w, "  ID: %s\n", frame.ID)
	}
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", strings.ReplaceAll(string(frame.Data), "\n", `\n`))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *rtlog.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatClaimsDetails(w io.Writer, c *rtlog.ClaimsEvent) {
	if len(c.Values) == 0 {
		fmt.Fprintln(w, "  Claims: {}")
		return
	}
	parts := make([]string, 0, len(c.Values))
	for _, k := range c.Keys() {
		parts = append(parts, k+"="+c.Values[k])
	}
	fmt.Fprintf(w, "  Claims: {%s}\n", strings.Join(parts, ", "))
}

func formatDeliveryDetails(w io.Writer, d *rtlog.DeliveryEvent) {
	switch {
	case d.Sentinel:
		fmt.Fprintln(w, "  Sentinel: stream terminated")
		return
	case d.Broadcast:
		fmt.Fprintln(w, "  Event: (broadcast)")
	default:
		fmt.Fprintf(w, "  Event: %s\n", d.EventType)
	}
	if d.Dropped {
		fmt.Fprintln(w, "  Dropped: no listener")
		return
	}
	fmt.Fprintf(w, "  Subscribers: %d\n", d.Subscribers)
}

func formatErrorDetails(w io.Writer, err *rtlog.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := rtlog.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if !filter.Matches(event) {
			continue
		}
		formatEvent(output, event)
	}

	return nil
}
