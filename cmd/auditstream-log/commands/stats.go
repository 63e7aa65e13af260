package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	rtlog "github.com/auditlens/realtime-go/pkg/log"
)

// Stats holds aggregate statistics about a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[rtlog.Layer]int
	EventsByCategory  map[rtlog.Category]int
	EventsByDirection map[rtlog.Direction]int
	EventTypes        map[string]int
	Connections       map[string]*ConnectionStats
	Deliveries        int
	Dropped           int
	Sentinels         int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats holds statistics for a single physical connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Frames    int
	Claims    map[string]string
}

// Collect reads every event in path and aggregates it.
func Collect(path string) (*Stats, error) {
	reader, err := rtlog.NewReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[rtlog.Layer]int),
		EventsByCategory:  make(map[rtlog.Category]int),
		EventsByDirection: make(map[rtlog.Direction]int),
		EventTypes:        make(map[string]int),
		Connections:       make(map[string]*ConnectionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
}

func (s *Stats) add(event rtlog.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	switch {
	case event.Frame != nil && event.Frame.Event != "":
		s.EventTypes[event.Frame.Event]++
	case event.Delivery != nil:
		switch {
		case event.Delivery.Sentinel:
			s.Sentinels++
		case event.Delivery.Dropped:
			s.Dropped++
		default:
			s.Deliveries += event.Delivery.Subscribers
		}
	case event.Error != nil:
		s.Errors++
	}

	if event.ConnectionID == "" {
		return
	}
	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	conn.Events++
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if event.Frame != nil {
		conn.Frames++
	}
	if event.Claims != nil && event.Claims.Action == rtlog.ClaimsOpened {
		conn.Claims = event.Claims.Values
	}
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Audit Stream Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []rtlog.Layer{rtlog.LayerTransport, rtlog.LayerConnection, rtlog.LayerClient} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []rtlog.Category{rtlog.CategoryFrame, rtlog.CategoryState, rtlog.CategoryClaims, rtlog.CategoryDelivery, rtlog.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.EventTypes) > 0 {
		names := make([]string, 0, len(stats.EventTypes))
		for name := range stats.EventTypes {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "Frames by Event Type:")
		for _, name := range names {
			fmt.Fprintf(w, "  %-12s %d\n", name+":", stats.EventTypes[name])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Handler Invocations: %d\n", stats.Deliveries)
	if stats.Dropped > 0 {
		fmt.Fprintf(w, "Dropped Frames:      %d\n", stats.Dropped)
	}
	if stats.Sentinels > 0 {
		fmt.Fprintf(w, "Sentinels:           %d\n", stats.Sentinels)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	if len(stats.Connections) > 0 {
		type connInfo struct {
			id    string
			stats *ConnectionStats
		}
		conns := make([]connInfo, 0, len(stats.Connections))
		for id, cs := range stats.Connections {
			conns = append(conns, connInfo{id, cs})
		}
		sort.Slice(conns, func(i, j int) bool {
			return conns[i].stats.FirstSeen.Before(conns[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, c := range conns {
			duration := c.stats.LastSeen.Sub(c.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, %d frames, duration %s\n",
				shortenConnID(c.id), c.stats.Events, c.stats.Frames, duration)
			if len(c.stats.Claims) > 0 {
				ce := rtlog.ClaimsEvent{Values: c.stats.Claims}
				for _, k := range ce.Keys() {
					fmt.Fprintf(w, "           %s=%s\n", k, c.stats.Claims[k])
				}
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
