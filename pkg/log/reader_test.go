package log

import (
	"io"
	"testing"
	"time"
)

func readAll(t *testing.T, path string, f Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, f)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	var out []Event
	for {
		e, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, e)
	}
}

func TestReaderFilters(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "c1", Layer: LayerTransport, Category: CategoryFrame, Frame: NewFrameEvent("code", "1", "")},
		{Timestamp: base.Add(time.Second), ConnectionID: "c1", Layer: LayerClient, Category: CategoryDelivery, Delivery: &DeliveryEvent{EventType: "code", Subscribers: 1}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "c2", Layer: LayerConnection, Category: CategoryState, StateChange: &StateChangeEvent{OldState: "CONNECTING", NewState: "OPEN"}},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "c2", Layer: LayerClient, Category: CategoryDelivery, SubscriptionID: "s1", Delivery: &DeliveryEvent{EventType: "invite", Subscribers: 2}},
	}
	path := createTestLogFile(t, events)

	layer := LayerClient
	category := CategoryState
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "c1"}, 2},
		{"subscription", Filter{SubscriptionID: "s1"}, 1},
		{"layer", Filter{Layer: &layer}, 2},
		{"category", Filter{Category: &category}, 1},
		{"event type", Filter{EventType: "code"}, 2},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{ConnectionID: "c2", Layer: &layer}, 1},
		{"none", Filter{ConnectionID: "missing"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(readAll(t, path, tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderMissingFile(t *testing.T) {
	if _, err := NewReader("/nonexistent/trace.rtlog"); err == nil {
		t.Error("expected error for missing file")
	}
}
