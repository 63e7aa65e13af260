package log

import (
	"strings"
	"testing"
	"time"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	original := Event{
		Timestamp:      ts,
		ConnectionID:   "01HV6Y7K2C3Q4W5E6R7T8Y9U0I",
		Direction:      DirectionIn,
		Layer:          LayerConnection,
		Category:       CategoryClaims,
		SubscriptionID: "sub-1",
		Claims: &ClaimsEvent{
			Action: ClaimsOpened,
			Values: map[string]string{"team": "acme", "code": "v1"},
		},
	}

	data, err := EncodeEvent(original)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}

	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, ts)
	}
	if decoded.ConnectionID != original.ConnectionID {
		t.Errorf("ConnectionID: got %q, want %q", decoded.ConnectionID, original.ConnectionID)
	}
	if decoded.SubscriptionID != "sub-1" {
		t.Errorf("SubscriptionID: got %q", decoded.SubscriptionID)
	}
	if decoded.Claims == nil {
		t.Fatal("Claims payload lost")
	}
	if decoded.Claims.Action != ClaimsOpened {
		t.Errorf("Action: got %v, want OPENED", decoded.Claims.Action)
	}
	if got := strings.Join(decoded.Claims.Keys(), ","); got != "code,team" {
		t.Errorf("Keys: got %q", got)
	}
	if decoded.Frame != nil || decoded.Delivery != nil || decoded.StateChange != nil || decoded.Error != nil {
		t.Error("unexpected payloads after decode")
	}
}

func TestEncodeEventIsDeterministic(t *testing.T) {
	event := Event{
		Timestamp: time.Unix(0, 0).UTC(),
		Category:  CategoryClaims,
		Claims: &ClaimsEvent{Values: map[string]string{
			"thread": "t", "team": "a", "project": "p", "code": "c", "node": "n",
		}},
	}

	first, err := EncodeEvent(event)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, _ := EncodeEvent(event)
		if string(again) != string(first) {
			t.Fatal("encoding differs between runs")
		}
	}
}

func TestNewFrameEventTruncates(t *testing.T) {
	small := NewFrameEvent("code", `{"a":1}`, "7")
	if small.Truncated || small.Size != 7 || string(small.Data) != `{"a":1}` || small.ID != "7" {
		t.Errorf("small frame: %+v", small)
	}

	big := NewFrameEvent("", strings.Repeat("x", MaxFrameData+10), "")
	if !big.Truncated {
		t.Error("big frame should be truncated")
	}
	if big.Size != MaxFrameData+10 {
		t.Errorf("Size = %d, want %d", big.Size, MaxFrameData+10)
	}
	if len(big.Data) != MaxFrameData {
		t.Errorf("len(Data) = %d, want %d", len(big.Data), MaxFrameData)
	}
}

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},
		{LayerTransport.String(), "TRANSPORT"},
		{LayerConnection.String(), "CONNECTION"},
		{LayerClient.String(), "CLIENT"},
		{CategoryFrame.String(), "FRAME"},
		{CategoryDelivery.String(), "DELIVERY"},
		{Category(42).String(), "UNKNOWN"},
		{ClaimsPending.String(), "PENDING"},
		{ClaimsDiscarded.String(), "DISCARDED"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}
