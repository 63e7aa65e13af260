package commands

import (
	"fmt"
	"strings"

	rtlog "github.com/auditlens/realtime-go/pkg/log"
)

// ParseLayer parses a layer name (case-insensitive).
func ParseLayer(s string) (rtlog.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return rtlog.LayerTransport, nil
	case "connection":
		return rtlog.LayerConnection, nil
	case "client":
		return rtlog.LayerClient, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, connection, or client)", s)
	}
}

// ParseDirection parses a direction name (case-insensitive).
func ParseDirection(s string) (rtlog.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return rtlog.DirectionIn, nil
	case "out":
		return rtlog.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategory parses a category name (case-insensitive).
func ParseCategory(s string) (rtlog.Category, error) {
	switch strings.ToLower(s) {
	case "frame":
		return rtlog.CategoryFrame, nil
	case "state":
		return rtlog.CategoryState, nil
	case "claims":
		return rtlog.CategoryClaims, nil
	case "delivery":
		return rtlog.CategoryDelivery, nil
	case "error":
		return rtlog.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be frame, state, claims, delivery, or error)", s)
	}
}

// eventTypeOf returns the stream event type carried by frame and delivery events.
func eventTypeOf(e rtlog.Event) string {
	switch {
	case e.Frame != nil:
		return e.Frame.Event
	case e.Delivery != nil:
		return e.Delivery.EventType
	}
	return ""
}
