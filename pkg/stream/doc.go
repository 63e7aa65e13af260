// Package stream implements the physical push-stream transports.
//
// A Dialer opens one Stream for an authorization token. A Stream yields
// Frames in arrival order until it is closed or the transport fails. Two
// transports are provided:
//   - SSEDialer: text/event-stream over HTTP GET
//   - WSDialer: WebSocket text messages carrying {"event", "data", "id"}
//
// Both send the token as the "token" query parameter.
package stream
