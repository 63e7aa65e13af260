// Package discovery advertises and finds realtime backends via mDNS/DNS-SD.
//
// Backends advertise the _auditstream._tcp service. The instance name is a
// user-friendly backend name. TXT records describe where the endpoints live:
//
//   - v: protocol version (currently 1)
//   - sp: stream endpoint path
//   - tp: token issuer path
//   - tr: transport (sse or websocket)
//   - tls: "1" when the backend serves https
//
// Discovery is a development convenience. Production clients configure the
// backend URL explicitly.
package discovery
