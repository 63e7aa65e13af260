// Package mockbackend is an in-process realtime backend for tests and
// local development.
//
// It serves a token issuer and a stream endpoint that speaks both SSE and
// WebSocket on the same path. Tokens are HS256 JWTs whose "scope" claim
// holds the requested claim set. Published events carry a scope of their
// own and reach only streams whose token scope contains every key/value of
// the event scope.
package mockbackend
