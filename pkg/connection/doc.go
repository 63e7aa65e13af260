// Package connection owns the single physical push-stream connection.
//
// The Manager is a state machine over Idle, Connecting, Open and Error (plus
// the terminal Closed). Callers hand it canonical claim sets via Request; the
// manager decides whether the stream must be reopened.
//
// # One Attempt at a Time
//
// A Request arriving while an attempt is Connecting never starts a second
// attempt. The set is parked in the pending slot, overwriting any earlier
// pending set. When the attempt finishes (Open or Error) the pending set is
// consumed and connected. Intermediate sets are never connected.
//
// Each attempt also waits for the previous attempt's goroutine to exit
// before dialing, so an abandoned attempt can never overlap a new one.
//
// # Reconnection Strategy
//
// Failures use exponential backoff:
//
//  1. A pending request after the first failure is retried immediately
//  2. Later retries wait 1s, 2s, 4s ... up to 60 seconds
//  3. Jitter adds up to 25% to each delay
//  4. The backoff resets once a stream opens or the claim set changes
//
// With AutoReconnect enabled a failed set is retried on its own, up to
// MaxAttempts consecutive failures (0 means unlimited).
//
// # Callbacks
//
// State changes, open/close hooks and frames are delivered in order by a
// single flusher and never while the manager's lock is held. Handlers may
// call back into the Manager.
package connection
