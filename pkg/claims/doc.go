// Package claims implements the filter descriptors that scope the realtime
// event stream.
//
// A Claims value maps a scope key (team, project, code, thread, node, ...)
// to an Op. An Op is one of:
//   - Keep: leave whatever value is already accumulated for the key
//   - Unset: remove the key
//   - Set(v): use v for the key
//
// # Merging
//
// The canonical claim set driving the stream connection is computed by
// Merge: start from the route-derived claims and apply each subscriber's
// explicit claims in registration order. Later subscribers win. Unset always
// removes the key, even when the route or an earlier subscriber set it.
//
//	canonical := claims.Merge(routeClaims, subA.Explicit(), subB.Explicit())
//
// # Equality
//
// Two claim sets are equal when their canonical serializations are equal.
// Canonical uses core deterministic CBOR so the result does not depend on
// map iteration order, but does distinguish Unset from an absent key.
//
// # Navigation
//
// ClearConflicts drops explicit overrides that merely pinned the previous
// route value, so a fresh navigation is not shadowed by a stale override.
package claims
