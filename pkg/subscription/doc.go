// Package subscription implements the subscription registry of the realtime
// client.
//
// Each subscription belongs to one consumer and records:
//   - EventTypes: the named event types the consumer wants (open set)
//   - a Handler invoked for every delivered event
//   - optional explicit claims layered over the route-derived baseline
//
// # Registration Order
//
// Subscriptions are kept in registration order. The explicit claims of all
// live subscriptions are returned in that order so that later subscribers
// take precedence when the canonical claim set is merged.
//
// # Lifecycle
//
// A Subscription is created by Add, mutated by Update, Set and Clear, and
// deactivated by Remove or ClearAll. A deactivated subscription never
// receives another event, even if a dispatch already holds a reference.
package subscription
