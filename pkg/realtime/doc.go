// Package realtime is the consumer-facing API of the event stream.
//
// A Client owns one subscription registry and one physical stream. Every
// consumer registers a Subscription with the event types it wants and,
// optionally, explicit claim overrides. The client merges the claims
// derived from the current route with every subscription's overrides
// into one canonical claim set and keeps exactly one stream open for it.
//
// # Claims
//
// Route-derived claims form the baseline. Explicit overrides are applied
// in registration order: Set overwrites, Unset deletes, absent keys are
// left alone. When the route changes, overrides that pinned the old route
// value of a changed key are dropped so the new route wins.
//
// # Delivery
//
// Named frames reach the subscriptions that declared the event type.
// Anonymous frames reach every subscription. An anonymous "[DONE]" frame
// ends the stream without an error.
//
// # Example
//
//	client, err := realtime.New(realtime.Options{
//		Tokens: token.NewCache(&token.HTTPSource{URL: tokenURL}, 0),
//		Dialer: &stream.SSEDialer{URL: streamURL},
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	client.Navigate("/teams/acme/projects/p1")
//	id, err := client.Subscribe([]string{"code"}, func(ev realtime.Event) {
//		fmt.Println(ev.Type, ev.Data)
//	})
package realtime
