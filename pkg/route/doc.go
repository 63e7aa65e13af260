// Package route derives baseline stream claims from navigation context.
//
// A Context holds the named path segments of the current location (team,
// project, code version, analysis thread, node). Derive turns it into
// Claims containing only the segments that are actually present.
//
// A Matcher extracts a Context from a URL path using route templates:
//
//	m, _ := route.NewMatcher(route.DefaultTemplates(), nil)
//	ctx := m.Match("/teams/acme/projects/p1/code/v3")
//	// ctx == route.Context{"team": "acme", "project": "p1", "code": "v3"}
//
// Templates are matched as path prefixes, most specific first, so paths with
// trailing UI segments (settings tabs, file paths) still yield their scope.
package route
