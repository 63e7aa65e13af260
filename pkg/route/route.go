package route

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/auditlens/realtime-go/pkg/claims"
)

// Context is the set of named path segments of the current location.
type Context map[string]string

// Derive returns the claims implied by ctx. Every segment present in ctx is
// included, an empty value too; absent segments are omitted, never Unset.
func Derive(ctx Context) claims.Claims {
	out := make(claims.Claims, len(ctx))
	for k, v := range ctx {
		if k == "" {
			continue
		}
		out[k] = claims.Set(v)
	}
	return out
}

// DefaultTemplates returns the route templates of the audit application.
func DefaultTemplates() []string {
	return []string{
		"/teams/{team}",
		"/teams/{team}/projects/{project}",
		"/teams/{team}/projects/{project}/code/{code}",
		"/teams/{team}/projects/{project}/code/{code}/analysis/{thread}",
		"/teams/{team}/projects/{project}/code/{code}/analysis/{thread}/nodes/{node}",
	}
}

// Matcher extracts a Context from URL paths.
type Matcher struct {
	router    *mux.Router
	templates []string
	keys      map[string]string
}

// NewMatcher builds a matcher from route templates. keys optionally renames
// route variables to claim keys (e.g. "teamSlug" -> "team").
func NewMatcher(templates []string, keys map[string]string) (*Matcher, error) {
	ordered := make([]string, 0, len(templates))
	for _, tpl := range templates {
		tpl = strings.TrimSpace(tpl)
		if tpl == "" {
			continue
		}
		if !strings.HasPrefix(tpl, "/") {
			return nil, fmt.Errorf("route template %q must start with /", tpl)
		}
		ordered = append(ordered, strings.TrimSuffix(tpl, "/"))
	}

	// Most variables first; mux returns the first matching route.
	sort.SliceStable(ordered, func(i, j int) bool {
		vi, vj := strings.Count(ordered[i], "{"), strings.Count(ordered[j], "{")
		if vi != vj {
			return vi > vj
		}
		return len(ordered[i]) > len(ordered[j])
	})

	router := mux.NewRouter()
	for _, tpl := range ordered {
		r := router.PathPrefix(tpl)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("route template %q: %w", tpl, err)
		}
	}

	renamed := make(map[string]string, len(keys))
	for from, to := range keys {
		renamed[from] = to
	}

	return &Matcher{router: router, templates: ordered, keys: renamed}, nil
}

// Templates returns the templates in match order.
func (m *Matcher) Templates() []string {
	out := make([]string, len(m.templates))
	copy(out, m.templates)
	return out
}

// Match returns the context of the most specific template matching path.
// An empty Context is returned when nothing matches.
func (m *Matcher) Match(path string) Context {
	if path == "" {
		return Context{}
	}
	u, err := url.Parse(path)
	if err != nil {
		return Context{}
	}

	req := &http.Request{Method: http.MethodGet, URL: u, Header: make(http.Header)}
	var match mux.RouteMatch
	if !m.router.Match(req, &match) {
		return Context{}
	}

	ctx := make(Context, len(match.Vars))
	for name, value := range match.Vars {
		if renamed, ok := m.keys[name]; ok {
			name = renamed
		}
		if unescaped, err := url.PathUnescape(value); err == nil {
			value = unescaped
		}
		ctx[name] = value
	}
	return ctx
}
