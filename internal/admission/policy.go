package admission

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Policy is the declarative per-route admission configuration,
// registered at startup and resolved by route identity. A route-level
// policy overrides the guard's default.
type Policy struct {
	// SkipIf short-circuits admission entirely when it returns true
	SkipIf func(r *http.Request) bool
	// Endpoint overrides the endpoint name used for the endpoint-scope
	// limit and abuse accounting
	Endpoint string
	// RequireAuth marks routes where callers are expected to carry
	// identity; the per-user check only runs on these
	RequireAuth bool
	// Financial swaps the per-user check for the tighter
	// user-plus-account limit
	Financial bool
	// Burst adds the one-second spike check in front of the others
	Burst bool
}

// PolicyTable maps "METHOD /path/template" to a route policy
type PolicyTable map[string]Policy

// resolve returns the table entry for the matched mux route, or the
// fallback.
func (t PolicyTable) resolve(r *http.Request, fallback Policy) Policy {
	route := mux.CurrentRoute(r)
	if route == nil {
		return fallback
	}
	template, err := route.GetPathTemplate()
	if err != nil {
		return fallback
	}
	if policy, ok := t[r.Method+" "+template]; ok {
		return policy
	}
	return fallback
}

// endpointName picks the abuse/endpoint-limit name for a request: the
// policy override wins, then the mux route name, then the path itself.
func endpointName(r *http.Request, policy Policy) string {
	if policy.Endpoint != "" {
		return policy.Endpoint
	}

	if route := mux.CurrentRoute(r); route != nil {
		if name := route.GetName(); name != "" {
			return name
		}
		if template, err := route.GetPathTemplate(); err == nil {
			return slugify(template)
		}
	}

	return slugify(r.URL.Path)
}

// slugify turns "/api/transactions/{id}" into "api-transactions-id"
func slugify(path string) string {
	replacer := strings.NewReplacer("/", "-", "{", "", "}", "")
	return strings.Trim(replacer.Replace(path), "-")
}
