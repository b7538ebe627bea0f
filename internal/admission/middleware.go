package admission

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Nicouicich/savium-backend-sub002/internal/identity"
)

// Middleware returns a mux middleware that runs admission control
// against every matched route, resolving per-route policies from the
// table and falling back to defaultPolicy for unlisted routes.
func (g *Guard) Middleware(extractor *identity.Extractor, table PolicyTable, defaultPolicy Policy) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			policy := table.resolve(r, defaultPolicy)
			g.serve(extractor, policy, next, w, r)
		})
	}
}

// Protect wraps a single handler with a fixed policy, for routes
// mounted outside the table-driven middleware.
func (g *Guard) Protect(extractor *identity.Extractor, policy Policy, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.serve(extractor, policy, next, w, r)
	})
}

func (g *Guard) serve(extractor *identity.Extractor, policy Policy, next http.Handler, w http.ResponseWriter, r *http.Request) {
	req := &Request{
		IPAddress: identity.ClientIP(r),
		AccountID: accountID(r),
		Endpoint:  endpointName(r, policy),
		Policy:    policy,
		HTTP:      r,
	}
	if extractor != nil {
		if userID, ok := extractor.UserID(r); ok {
			req.UserID = userID
		}
	}

	decision := g.CanActivate(r.Context(), req)

	for key, value := range decision.Headers {
		w.Header().Set(key, value)
	}

	if decision.Allowed {
		next.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.Status)
	if decision.Body != nil {
		json.NewEncoder(w).Encode(decision.Body)
	}
}

// accountID pulls the account scope from the route vars, falling back
// to the X-Account-ID header for routes that carry it there.
func accountID(r *http.Request) string {
	if vars := mux.Vars(r); vars != nil {
		if id, ok := vars["accountId"]; ok {
			return id
		}
	}
	return r.Header.Get("X-Account-ID")
}
