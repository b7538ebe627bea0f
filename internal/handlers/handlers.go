// Package handlers exposes the health and admin HTTP surface of the
// resilience layer.
package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Nicouicich/savium-backend-sub002/internal/circuitbreaker"
	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
	"github.com/Nicouicich/savium-backend-sub002/internal/ratelimit"
	"github.com/Nicouicich/savium-backend-sub002/internal/store"
)

type Handlers struct {
	registry   *circuitbreaker.Registry
	storeC     *store.Client
	engine     *ratelimit.Engine
	detector   *ratelimit.Detector
	whitelist  *ratelimit.Whitelist
	adminToken string
	logger     logging.Logger
}

func New(registry *circuitbreaker.Registry, storeClient *store.Client, engine *ratelimit.Engine, detector *ratelimit.Detector, whitelist *ratelimit.Whitelist, adminToken string, logger logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Handlers{
		registry:   registry,
		storeC:     storeClient,
		engine:     engine,
		detector:   detector,
		whitelist:  whitelist,
		adminToken: adminToken,
		logger:     logger,
	}
}

// Register mounts the health endpoint and the token-guarded admin
// surface on the router.
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(h.adminOnly)

	admin.HandleFunc("/circuit-breakers", h.ListBreakers).Methods(http.MethodGet)
	admin.HandleFunc("/circuit-breakers/reset", h.ResetAllBreakers).Methods(http.MethodPost)
	admin.HandleFunc("/circuit-breakers/{name}/reset", h.ResetBreaker).Methods(http.MethodPost)
	admin.HandleFunc("/circuit-breakers/{name}/force-open", h.ForceOpenBreaker).Methods(http.MethodPost)

	admin.HandleFunc("/whitelist/{identifier}", h.AddToWhitelist).Methods(http.MethodPost)
	admin.HandleFunc("/whitelist/{identifier}", h.RemoveFromWhitelist).Methods(http.MethodDelete)

	admin.HandleFunc("/bans/{identifier}", h.BanIdentifier).Methods(http.MethodPost)
	admin.HandleFunc("/bans/{identifier}", h.UnbanIdentifier).Methods(http.MethodDelete)

	admin.HandleFunc("/rate-limits/{identifier}", h.ClearRateLimits).Methods(http.MethodDelete)
}

// adminOnly rejects requests whose X-Admin-Token does not match the
// configured shared secret.
func (h *Handlers) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			h.logger.Warn("admin request with invalid token",
				logging.String("path", r.URL.Path),
			)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Health reports aggregate breaker health plus counter-store
// reachability. Unhealthy maps to 503 so load balancers can rotate
// the instance out; a dead store does not, because admission fails
// open without it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.registry.GetHealthStatus()

	storeStatus := "up"
	if err := h.storeC.Health(); err != nil {
		storeStatus = "down"
		h.logger.Warn("counter store unreachable", logging.String("error", err.Error()))
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":           health.Status,
		"counter_store":    storeStatus,
		"circuit_breakers": health,
	})
}

// ListBreakers returns the stats snapshot of every breaker
func (h *Handlers) ListBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.GetAllStats())
}

// ResetBreaker resets a single breaker back to closed
func (h *Handlers) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !h.registry.ResetCircuitBreaker(name) {
		http.Error(w, "Circuit breaker not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "circuit_breaker": name})
}

// ResetAllBreakers resets every registered breaker
func (h *Handlers) ResetAllBreakers(w http.ResponseWriter, r *http.Request) {
	h.registry.ResetAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ForceOpenBreaker trips a breaker open for maintenance
func (h *Handlers) ForceOpenBreaker(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	h.registry.ForceOpenCircuitBreaker(name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "forced_open", "circuit_breaker": name})
}

// AddToWhitelist exempts an identifier from rate limiting. An optional
// ttl query parameter bounds the exemption; without it the entry is
// permanent.
func (h *Handlers) AddToWhitelist(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "Invalid ttl", http.StatusBadRequest)
			return
		}
		ttl = parsed
	}

	if err := h.whitelist.Add(r.Context(), identifier, ttl); err != nil {
		http.Error(w, "Failed to update whitelist", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "whitelisted", "identifier": identifier})
}

// RemoveFromWhitelist revokes an exemption
func (h *Handlers) RemoveFromWhitelist(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	if err := h.whitelist.Remove(r.Context(), identifier); err != nil {
		http.Error(w, "Failed to update whitelist", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "identifier": identifier})
}

// BanIdentifier applies a manual temporary ban. The duration query
// parameter defaults to one hour.
func (h *Handlers) BanIdentifier(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	duration := time.Hour
	if raw := r.URL.Query().Get("duration"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "Invalid duration", http.StatusBadRequest)
			return
		}
		duration = parsed
	}

	if err := h.detector.TemporaryBan(r.Context(), identifier, duration); err != nil {
		http.Error(w, "Failed to apply ban", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "banned",
		"identifier": identifier,
		"duration":   duration.String(),
	})
}

// UnbanIdentifier lifts a ban early
func (h *Handlers) UnbanIdentifier(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	if err := h.detector.Unban(r.Context(), identifier); err != nil {
		http.Error(w, "Failed to lift ban", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbanned", "identifier": identifier})
}

// ClearRateLimits drops every live counter for an identifier
func (h *Handlers) ClearRateLimits(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	cleared, err := h.engine.ClearLimits(r.Context(), identifier)
	if err != nil {
		http.Error(w, "Failed to clear rate limits", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "cleared",
		"identifier": identifier,
		"keys":       cleared,
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
