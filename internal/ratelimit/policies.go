package ratelimit

import "time"

// Scope limits. These are configuration, not separate algorithms:
// every scope runs through the same fixed-window engine.

// UserScope is the default per-user limit
func UserScope() WindowConfig {
	return WindowConfig{Window: 15 * time.Minute, MaxRequests: 1000, KeyPrefix: "rate:user"}
}

// IPScope is the per-address limit applied to every request
func IPScope() WindowConfig {
	return WindowConfig{Window: 15 * time.Minute, MaxRequests: 100, KeyPrefix: "rate:ip"}
}

// BurstScope catches short spikes ahead of the coarser windows
func BurstScope() WindowConfig {
	return WindowConfig{Window: time.Second, MaxRequests: 10, KeyPrefix: "rate:burst"}
}

// FinancialScope is the tight per-user-per-account limit for
// money-moving operations
func FinancialScope() WindowConfig {
	return WindowConfig{Window: time.Minute, MaxRequests: 5, KeyPrefix: "rate:financial"}
}

// endpointLimits holds per-endpoint overrides. Anything not listed
// falls back to defaultEndpointLimit.
var endpointLimits = map[string]WindowConfig{
	"login":              {Window: 15 * time.Minute, MaxRequests: 5},
	"register":           {Window: time.Hour, MaxRequests: 3},
	"forgot-password":    {Window: time.Hour, MaxRequests: 3},
	"transaction-create": {Window: time.Minute, MaxRequests: 10},
	"report-generate":    {Window: 5 * time.Minute, MaxRequests: 5},
}

var defaultEndpointLimit = WindowConfig{Window: time.Minute, MaxRequests: 60}

// EndpointScope returns the limit for a named endpoint
func EndpointScope(endpoint string) WindowConfig {
	cfg, ok := endpointLimits[endpoint]
	if !ok {
		cfg = defaultEndpointLimit
	}
	cfg.KeyPrefix = "rate:endpoint:" + endpoint
	return cfg
}
