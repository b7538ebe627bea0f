package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
)

// Per-dependency default configurations. These are tuning, not separate
// code paths: the database gets a high threshold and quick retries, the
// AI service trips after two failures and cools off for five minutes.
var dependencyDefaults = map[string]Config{
	"database": {
		FailureThreshold: 10,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 3,
		Timeout:          5 * time.Second,
	},
	"external_api": {
		FailureThreshold: 3,
		RecoveryTimeout:  120 * time.Second,
		SuccessThreshold: 3,
		Timeout:          10 * time.Second,
	},
	"ai_service": {
		FailureThreshold: 2,
		RecoveryTimeout:  300 * time.Second,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
	},
	"email": {
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		Timeout:          15 * time.Second,
	},
	"messaging": {
		FailureThreshold: 3,
		RecoveryTimeout:  180 * time.Second,
		SuccessThreshold: 3,
		Timeout:          10 * time.Second,
	},
}

// criticalDependencies are the breakers whose open state makes the
// whole service unhealthy rather than merely degraded.
var criticalDependencies = map[string]bool{
	"database":   true,
	"ai_service": true,
}

// Registry owns the named breakers for a process. It is injected into
// collaborators rather than being a package-level singleton, and its
// state is per instance: a horizontally scaled deployment runs
// independent breakers on every instance.
type Registry struct {
	breakers  map[string]*Breaker
	logger    logging.Logger
	onChange  func(name string, from, to State)
	onFailure func(name string)
	mu        sync.RWMutex
}

// NewRegistry creates an empty breaker registry
func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// OnStateChange registers an extra callback fired on every breaker
// transition, in addition to the registry's own logging. Set it before
// the first GetOrCreate; later breakers pick it up, existing ones keep
// what they were built with.
func (r *Registry) OnStateChange(fn func(name string, from, to State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// OnFailure registers a callback fired on every counted operation
// failure across all breakers. Like OnStateChange, set it before the
// first GetOrCreate.
func (r *Registry) OnFailure(fn func(name string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onFailure = fn
}

// GetOrCreate returns the breaker for name, creating it lazily with the
// dependency's defaults merged with the optional override. Unknown
// names get the generic external-API defaults.
func (r *Registry) GetOrCreate(name string, override *Config) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, exists := r.breakers[name]; exists {
		return breaker
	}

	config := configFor(name, override)
	breaker := New(name, config, r.logger)

	extra := r.onChange
	breaker.OnStateChange(func(name string, from, to State) {
		r.logger.Warn("circuit breaker state change",
			logging.String("circuit_breaker", name),
			logging.String("from_state", from.String()),
			logging.String("to_state", to.String()),
		)
		if extra != nil {
			extra(name, from, to)
		}
	})
	if r.onFailure != nil {
		breaker.OnFailure(r.onFailure)
	}

	r.breakers[name] = breaker
	return breaker
}

// Get retrieves an existing breaker by name
func (r *Registry) Get(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breaker, exists := r.breakers[name]
	return breaker, exists
}

// Execute routes a call through the named breaker, creating it with
// defaults on first use.
func (r *Registry) Execute(ctx context.Context, name string, op Operation, fallback Fallback) (interface{}, error) {
	return r.GetOrCreate(name, nil).Execute(ctx, op, fallback)
}

// GetStats returns a snapshot for one breaker
func (r *Registry) GetStats(name string) (Stats, bool) {
	breaker, exists := r.Get(name)
	if !exists {
		return Stats{}, false
	}
	return breaker.Stats(), true
}

// GetAllStats returns snapshots for every breaker, keyed by name
func (r *Registry) GetAllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for name, breaker := range r.breakers {
		stats[name] = breaker.Stats()
	}
	return stats
}

// ResetCircuitBreaker forces a named breaker closed with zeroed
// counters. Returns false if no such breaker exists.
func (r *Registry) ResetCircuitBreaker(name string) bool {
	breaker, exists := r.Get(name)
	if !exists {
		return false
	}

	breaker.Reset()
	r.logger.Info("circuit breaker reset", logging.String("circuit_breaker", name))
	return true
}

// ResetAll forces every breaker closed
func (r *Registry) ResetAll() {
	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, breaker := range r.breakers {
		breakers = append(breakers, breaker)
	}
	r.mu.RUnlock()

	for _, breaker := range breakers {
		breaker.Reset()
	}
	r.logger.Info("all circuit breakers reset", logging.Int("count", len(breakers)))
}

// ForceOpenCircuitBreaker trips a named breaker open with a fresh retry
// deadline. Maintenance hook; creates the breaker if needed so a
// dependency can be fenced off before its first call.
func (r *Registry) ForceOpenCircuitBreaker(name string) {
	breaker := r.GetOrCreate(name, nil)
	breaker.ForceOpen()
	r.logger.Warn("circuit breaker forced open", logging.String("circuit_breaker", name))
}

// HealthStatus aggregates breaker states for the health endpoint
type HealthStatus struct {
	Status           string   `json:"status"`
	OpenBreakers     []string `json:"open_breakers,omitempty"`
	HalfOpenBreakers []string `json:"half_open_breakers,omitempty"`
	TotalBreakers    int      `json:"total_breakers"`
}

// GetHealthStatus reports unhealthy when a critical dependency's
// breaker is open, degraded when any breaker is open or half-open, and
// healthy otherwise.
func (r *Registry) GetHealthStatus() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HealthStatus{
		Status:        "healthy",
		TotalBreakers: len(r.breakers),
	}

	for name, breaker := range r.breakers {
		switch breaker.State() {
		case StateOpen:
			status.OpenBreakers = append(status.OpenBreakers, name)
			if criticalDependencies[name] {
				status.Status = "unhealthy"
			} else if status.Status != "unhealthy" {
				status.Status = "degraded"
			}
		case StateHalfOpen:
			status.HalfOpenBreakers = append(status.HalfOpenBreakers, name)
			if status.Status == "healthy" {
				status.Status = "degraded"
			}
		}
	}

	return status
}

// ExecuteWithRetry wraps Execute with exponential backoff: the first
// retry waits baseDelay, then the delay doubles per attempt. maxRetries
// is the number of retries after the initial attempt; the last error is
// returned once they are exhausted.
func (r *Registry) ExecuteWithRetry(ctx context.Context, name string, op Operation, maxRetries int, baseDelay time.Duration) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		value, err := r.Execute(ctx, name, op, nil)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}

	return nil, lastErr
}

// BulkResult is the outcome of one operation in an ExecuteBulk batch
type BulkResult struct {
	Value interface{}
	Err   error
}

// ExecuteBulk runs operations through the named breaker in batches of
// at most concurrency, collecting per-operation errors instead of
// aborting the batch. Results keep the input order.
func (r *Registry) ExecuteBulk(ctx context.Context, name string, ops []Operation, concurrency int) []BulkResult {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]BulkResult, len(ops))

	for start := 0; start < len(ops); start += concurrency {
		end := start + concurrency
		if end > len(ops) {
			end = len(ops)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				value, err := r.Execute(ctx, name, ops[i], nil)
				results[i] = BulkResult{Value: value, Err: err}
			}(i)
		}
		wg.Wait()
	}

	return results
}

// configFor merges a dependency's defaults with an optional override;
// zero-valued override fields keep the default.
func configFor(name string, override *Config) Config {
	config, ok := dependencyDefaults[name]
	if !ok {
		config = DefaultConfig()
	}

	if override != nil {
		if override.FailureThreshold > 0 {
			config.FailureThreshold = override.FailureThreshold
		}
		if override.RecoveryTimeout > 0 {
			config.RecoveryTimeout = override.RecoveryTimeout
		}
		if override.SuccessThreshold > 0 {
			config.SuccessThreshold = override.SuccessThreshold
		}
		if override.Timeout > 0 {
			config.Timeout = override.Timeout
		}
	}

	return config
}
