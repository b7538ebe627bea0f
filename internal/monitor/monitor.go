// Package monitor periodically samples circuit-breaker health and
// publishes it to the logs and the metrics registry.
package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Nicouicich/savium-backend-sub002/internal/circuitbreaker"
	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
)

// Monitor runs a scheduled sweep over the breaker registry
type Monitor struct {
	registry *circuitbreaker.Registry
	metrics  Publisher
	logger   logging.Logger
	cron     *cron.Cron
	entry    cron.EntryID
}

// Publisher receives breaker state samples. A nil Publisher is fine.
type Publisher interface {
	SetBreakerState(dependency, state string)
}

// New builds a monitor that sweeps every interval
func New(registry *circuitbreaker.Registry, metrics Publisher, logger logging.Logger, interval time.Duration) (*Monitor, error) {
	if interval < time.Second {
		return nil, fmt.Errorf("monitor interval must be at least one second, got %s", interval)
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	m := &Monitor{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		cron:     cron.New(),
	}

	entry, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), m.Sweep)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule health sweep: %w", err)
	}
	m.entry = entry

	return m, nil
}

// Start begins the scheduled sweeps
func (m *Monitor) Start() {
	m.cron.Start()
	m.logger.Info("circuit breaker monitor started")
}

// Stop halts scheduling and waits for a running sweep to finish
func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.logger.Info("circuit breaker monitor stopped")
}

// Sweep samples every breaker once. Exported so the admin surface can
// trigger an immediate sample.
func (m *Monitor) Sweep() {
	health := m.registry.GetHealthStatus()

	for name, stats := range m.registry.GetAllStats() {
		if m.metrics != nil {
			m.metrics.SetBreakerState(name, stats.State)
		}
		if stats.State != circuitbreaker.StateClosed.String() {
			m.logger.Warn("circuit breaker not closed",
				logging.String("circuit_breaker", name),
				logging.String("state", stats.State),
				logging.Int64("failures", stats.FailureCount),
				logging.Int64("timeouts", stats.TimeoutCount),
			)
		}
	}

	switch health.Status {
	case "unhealthy":
		m.logger.Error("critical dependency circuit open", nil,
			logging.Any("open_breakers", health.OpenBreakers),
		)
	case "degraded":
		m.logger.Warn("dependency health degraded",
			logging.Any("open_breakers", health.OpenBreakers),
			logging.Any("half_open_breakers", health.HalfOpenBreakers),
		)
	}
}
