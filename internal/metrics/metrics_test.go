package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nicouicich/savium-backend-sub002/internal/circuitbreaker"
	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
)

func TestRegistry_AdmissionCounters(t *testing.T) {
	reg := NewRegistry()

	reg.Admission("login", true)
	reg.Admission("login", true)
	reg.Admission("login", false)

	assert.Equal(t, float64(2), testutil.ToFloat64(reg.AdmissionAllowed.WithLabelValues("login")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.AdmissionDenied.WithLabelValues("login")))
}

func TestRegistry_BreakerStateEncoding(t *testing.T) {
	reg := NewRegistry()

	reg.SetBreakerState("database", circuitbreaker.StateClosed.String())
	assert.Equal(t, float64(0), testutil.ToFloat64(reg.BreakerState.WithLabelValues("database")))

	reg.SetBreakerState("database", circuitbreaker.StateHalfOpen.String())
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.BreakerState.WithLabelValues("database")))

	reg.SetBreakerState("database", circuitbreaker.StateOpen.String())
	assert.Equal(t, float64(2), testutil.ToFloat64(reg.BreakerState.WithLabelValues("database")))
}

func TestRegistry_BreakerFailureCountsFailedExecutes(t *testing.T) {
	reg := NewRegistry()

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel, Output: io.Discard})
	require.NoError(t, err)

	breakers := circuitbreaker.NewRegistry(logger)
	breakers.OnFailure(reg.BreakerFailure)

	_, err = breakers.Execute(context.Background(), "external_api", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("upstream down")
	}, nil)
	require.Error(t, err)

	// the failure hook is dispatched on its own goroutine
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(reg.BreakerFailures.WithLabelValues("external_api")) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRegistry_HandlerServesText(t *testing.T) {
	reg := NewRegistry()
	reg.Ban("transactions")

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "savium_admission_bans_total")
}
