// Package admission decides whether inbound requests are accepted
// before they reach the domain services. It orchestrates ban checks,
// whitelisting and the concurrent rate-limit checks, and emits the
// rate-limit headers and 429 envelope.
package admission

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
	"github.com/Nicouicich/savium-backend-sub002/internal/ratelimit"
)

// defaultBanRetryAfter is used when a ban record carries no usable
// deadline.
const defaultBanRetryAfter = 900

// Request is the admission view of one inbound request
type Request struct {
	UserID    string
	IPAddress string
	AccountID string
	Endpoint  string
	Policy    Policy
	// HTTP is the underlying request, available to SkipIf predicates.
	// May be nil for non-HTTP callers.
	HTTP *http.Request
}

// RejectionBody is the JSON envelope for a 429
type RejectionBody struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
	Remaining  int    `json:"remaining"`
}

// Decision is the outcome of CanActivate
type Decision struct {
	Allowed bool
	Status  int
	Headers map[string]string
	Body    *RejectionBody
}

// Recorder receives admission outcomes for instrumentation. A nil
// Recorder is fine.
type Recorder interface {
	Admission(endpoint string, allowed bool)
	Ban(endpoint string)
}

// Guard orchestrates admission control. It owns no durable state; the
// counter store holds everything that must survive the request.
type Guard struct {
	engine    *ratelimit.Engine
	detector  *ratelimit.Detector
	whitelist *ratelimit.Whitelist
	recorder  Recorder
	logger    logging.Logger
	now       func() time.Time
}

// NewGuard wires an admission guard from its collaborators
func NewGuard(engine *ratelimit.Engine, detector *ratelimit.Detector, whitelist *ratelimit.Whitelist, recorder Recorder, logger logging.Logger) *Guard {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Guard{
		engine:    engine,
		detector:  detector,
		whitelist: whitelist,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
	}
}

// namedCheck pairs an evaluation-order slot with its scope config
type namedCheck struct {
	name       string
	identifier string
	config     ratelimit.WindowConfig
}

// CanActivate runs the admission state machine for one request:
// skip predicate, ban check, whitelist, then the concurrent rate-limit
// checks. The verdict is the first failing check in evaluation order
// (burst, ip, user-or-financial, endpoint), not the most restrictive
// one. Any panic below fails open.
func (g *Guard) CanActivate(ctx context.Context, req *Request) (decision *Decision) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("admission check panicked, allowing request",
				fmt.Errorf("%v", r),
				logging.String("endpoint", req.Endpoint),
			)
			decision = &Decision{Allowed: true}
		}
	}()

	policy := req.Policy

	if policy.SkipIf != nil && req.HTTP != nil && policy.SkipIf(req.HTTP) {
		return &Decision{Allowed: true}
	}

	identifier := req.UserID
	if identifier == "" {
		identifier = req.IPAddress
	}
	endpoint := req.Endpoint
	if policy.Endpoint != "" {
		endpoint = policy.Endpoint
	}

	if status := g.detector.CheckSuspiciousActivity(ctx, identifier); status.Banned {
		return g.rejectBanned(endpoint, status)
	}

	if req.UserID != "" && g.whitelist.Contains(ctx, req.UserID) {
		return &Decision{Allowed: true}
	}

	checks := g.buildChecks(req, policy, identifier, endpoint)
	results := g.runChecks(ctx, checks)

	for i, result := range results {
		if !result.Allowed {
			return g.rejectLimited(ctx, identifier, endpoint, checks[i].name, result)
		}
	}

	if g.recorder != nil {
		g.recorder.Admission(endpoint, true)
	}
	return &Decision{
		Allowed: true,
		Headers: limitHeaders(results[0]),
	}
}

// buildChecks assembles the ordered check list. The order is the
// tie-break: earlier entries win the verdict when several fail at once.
func (g *Guard) buildChecks(req *Request, policy Policy, identifier, endpoint string) []namedCheck {
	checks := make([]namedCheck, 0, 4)

	if policy.Burst {
		checks = append(checks, namedCheck{"burst", identifier, ratelimit.BurstScope()})
	}

	checks = append(checks, namedCheck{"ip", req.IPAddress, ratelimit.IPScope()})

	if req.UserID != "" {
		switch {
		case policy.Financial:
			financialID := req.UserID
			if req.AccountID != "" {
				financialID += ":" + req.AccountID
			}
			checks = append(checks, namedCheck{"financial", financialID, ratelimit.FinancialScope()})
		case policy.RequireAuth:
			checks = append(checks, namedCheck{"user", req.UserID, ratelimit.UserScope()})
		}
	}

	checks = append(checks, namedCheck{"endpoint", identifier, ratelimit.EndpointScope(endpoint)})
	return checks
}

// runChecks fans the checks out concurrently; each one is an
// independent store round trip.
func (g *Guard) runChecks(ctx context.Context, checks []namedCheck) []ratelimit.Result {
	results := make([]ratelimit.Result, len(checks))

	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check namedCheck) {
			defer wg.Done()
			results[i] = g.engine.Check(ctx, check.identifier, check.config)
		}(i, check)
	}
	wg.Wait()

	return results
}

func (g *Guard) rejectBanned(endpoint string, status ratelimit.BanStatus) *Decision {
	retryAfter := defaultBanRetryAfter
	if !status.ExpiresAt.IsZero() {
		retryAfter = ceilSeconds(status.ExpiresAt.Sub(g.now()))
	}

	if g.recorder != nil {
		g.recorder.Admission(endpoint, false)
	}

	return &Decision{
		Allowed: false,
		Status:  429,
		Headers: map[string]string{"Retry-After": strconv.Itoa(retryAfter)},
		Body: &RejectionBody{
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    "You are temporarily banned due to suspicious activity",
			RetryAfter: retryAfter,
		},
	}
}

func (g *Guard) rejectLimited(ctx context.Context, identifier, endpoint, scope string, result ratelimit.Result) *Decision {
	if ban := g.detector.DetectAbuse(ctx, identifier, endpoint); ban > 0 && g.recorder != nil {
		g.recorder.Ban(endpoint)
	}

	retryAfter := ceilSeconds(result.ResetTime.Sub(g.now()))

	headers := limitHeaders(result)
	headers["Retry-After"] = strconv.Itoa(retryAfter)

	g.logger.Warn("request rejected by rate limit",
		logging.String("identifier", identifier),
		logging.String("endpoint", endpoint),
		logging.String("scope", scope),
		logging.Int("limit", result.Limit),
	)

	if g.recorder != nil {
		g.recorder.Admission(endpoint, false)
	}

	return &Decision{
		Allowed: false,
		Status:  429,
		Headers: headers,
		Body: &RejectionBody{
			Code:       "RATE_LIMIT_EXCEEDED",
			Message:    fmt.Sprintf("Too many requests for %s, please slow down", endpoint),
			RetryAfter: retryAfter,
			Remaining:  result.Remaining,
		},
	}
}

// limitHeaders renders the standard rate-limit headers for a result
func limitHeaders(result ratelimit.Result) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     strconv.Itoa(result.Limit),
		"X-RateLimit-Remaining": strconv.Itoa(result.Remaining),
		"X-RateLimit-Reset":     strconv.FormatInt(result.ResetTime.Unix(), 10),
	}
}

// ceilSeconds rounds a duration up to whole seconds, never below one
func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
