package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/Nicouicich/savium-backend-sub002/internal/admission"
	"github.com/Nicouicich/savium-backend-sub002/internal/circuitbreaker"
	"github.com/Nicouicich/savium-backend-sub002/internal/common/logging"
	"github.com/Nicouicich/savium-backend-sub002/internal/config"
	"github.com/Nicouicich/savium-backend-sub002/internal/handlers"
	"github.com/Nicouicich/savium-backend-sub002/internal/identity"
	"github.com/Nicouicich/savium-backend-sub002/internal/metrics"
	"github.com/Nicouicich/savium-backend-sub002/internal/middleware"
	"github.com/Nicouicich/savium-backend-sub002/internal/monitor"
	"github.com/Nicouicich/savium-backend-sub002/internal/ratelimit"
	"github.com/Nicouicich/savium-backend-sub002/internal/server"
	"github.com/Nicouicich/savium-backend-sub002/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ParseLevel(cfg.LogLevel)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)
	defer logging.MustSync()

	redisDB, _ := strconv.Atoi(cfg.RedisDB)
	poolSize, _ := strconv.Atoi(cfg.RedisPoolSize)

	storeClient, err := store.NewClient(&store.Config{
		Address:  cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       redisDB,
		PoolSize: poolSize,
	})
	if err != nil {
		logger.Error("failed to connect to redis", err,
			logging.String("address", cfg.RedisAddress),
		)
		os.Exit(1)
	}
	defer storeClient.Close()

	metricsRegistry := metrics.NewRegistry()

	engine := ratelimit.NewEngine(storeClient, logger, cfg.RateLimitEnabled)
	detector := ratelimit.NewDetector(storeClient, logger)
	whitelist := ratelimit.NewWhitelist(storeClient, logger)

	registry := circuitbreaker.NewRegistry(logger)
	registry.OnStateChange(func(name string, from, to circuitbreaker.State) {
		metricsRegistry.SetBreakerState(name, to.String())
	})
	registry.OnFailure(metricsRegistry.BreakerFailure)

	guard := admission.NewGuard(engine, detector, whitelist, metricsRegistry, logger)
	extractor := identity.NewExtractor(cfg.JWTSecret)

	healthMonitor, err := monitor.New(registry, metricsRegistry, logger, cfg.MonitorEvery())
	if err != nil {
		logger.Error("failed to build health monitor", err)
		os.Exit(1)
	}
	healthMonitor.Start()
	defer healthMonitor.Stop()

	router := mux.NewRouter()
	router.Use(middleware.Logging)

	// health, metrics and the token-guarded admin surface sit outside
	// admission control
	handlers.New(registry, storeClient, engine, detector, whitelist, cfg.AdminToken, logger).Register(router)
	router.Handle("/metrics", metricsRegistry.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(guard.Middleware(extractor, policyTable(), admission.Policy{}))
	registerProtectedRoutes(api)

	srv := server.New(router, cfg.Port)
	serverErrs := srv.Start()
	logger.Info("server started",
		logging.String("port", cfg.Port),
		logging.Bool("rate_limit_enabled", cfg.RateLimitEnabled),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrs:
		logger.Error("server failed", err)
	case sig := <-quit:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", err)
	}
	logger.Info("server exited")
}

// policyTable declares the admission policy for each protected route.
// Routes not listed fall back to the default policy, which still runs
// the IP and endpoint checks.
func policyTable() admission.PolicyTable {
	return admission.PolicyTable{
		"POST /api/auth/login":          {Endpoint: "login", Burst: true},
		"POST /api/auth/register":       {Endpoint: "register", Burst: true},
		"POST /api/auth/password-reset": {Endpoint: "password-reset"},

		"GET /api/transactions":  {Endpoint: "transactions", RequireAuth: true},
		"POST /api/transactions": {Endpoint: "transactions", RequireAuth: true, Burst: true},

		"POST /api/accounts/{accountId}/transfers": {
			Endpoint:    "transfer-funds",
			RequireAuth: true,
			Financial:   true,
			Burst:       true,
		},
		"POST /api/accounts/{accountId}/payments": {
			Endpoint:    "payments",
			RequireAuth: true,
			Financial:   true,
			Burst:       true,
		},

		"POST /api/reports": {Endpoint: "generate-report", RequireAuth: true},
	}
}

// registerProtectedRoutes mounts the domain routes. The handlers here
// are placeholders for the finance backend this layer fronts; the
// admission middleware and breaker registry are the product.
func registerProtectedRoutes(api *mux.Router) {
	noop := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotImplemented)
	}

	api.HandleFunc("/auth/login", noop).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", noop).Methods(http.MethodPost)
	api.HandleFunc("/auth/password-reset", noop).Methods(http.MethodPost)
	api.HandleFunc("/transactions", noop).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/accounts/{accountId}/transfers", noop).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{accountId}/payments", noop).Methods(http.MethodPost)
	api.HandleFunc("/reports", noop).Methods(http.MethodPost)
}
