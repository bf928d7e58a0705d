package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voyagekit/travel-concierge/internal/agent"
	"github.com/voyagekit/travel-concierge/internal/cache"
	"github.com/voyagekit/travel-concierge/internal/circuitbreaker"
	"github.com/voyagekit/travel-concierge/internal/client"
	"github.com/voyagekit/travel-concierge/internal/config"
	httphandler "github.com/voyagekit/travel-concierge/internal/http"
	"github.com/voyagekit/travel-concierge/internal/lifecycle"
	"github.com/voyagekit/travel-concierge/internal/llm"
	"github.com/voyagekit/travel-concierge/internal/observability"
	"github.com/voyagekit/travel-concierge/internal/service"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	llmClient, err := llm.NewOpenAIClientWithRetry(
		cfg.OpenAIAPIKey,
		cfg.OpenAIBaseURL,
		cfg.OpenAIModel,
		cfg.OpenAITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("llm client", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		llmClient.SetCircuitBreaker(newBreaker(cfg, "llm_api"))
		observability.SetCircuitBreakerStateGauge("llm_api", 0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var cacheSvc cache.Cache
	var cachePing func() error
	var cacheClose func() error
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.StaleCacheTTL)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		cacheSvc = mc
		cachePing = mc.Ping
		cacheClose = mc.Close
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisDB, cfg.StaleCacheTTL)
		cacheSvc = rc
		cachePing = rc.Ping
		cacheClose = rc.Close
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		cacheSvc = cache.NewInMemoryCache(cfg.StaleCacheTTL)
		logger.Info("cache backend: in_memory")
	}

	weatherClient := client.NewOpenMeteoClient(cfg.GeocodingAPIURL, cfg.ForecastAPIURL, cfg.UpstreamTimeout)
	exchangeClient := client.NewExchangeRateHostClient(cfg.ExchangeAPIURL, cfg.UpstreamTimeout)
	geoipClient := client.NewCachingGeoIP(
		client.NewIPAPIClient(cfg.GeoIPAPIURL, cfg.UpstreamTimeout),
		cacheSvc, cfg.GeoIPTTL, logger)

	forecastService := service.NewForecastService(weatherClient, cacheSvc, cfg.ForecastTTL, cfg.StaleCacheTTL, cfg.CoalesceEnabled, cfg.CoalesceTimeout)
	exchangeService := service.NewExchangeService(exchangeClient, cacheSvc, cfg.ExchangeTTL, cfg.StaleCacheTTL)

	agents := []agent.Agent{
		agent.NewWeatherAgent(llmClient, forecastService, cfg.MaxIterations, logger),
		agent.NewExchangeAgent(llmClient, exchangeService, geoipClient, cfg.MaxIterations, logger),
		agent.NewFormAgent(llmClient, logger),
	}
	if cfg.FlightSearchEnabled() {
		flightsClient, err := client.NewAmadeusClient(cfg.AmadeusAPIKey, cfg.AmadeusAPISecret, cfg.AmadeusBaseURL, cfg.UpstreamTimeout)
		if err != nil {
			logger.Fatal("flights client", zap.Error(err))
		}
		if cfg.CircuitBreakerEnabled {
			flightsClient.SetCircuitBreaker(newBreaker(cfg, "flights_api"))
			observability.SetCircuitBreakerStateGauge("flights_api", 0)
		}
		agents = append(agents, agent.NewFlightAgent(llmClient, flightsClient, geoipClient, cfg.MaxIterations, logger))
		logger.Info("flight search enabled")
	} else {
		logger.Info("flight search disabled; Amadeus credentials not set")
	}

	receptionist := agent.NewReceptionist(llmClient, agents, cfg.RecursionLimit, logger)

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		RateLimitBurst:         cfg.RateLimitBurst,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
		StartTime:              time.Now(),
		CachePing:              cachePing,
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(receptionist, llmClient, healthConfig, logger)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	if cfg.WarmCache && len(cfg.PopularDestinations) > 0 {
		warmer := cache.NewCacheWarmer(forecastService, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.PopularDestinations); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), cfg.PopularDestinations, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.Use(httphandler.CORSMiddleware(cfg.AllowedOrigins, cfg.AllowedMethods, cfg.AllowedHeaders, true))
	router.HandleFunc("/v1/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	askRouter := router.PathPrefix("/v1/ask").Subrouter()
	askRouter.Use(httphandler.RateLimitMiddleware(limiter))
	askRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	askRouter.HandleFunc("", handler.PostAsk).Methods("POST", "OPTIONS")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if cacheClose != nil {
		if err := cacheClose(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newBreaker builds a circuit breaker for the named upstream with state
// transitions exported as metrics.
func newBreaker(cfg *config.Config, component string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
			observability.SetCircuitBreakerStateGauge(component, observability.CircuitBreakerStateValue(int(to)))
		},
	})
}
