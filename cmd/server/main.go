// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/damon-houk/billing-rate-provider/internal/application/service"
	"github.com/damon-houk/billing-rate-provider/internal/config"
	"github.com/damon-houk/billing-rate-provider/internal/domain/entity"
	"github.com/damon-houk/billing-rate-provider/internal/domain/repository"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/api"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/cache"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/db"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/handler"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/logger"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/metrics"
	"github.com/damon-houk/billing-rate-provider/internal/infrastructure/middleware"
	"github.com/dgraph-io/badger/v3"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.MustLoad()

	appLogger := logger.NewJSONLogger(os.Stdout, logger.ParseLevel(cfg.LogLevel)).
		WithField("env", cfg.Env)
	logger.SetDefaultLogger(appLogger)

	appLogger.Info("Starting billing rate provider", map[string]interface{}{
		"http_addr":        cfg.HTTPAddr,
		"crypto_url":       cfg.Rates.CryptoPricesURL,
		"fiat_url":         cfg.Rates.ExchangeRatesURL,
		"max_retries":      cfg.Rates.MaxRetries,
		"base_delay":       cfg.Rates.BaseDelay.String(),
		"refresh_interval": cfg.Rates.RefreshInterval.String(),
	})

	var history repository.CycleRepository
	if cfg.Storage.HistoryEnabled {
		if err := os.MkdirAll(cfg.Storage.DBPath, 0755); err != nil {
			appLogger.Fatal("Failed to create database directory", map[string]interface{}{
				"path":  cfg.Storage.DBPath,
				"error": err.Error(),
			})
		}

		badgerOpts := badger.DefaultOptions(cfg.Storage.DBPath)
		badgerOpts.Logger = nil // Disable Badger's default logger

		badgerDB, err := badger.Open(badgerOpts)
		if err != nil {
			appLogger.Fatal("Failed to open database", map[string]interface{}{
				"path":  cfg.Storage.DBPath,
				"error": err.Error(),
			})
		}
		defer func() {
			if err := badgerDB.Close(); err != nil {
				appLogger.Error("Error closing BadgerDB", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}()

		history = db.NewBadgerCycleRepository(badgerDB)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rateMetrics := metrics.NewRateMetrics(registry)
	httpMetrics := middleware.NewHTTPMetrics(registry)

	httpClient := &http.Client{Timeout: cfg.Rates.RequestTimeout}
	policy := service.RetryPolicy{
		MaxRetries: cfg.Rates.MaxRetries,
		BaseDelay:  cfg.Rates.BaseDelay,
	}
	states := cache.NewStateCache()

	newProvider := func(domain entity.Domain, endpoint string) *service.RateProvider {
		fetcher, err := service.NewRateFetcher(domain.Name, policy, appLogger,
			service.WithSupportedSymbols(domain.Symbols),
			service.WithFetcherMetrics(rateMetrics),
		)
		if err != nil {
			appLogger.Fatal("Failed to create rate fetcher", map[string]interface{}{
				"domain": domain.Name,
				"error":  err.Error(),
			})
		}
		client := api.NewRateAPIClient(endpoint, domain, httpClient, appLogger)
		return service.NewRateProvider(domain, client, fetcher, service.ProviderDeps{
			States:  states,
			History: history,
			Logger:  appLogger,
			Metrics: rateMetrics,
		})
	}

	cryptoProvider := newProvider(entity.CryptoDomain, cfg.Rates.CryptoPricesURL)
	fiatProvider := newProvider(entity.FiatDomain, cfg.Rates.ExchangeRatesURL)

	handles := []*service.RefreshHandle{
		cryptoProvider.StartPeriodicRefresh(cfg.Rates.RefreshInterval),
		fiatProvider.StartPeriodicRefresh(cfg.Rates.RefreshInterval),
	}

	rateHandler := handler.NewRateHandler([]*service.RateProvider{cryptoProvider, fiatProvider}, history, appLogger)
	quoteService := service.NewPaymentQuoteService(fiatProvider, cryptoProvider, appLogger)
	quoteHandler := handler.NewQuoteHandler(quoteService, appLogger)

	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(appLogger))
	router.Use(middleware.RecoverMiddleware(appLogger))
	router.Use(httpMetrics.Middleware)
	rateHandler.RegisterRoutes(router)
	quoteHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// a manual refresh can spend the whole retry schedule
		WriteTimeout: 2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Server listening", map[string]interface{}{
			"addr": cfg.HTTPAddr,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Shutdown signal received", nil)
	case err := <-serverErr:
		if err != nil {
			appLogger.Error("Server failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	for _, h := range handles {
		h.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Graceful shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	for _, h := range handles {
		select {
		case <-h.Done():
		case <-shutdownCtx.Done():
		}
	}

	appLogger.Info("Server stopped", nil)
	if l, ok := appLogger.(interface{ Sync() error }); ok {
		_ = l.Sync()
	}
}
