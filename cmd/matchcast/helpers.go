package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"matchcast/internal/dataset"
	"matchcast/internal/engine"
	"matchcast/internal/features"
	"matchcast/internal/metrics"
	"matchcast/internal/store"
)

// Registering the same instruments twice on the default registry panics, so
// they are created once per process no matter how many commands run.
var (
	metricsOnce   sync.Once
	engineMetrics *metrics.Metrics
)

func sharedMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		engineMetrics = metrics.New()
	})
	return engineMetrics
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newBuilder constructs the feature builder from the loaded settings.
func newBuilder() *features.Builder {
	return features.NewBuilder(settings.FormWindow, settings.MinMatches, settings.FormMatches)
}

// loadTable builds a feature table from exactly one of a raw results file
// or a pre-built feature table file.
func loadTable(matchesPath, tablePath string) (*dataset.Table, error) {
	switch {
	case matchesPath != "" && tablePath != "":
		return nil, fmt.Errorf("--matches and --table are mutually exclusive")
	case matchesPath != "":
		results, err := features.ReadResultsCSV(matchesPath)
		if err != nil {
			return nil, err
		}
		return newBuilder().Build(results)
	case tablePath != "":
		return dataset.ReadTableCSV(tablePath)
	default:
		return nil, fmt.Errorf("either --matches or --table is required")
	}
}

// openEngine opens the store and builds a store-backed, instrumented engine.
func openEngine() (*engine.Engine, *store.Store, error) {
	st, err := store.New(settings.DataPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	eng, err := engine.NewWithStore(settings.Engine, st, metrics.NewSink(sharedMetrics()))
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	return eng, st, nil
}

// serveMetrics exposes /metrics and /health while a long command runs. The
// server stops when the command's context is cancelled.
func serveMetrics(ctx context.Context) {
	if settings.MetricsPort == 0 {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown metrics server")
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}
