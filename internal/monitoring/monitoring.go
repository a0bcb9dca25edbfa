// Package monitoring implements the Prometheus and healthcheck endpoints.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/loraedge/edge-network-server/internal/config"
)

const shutdownTimeout = 5 * time.Second

// NewRouter returns the router of the monitoring endpoints.
func NewRouter(c config.Config) http.Handler {
	r := chi.NewRouter()

	if c.Monitoring.PrometheusEndpoint {
		log.WithFields(log.Fields{
			"endpoint": "/metrics",
		}).Info("monitoring: registering Prometheus endpoint")
		r.Handle("/metrics", promhttp.Handler())
	}

	if c.Monitoring.HealthcheckEndpoint {
		log.WithFields(log.Fields{
			"endpoint": "/health",
		}).Info("monitoring: registering healthcheck endpoint")
		r.Get("/health", healthCheckHandlerFunc)
	}

	return r
}

// Run serves the monitoring endpoints until the context is cancelled. It
// returns immediately when no bind address is configured.
func Run(ctx context.Context, c config.Config) error {
	if c.Monitoring.Bind == "" {
		return nil
	}

	log.WithFields(log.Fields{
		"bind": c.Monitoring.Bind,
	}).Info("monitoring: setting up monitoring endpoint")

	server := http.Server{
		Handler: NewRouter(c),
		Addr:    c.Monitoring.Bind,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	select {
	case err := <-errChan:
		log.WithError(err).Error("monitoring: monitoring server error")
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
