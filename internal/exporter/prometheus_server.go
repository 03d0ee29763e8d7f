package exporter

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// createHTTPServer creates an HTTP server for Prometheus metrics. Scrapes
// are counted by the promhttp_metric_handler_* metrics of the registry.
func createHTTPServer(
	addr string,
	path string,
	promRegistry *prometheus.Registry,
	logger *slog.Logger,
) *http.Server {
	mux := http.NewServeMux()

	handler := promhttp.InstrumentMetricHandler(promRegistry, promhttp.HandlerFor(
		promRegistry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		},
	))
	mux.Handle(path, loggingMiddleware(handler, logger))

	return &http.Server{
		Addr:    addr,
		Handler: mux,
	}
}

// loggingMiddleware logs scrape requests when debug logging is enabled
func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("prometheus scrape", "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}
