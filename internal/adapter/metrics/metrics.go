// Package metrics defines the Prometheus collectors of the dashboard
// service. Every group registers on an explicit registry so tests can build
// isolated ones.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "simdash"

// NewRegistry returns a registry carrying the Go runtime, process and build
// info collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		collectors.NewBuildInfoCollector(),
	)
	return reg
}

// Handler serves reg and counts its own scrapes on it. A collector that fails
// is logged and skipped rather than failing the whole scrape.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.InstrumentMetricHandler(reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		ErrorLog:      slogErrorLog{},
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      reg,
	}))
}

type slogErrorLog struct{}

func (slogErrorLog) Println(v ...any) {
	slog.Warn("Metrics collection error", "error", v)
}
