// Package metrics defines the Prometheus instruments exposed on
// /metrics. Everything registers against the default registry via
// promauto, so importing a package that uses a metric is enough to
// expose it.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequests counts API requests by path and status class.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "citescape_http_requests_total",
		Help: "Total HTTP requests served, by path and status code.",
	}, []string{"path", "code"})

	// HTTPDuration observes request latency by path.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "citescape_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	// LoadCycles counts finished viewport load cycles, cancelled ones
	// included.
	LoadCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citescape_load_cycles_total",
		Help: "Viewport load cycles finished (including cancelled).",
	})

	// LoadPages counts node pages fetched from the query layer.
	LoadPages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citescape_load_pages_total",
		Help: "Node pages fetched and merged.",
	})

	// EnrichCycles counts dwell-triggered extra-edge fetches.
	EnrichCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citescape_enrich_cycles_total",
		Help: "Dwell enrichment cycles started.",
	})

	// NodesEvicted counts nodes dropped by capacity or degree eviction.
	NodesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citescape_nodes_evicted_total",
		Help: "Nodes evicted from the in-memory graph.",
	})

	// GraphNodes is the current in-memory node count.
	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "citescape_graph_nodes",
		Help: "Nodes currently materialized in memory.",
	})

	// GraphEdges is the current edge count by kind (backbone, extra).
	GraphEdges = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "citescape_graph_edges",
		Help: "Edges currently materialized, by kind.",
	}, []string{"kind"})

	// RegionCacheHitRatio is the lifetime hit ratio of the region cache.
	RegionCacheHitRatio = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "citescape_region_cache_hit_ratio",
		Help: "Region cache hits over total lookups.",
	})

	// WSClients is the number of connected stream clients.
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "citescape_ws_clients",
		Help: "Connected WebSocket stream clients.",
	})

	// ClientErrors counts error reports posted by the frontend.
	ClientErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "citescape_client_errors_total",
		Help: "Frontend error reports received.",
	})
)
