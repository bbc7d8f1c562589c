package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "helios"

// ChainMetrics exposes the consensus engine's operational counters to
// prometheus. A nil *ChainMetrics is valid and records nothing, so the
// engine never has to care whether metrics are wired.
type ChainMetrics struct {
	registry *prometheus.Registry

	chainHeight    prometheus.Gauge
	activeForks    prometheus.Gauge
	utxoCount      prometheus.Gauge
	blocksAdded    prometheus.Counter
	blocksRejected *prometheus.CounterVec
	reorgs         prometheus.Counter
	reorgDepth     prometheus.Histogram
	rejectedReorgs prometheus.Counter
	processingTime prometheus.Histogram
}

// NewChainMetrics creates the metric set on a fresh registry.
func NewChainMetrics() *ChainMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &ChainMetrics{
		registry: registry,

		chainHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "height",
			Help:      "Height of the active chain tip",
		}),
		activeForks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "active_forks",
			Help:      "Number of competing chains currently tracked",
		}),
		utxoCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "utxo_count",
			Help:      "Size of the unspent output set",
		}),
		blocksAdded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "blocks_processed_total",
			Help:      "Blocks accepted onto the active chain",
		}),
		blocksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "blocks_rejected_total",
			Help:      "Blocks rejected, by reason",
		}, []string{"reason"}),
		reorgs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "reorgs_total",
			Help:      "Completed chain reorganizations",
		}),
		reorgDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "reorg_depth",
			Help:      "Blocks disconnected per reorganization",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100},
		}),
		rejectedReorgs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "rejected_reorgs_total",
			Help:      "Reorganizations refused by depth or checkpoint guards",
		}),
		processingTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chain",
			Name:      "block_processing_seconds",
			Help:      "Wall time spent processing one block",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
}

func (m *ChainMetrics) SetChainHeight(height uint64) {
	if m == nil {
		return
	}
	m.chainHeight.Set(float64(height))
}

func (m *ChainMetrics) SetActiveForks(count int) {
	if m == nil {
		return
	}
	m.activeForks.Set(float64(count))
}

func (m *ChainMetrics) SetUTXOCount(count int) {
	if m == nil {
		return
	}
	m.utxoCount.Set(float64(count))
}

func (m *ChainMetrics) RecordBlockAdded() {
	if m == nil {
		return
	}
	m.blocksAdded.Inc()
}

func (m *ChainMetrics) RecordBlockRejected(reason string) {
	if m == nil {
		return
	}
	m.blocksRejected.WithLabelValues(reason).Inc()
}

func (m *ChainMetrics) RecordReorg(disconnected, connected int) {
	if m == nil {
		return
	}
	m.reorgs.Inc()
	m.reorgDepth.Observe(float64(disconnected))
}

func (m *ChainMetrics) RecordRejectedReorg() {
	if m == nil {
		return
	}
	m.rejectedReorgs.Inc()
}

func (m *ChainMetrics) ObserveBlockProcessing(d time.Duration) {
	if m == nil {
		return
	}
	m.processingTime.Observe(d.Seconds())
}

// Registry exposes the underlying registry for the HTTP handler.
func (m *ChainMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// MetricsServer serves the /metrics endpoint.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer builds the metrics HTTP server. A nil metric set
// serves an empty registry.
func NewMetricsServer(addr string, m *ChainMetrics, logger *zap.Logger) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := m.Registry()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger.Named("metrics"),
	}
}

// Start serves until the listener fails or Stop is called.
func (s *MetricsServer) Start() error {
	s.logger.Info("Metrics server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *MetricsServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
