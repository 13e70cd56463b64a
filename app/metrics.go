package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type appMetrics struct {
	blockHeight    prometheus.Gauge
	blockExecution prometheus.Histogram
	txs            *prometheus.CounterVec
}

func (a *App) initMetrics() {
	promautoFactory := promauto.With(a.promRegistry)
	a.metrics = &appMetrics{}
	a.metrics.blockHeight = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "valgov_block_height",
		Help: "height of the last committed block",
	})
	a.metrics.blockExecution = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "valgov_block_execution_seconds",
		Help:    "time spent executing a block",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	a.metrics.txs = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valgov_transactions_total",
			Help: "number of executed transactions by result",
		},
		[]string{"result"},
	)
}
