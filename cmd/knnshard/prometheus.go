package main

import (
	"strconv"
	"time"

	"github.com/hupe1980/knnshard/partition"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promCollector implements knnshard.MetricsCollector on Prometheus metrics.
type promCollector struct {
	queryLatency  *prometheus.HistogramVec
	writes        *prometheus.CounterVec
	records       *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	lockWait      prometheus.Histogram
	lockHold      prometheus.Histogram
	workers       *prometheus.CounterVec
	workerLatency *prometheus.HistogramVec
	words         prometheus.Counter
}

func newPromCollector(reg prometheus.Registerer) *promCollector {
	f := promauto.With(reg)
	return &promCollector{
		queryLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "knnshard_query_latency_seconds",
			Help:    "Latency of neighbor queries",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"status"}),
		writes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "knnshard_shard_appends_total",
			Help: "Locked appends to shard files",
		}, []string{"shard", "status"}),
		records: f.NewCounterVec(prometheus.CounterOpts{
			Name: "knnshard_shard_records_total",
			Help: "Records appended to shard files",
		}, []string{"shard"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "knnshard_shard_bytes_total",
			Help: "Bytes appended to shard files",
		}, []string{"shard"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "knnshard_lock_wait_seconds",
			Help:    "Time spent waiting for a shard lock",
			Buckets: prometheus.DefBuckets,
		}),
		lockHold: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "knnshard_lock_hold_seconds",
			Help:    "Time a shard lock was held",
			Buckets: prometheus.DefBuckets,
		}),
		workers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "knnshard_workers_total",
			Help: "Workers finished",
		}, []string{"mode", "status"}),
		workerLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "knnshard_worker_duration_seconds",
			Help:    "Wall time of a worker",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		words: f.NewCounter(prometheus.CounterOpts{
			Name: "knnshard_words_total",
			Help: "Words whose records were written",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *promCollector) RecordQuery(d time.Duration, err error) {
	c.queryLatency.WithLabelValues(status(err)).Observe(d.Seconds())
}

func (c *promCollector) RecordWrite(shard, records, bytes int, wait, hold time.Duration, err error) {
	id := strconv.Itoa(shard)
	c.writes.WithLabelValues(id, status(err)).Inc()
	c.bytes.WithLabelValues(id).Add(float64(bytes))
	if err == nil {
		c.records.WithLabelValues(id).Add(float64(records))
	}
	c.lockWait.Observe(wait.Seconds())
	c.lockHold.Observe(hold.Seconds())
}

func (c *promCollector) RecordWorker(kind partition.Kind, words int, d time.Duration, err error) {
	c.workers.WithLabelValues(kind.String(), status(err)).Inc()
	c.workerLatency.WithLabelValues(kind.String()).Observe(d.Seconds())
	c.words.Add(float64(words))
}
