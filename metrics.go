// SPDX-FileCopyrightText: 2025 M. Shulhan <ms@kilabit.info>
// SPDX-License-Identifier: GPL-3.0-or-later

package snare

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsRegistry *prometheus.Registry

	webhooksTotal *prometheus.CounterVec
	jobsTotal     *prometheus.CounterVec
	jobsEvicted   prometheus.Counter
	jobsRunning   prometheus.Gauge
	jobsPending   prometheus.Gauge
	jobDuration   prometheus.Histogram
)

func init() {
	metricsRegistry = prometheus.NewRegistry()

	webhooksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: `snare`,
		Name:      `webhooks_total`,
		Help:      `Webhook deliveries grouped by response status.`,
	}, []string{`status`})

	jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: `snare`,
		Name:      `jobs_total`,
		Help:      `Finished jobs grouped by result.`,
	}, []string{`result`})

	jobsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: `snare`,
		Name:      `jobs_evicted_total`,
		Help:      `Pending jobs replaced under the evict discipline.`,
	})

	jobsRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: `snare`,
		Name:      `jobs_running`,
		Help:      `Jobs currently holding a pool slot.`,
	})

	jobsPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: `snare`,
		Name:      `jobs_pending`,
		Help:      `Jobs waiting in per-repository queues or for a pool slot.`,
	})

	jobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: `snare`,
		Name:      `job_duration_seconds`,
		Help:      `Time from webhook acceptance to child exit.`,
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
	})

	metricsRegistry.MustRegister(webhooksTotal, jobsTotal, jobsEvicted,
		jobsRunning, jobsPending, jobDuration)
}

// metricsHandler return the HTTP handler serving the metrics in Prometheus
// format.
func metricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{})
}

func metricsWebhook(status int) {
	webhooksTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

func metricsJobDone(result string) {
	jobsTotal.WithLabelValues(result).Inc()
}

func metricsJobEvicted() {
	jobsEvicted.Inc()
}

func metricsSetRunning(n int) {
	jobsRunning.Set(float64(n))
}

func metricsSetPending(n int) {
	jobsPending.Set(float64(n))
}

func metricsJobDuration(d time.Duration) {
	jobDuration.Observe(d.Seconds())
}
