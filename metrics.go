package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the entropy pipeline. Scraped at METRICS_ADDR.
var (
	messagesObserved = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entropygen_messages_observed_total",
		Help: "Total payloads received from subscribed endpoints, by endpoint",
	}, []string{"endpoint"})

	messagesDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropygen_messages_duplicate_total",
		Help: "Total payloads discarded as cross-source duplicates",
	})

	messagesAdmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropygen_messages_admitted_total",
		Help: "Total novel payloads admitted into the entropy mixer",
	})

	messagesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entropygen_messages_rejected_total",
		Help: "Total payloads rejected (admission_full) or truncated and still processed (oversized) before mixing, by reason",
	}, []string{"reason"})

	dedupEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropygen_dedup_evictions_total",
		Help: "Total fingerprints evicted from the dedup filter",
	})

	dedupFillPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropygen_dedup_fill_percent",
		Help: "Dedup filter occupancy as a percentage of its configured ceiling",
	})

	mixerBufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropygen_mixer_buffer_size",
		Help: "Number of payloads waiting to complete the in-flight batch",
	})

	batchesMixed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropygen_batches_mixed_total",
		Help: "Total completed batches condensed into an output digest",
	})

	digestsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropygen_digests_published_total",
		Help: "Total output digests accepted by the bus publisher",
	})

	digestsPublishFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropygen_digests_publish_failed_total",
		Help: "Total output digests rejected by the bus publisher",
	})

	subscriberQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entropygen_subscriber_queue_depth",
		Help: "Current receive queue depth, by endpoint",
	}, []string{"endpoint"})

	subscriberDropped = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entropygen_subscriber_dropped_total",
		Help: "Cumulative drop-oldest discards, by endpoint",
	}, []string{"endpoint"})

	subscriberConnected = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entropygen_subscriber_connected",
		Help: "Whether the endpoint subscriber currently holds an open socket (1/0)",
	}, []string{"endpoint"})

	subscriberReconnects = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entropygen_subscriber_reconnect_attempt",
		Help: "Current consecutive reconnect attempt counter, by endpoint",
	}, []string{"endpoint"})

	memoryStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropygen_memory_status",
		Help: "Memory Governor escalation state: 0=normal, 1=warning, 2=critical",
	})

	memoryPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropygen_memory_percent",
		Help: "Process RSS as a percentage of the effective memory limit",
	})

	memoryRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "entropygen_memory_rss_bytes",
		Help: "Process resident set size in bytes",
	})

	memoryReclaims = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entropygen_memory_reclaims_total",
		Help: "Total times the Memory Governor cleared the in-flight mixer buffer under critical pressure",
	})
)

func init() {
	prometheus.MustRegister(messagesObserved)
	prometheus.MustRegister(messagesDuplicate)
	prometheus.MustRegister(messagesAdmitted)
	prometheus.MustRegister(messagesRejected)
	prometheus.MustRegister(dedupEvictions)
	prometheus.MustRegister(dedupFillPercent)
	prometheus.MustRegister(mixerBufferSize)
	prometheus.MustRegister(batchesMixed)
	prometheus.MustRegister(digestsPublished)
	prometheus.MustRegister(digestsPublishFailed)
	prometheus.MustRegister(subscriberQueueDepth)
	prometheus.MustRegister(subscriberDropped)
	prometheus.MustRegister(subscriberConnected)
	prometheus.MustRegister(subscriberReconnects)
	prometheus.MustRegister(memoryStatus)
	prometheus.MustRegister(memoryPercent)
	prometheus.MustRegister(memoryRSSBytes)
	prometheus.MustRegister(memoryReclaims)
}

// rejectReason labels for messagesRejected.
const (
	rejectReasonAdmissionFull = "admission_full"
	rejectReasonOversized     = "oversized"
)

// serveMetrics starts the Prometheus scrape endpoint and blocks until the
// listener fails. The caller is expected to run it in its own goroutine.
func serveMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
