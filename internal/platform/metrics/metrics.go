// Package metrics 已讀狀態引擎的 Prometheus 指標.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "message_bundle"

var (
	readStateUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "read_state",
			Name:      "updates_total",
			Help:      "Total read-state updates by operation and result",
		},
		[]string{"operation", "result"},
	)

	readStateMatchedDocuments = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "read_state",
			Name:      "matched_documents",
			Help:      "Documents matched by a read-state update",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"operation"},
	)

	readStateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "read_state",
			Name:      "duration_seconds",
			Help:      "Read-state update latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	messagesSavedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "saved_total",
			Help:      "Total messages handed to the store",
		},
		[]string{"flushed", "result"},
	)

	unreadCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unread_cache",
			Name:      "requests_total",
			Help:      "Unread-count cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)
)

// ObserveReadState 記錄一次已讀狀態更新
func ObserveReadState(operation, result string, matched int64, start time.Time) {
	readStateUpdatesTotal.WithLabelValues(operation, result).Inc()
	readStateDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if result == "ok" || result == "not_found" {
		readStateMatchedDocuments.WithLabelValues(operation).Observe(float64(matched))
	}
}

// ObserveMessageSaved 記錄一次訊息保存
func ObserveMessageSaved(flushed bool, result string) {
	label := "false"
	if flushed {
		label = "true"
	}
	messagesSavedTotal.WithLabelValues(label, result).Inc()
}

// ObserveUnreadCache 記錄未讀數快取查詢結果
func ObserveUnreadCache(result string) {
	unreadCacheRequestsTotal.WithLabelValues(result).Inc()
}
