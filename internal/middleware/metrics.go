package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	TriggersTotal      uint64
	EventsDelivered    uint64
	ConnectionsPruned  uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

// IncrementTriggers counts processed hardware triggers
func IncrementTriggers() {
	atomic.AddUint64(&globalMetrics.TriggersTotal, 1)
}

// AddEventsDelivered counts successful payload deliveries
func AddEventsDelivered(n int) {
	if n > 0 {
		atomic.AddUint64(&globalMetrics.EventsDelivered, uint64(n))
	}
}

// IncrementConnectionsPruned counts connections removed on delivery failure
func IncrementConnectionsPruned() {
	atomic.AddUint64(&globalMetrics.ConnectionsPruned, 1)
}

// MetricsMiddleware tracks request counters
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
		atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
		defer atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode < 500 {
			atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
		} else {
			atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
		}
	})
}

// MetricsHandler exposes the counters plus runtime stats
func MetricsHandler(liveConnections func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		out := map[string]any{
			"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
			"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
			"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
			"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
			"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
			"triggers_total":       atomic.LoadUint64(&globalMetrics.TriggersTotal),
			"events_delivered":     atomic.LoadUint64(&globalMetrics.EventsDelivered),
			"connections_pruned":   atomic.LoadUint64(&globalMetrics.ConnectionsPruned),
			"goroutines":           runtime.NumGoroutine(),
			"heap_alloc_bytes":     mem.HeapAlloc,
		}
		if liveConnections != nil {
			out["live_connections"] = liveConnections()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
