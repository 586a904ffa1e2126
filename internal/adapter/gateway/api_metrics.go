package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
func metricsHandler(s *Server, deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		fmt.Fprintf(w, "# HELP chorus_conversations_active Conversations currently running.\n")
		fmt.Fprintf(w, "# TYPE chorus_conversations_active gauge\n")
		fmt.Fprintf(w, "chorus_conversations_active %d\n", deps.Runs.Active())

		fmt.Fprintf(w, "# HELP chorus_conversations_completed_total Conversations that ended normally.\n")
		fmt.Fprintf(w, "# TYPE chorus_conversations_completed_total counter\n")
		fmt.Fprintf(w, "chorus_conversations_completed_total %d\n", metrics.RunsCompleted.Load())

		fmt.Fprintf(w, "# HELP chorus_conversations_failed_total Conversations that ended with an error.\n")
		fmt.Fprintf(w, "# TYPE chorus_conversations_failed_total counter\n")
		fmt.Fprintf(w, "chorus_conversations_failed_total %d\n", metrics.RunsFailed.Load())

		fmt.Fprintf(w, "# HELP chorus_agent_responses_total Agent messages produced.\n")
		fmt.Fprintf(w, "# TYPE chorus_agent_responses_total counter\n")
		fmt.Fprintf(w, "chorus_agent_responses_total %d\n", metrics.AgentResponses.Load())

		fmt.Fprintf(w, "# HELP chorus_gateway_clients Connected WebSocket clients.\n")
		fmt.Fprintf(w, "# TYPE chorus_gateway_clients gauge\n")
		fmt.Fprintf(w, "chorus_gateway_clients %d\n", s.Clients())

		fmt.Fprintf(w, "# HELP chorus_uptime_seconds Seconds since the gateway started.\n")
		fmt.Fprintf(w, "# TYPE chorus_uptime_seconds gauge\n")
		fmt.Fprintf(w, "chorus_uptime_seconds %.0f\n", time.Since(startTime).Seconds())

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
		fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
		fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)
	}
}
