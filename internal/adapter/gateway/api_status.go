package gateway

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service       string             `json:"service"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Clients       int                `json:"clients"`
	Conversations ConversationStatus `json:"conversations"`
	Providers     []string           `json:"providers"`
}

// ConversationStatus holds conversation counters.
type ConversationStatus struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Responses int64 `json:"agent_responses"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	RunsCompleted  atomic.Int64
	RunsFailed     atomic.Int64
	AgentResponses atomic.Int64
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(s *Server, deps HandlerDeps, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		providers := make([]string, len(deps.Providers))
		for i, p := range deps.Providers {
			providers[i] = string(p)
		}

		resp := StatusResponse{
			Service:       "chorus",
			UptimeSeconds: int64(time.Since(startTime).Seconds()),
			Clients:       s.Clients(),
			Conversations: ConversationStatus{
				Active:    deps.Runs.Active(),
				Completed: metrics.RunsCompleted.Load(),
				Failed:    metrics.RunsFailed.Load(),
				Responses: metrics.AgentResponses.Load(),
			},
			Providers: providers,
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
