package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"mediaqueue/internal/queue"
)

type queueHealth struct {
	Length  int64 `json:"length"`
	Pending int64 `json:"pending"`
}

type healthResponse struct {
	Status string                 `json:"status"`
	Queues map[string]queueHealth `json:"queues"`
}

// HealthHandler reports liveness plus queue depth counters.
func HealthHandler(queues map[string]*queue.Queue, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		response := healthResponse{Status: "ok", Queues: make(map[string]queueHealth, len(queues))}
		for name, q := range queues {
			length, pending, err := q.Depth(ctx)
			if err != nil {
				logger.Warn("queue depth unavailable", "queue", name, "error", err)
				response.Status = "degraded"
				continue
			}
			response.Queues[name] = queueHealth{Length: length, Pending: pending}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("encode health response failed", "error", err)
		}
	})
}
