package handler

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/findoc/internal/api/response"
)

const healthTimeout = 3 * time.Second

// Pinger is anything the health check can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// NewRootHandler returns the liveness handler for GET /.
func NewRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, map[string]string{"message": "Financial Document Analyzer API is running"})
	}
}

// NewHealthHandler returns an http.HandlerFunc for GET /health. Dependencies are
// pinged concurrently; any failure reports 503 degraded.
func NewHealthHandler(deps map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		results := make([]string, len(names))
		var wg sync.WaitGroup
		for i, name := range names {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := deps[name].Ping(ctx); err != nil {
					results[i] = "unavailable"
					return
				}
				results[i] = "ok"
			}()
		}
		wg.Wait()

		body := healthResponse{Status: "ok", Services: make(map[string]string, len(names))}
		status := http.StatusOK
		for i, name := range names {
			body.Services[name] = results[i]
			if results[i] != "ok" {
				body.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}
		response.JSON(w, status, body)
	}
}
