package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gearay/dingpiao/internal/booking/classify"
	"github.com/gearay/dingpiao/internal/booking/scheduler"
	"github.com/gearay/dingpiao/internal/core/domain"
)

// HealthChecker reports backend reachability.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Server provides HTTP endpoints for health, task status and metrics.
type Server struct {
	sched    *scheduler.Scheduler
	checkers map[string]HealthChecker
	server   *http.Server
}

// NewServer creates the status server. Checkers are optional named
// backends included in the health report.
func NewServer(sched *scheduler.Scheduler, port int, checkers map[string]HealthChecker) *Server {
	mux := http.NewServeMux()
	s := &Server{
		sched:    sched,
		checkers: checkers,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	backends := make(map[string]string, len(s.checkers))
	healthy := true
	for name, checker := range s.checkers {
		if err := checker.Health(ctx); err != nil {
			backends[name] = err.Error()
			healthy = false
			continue
		}
		backends[name] = "ok"
	}

	response := map[string]any{
		"status":   "healthy",
		"backends": backends,
	}
	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		response["status"] = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

// statusReport is the /status response body.
type statusReport struct {
	Stats         scheduler.Stats `json:"stats"`
	NextReleaseAt *time.Time      `json:"next_release_at,omitempty"`
	Suggestions   []failureHint   `json:"suggestions,omitempty"`
}

type failureHint struct {
	Category classify.Category `json:"category"`
	Count    int               `json:"count"`
	Hints    []string          `json:"hints"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := statusReport{Stats: s.sched.Statistics()}
	if next, ok := s.sched.NextReleaseAt(); ok {
		report.NextReleaseAt = &next
	}
	for cat, count := range report.Stats.Failures {
		report.Suggestions = append(report.Suggestions, failureHint{
			Category: cat,
			Count:    count,
			Hints:    classify.Suggestions(cat),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	w.Header().Set("Content-Type", "application/json")

	if id != "" {
		task, err := s.sched.GetTask(id)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(task)
		return
	}

	tasks := s.sched.ListTasks()
	if tasks == nil {
		tasks = []*domain.Task{}
	}
	json.NewEncoder(w).Encode(tasks)
}
