// Package health serves the bot's liveness and readiness probes.
//
//   - /healthz answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every [Checker] passes. Checks run
//     concurrently, each bounded by its own timeout.
//
// Bodies are JSON: {"status":"ok"|"fail","checks":{...},"counts":{...}}.
// Counts carry live gauges such as active sessions and are informational
// only.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Pinger is anything that can prove a live connection, such as a results
// store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a Checker named name that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Readier reports whether a long-lived session, such as the Discord
// gateway, is ready to serve.
type Readier interface {
	Ready(ctx context.Context) error
}

// Ready returns a Checker named name backed by r.
func Ready(name string, r Readier) Checker {
	return Checker{Name: name, Check: r.Ready}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Counts map[string]int    `json:"counts,omitempty"`
}

// Handler serves the probes. Its checkers are fixed at construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration

	mu     sync.RWMutex
	counts map[string]func() int
}

// New creates a Handler evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  checkTimeout,
		counts:   make(map[string]func() int),
	}
}

// Count adds a gauge reported under name in both probe bodies.
func (h *Handler) Count(name string, fn func() int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[name] = fn
}

func (h *Handler) snapshotCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.counts) == 0 {
		return nil
	}
	out := make(map[string]int, len(h.counts))
	for name, fn := range h.counts {
		out[name] = fn()
	}
	return out
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok", Counts: h.snapshotCounts()})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
			defer cancel()
			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				failed = true
				return nil
			}
			checks[c.Name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: checks, Counts: h.snapshotCounts()}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
