// Package health provides the ops endpoint's liveness and readiness probes.
//
//   - /healthz — liveness; always 200 while the process serves HTTP.
//   - /readyz  — readiness; 200 only when every registered [Checker] passes.
//
// Responses are JSON with a top-level "status" ("ok" or "fail") and a
// "checks" map with each named checker's outcome.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opsvox/opsvox/pkg/identity"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is healthy.
type Checker struct {
	// Name keys this check in the JSON response (e.g. "identity").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Engagement reports whether the session controller exists and is in a
// coherent state. The client is ready whenever the controller is wired,
// regardless of whether a conversation is active.
func Engagement(state func() string) Checker {
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			if state == nil {
				return errors.New("session controller not initialised")
			}
			if s := state(); s == "unknown" {
				return fmt.Errorf("session controller in state %q", s)
			}
			return nil
		},
	}
}

// Identity reports whether a credential is available for the next
// engagement. A signed-out client cannot reach the assistant and is not
// ready.
func Identity(p identity.Provider) Checker {
	return Checker{
		Name: "identity",
		Check: func(context.Context) error {
			if p == nil {
				return errors.New("no identity provider")
			}
			if _, err := p.Credential(); err != nil {
				return fmt.Errorf("credential unavailable: %w", err)
			}
			return nil
		},
	}
}

// result is the JSON response body for both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe routes. Safe for concurrent use; the checker list
// is fixed at construction.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200: a process that can answer is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every checker passes. Each check runs under a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	status := http.StatusOK
	if !allOK {
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
