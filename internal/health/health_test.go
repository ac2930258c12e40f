package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opsvox/opsvox/pkg/identity"
)

func doRequest(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var res result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, res
}

func TestHealthzAlwaysOK(t *testing.T) {
	mux := http.NewServeMux()
	New(Checker{Name: "broken", Check: func(context.Context) error {
		return errors.New("down")
	}}).Register(mux)

	rec, res := doRequest(t, mux, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", rec.Code)
	}
	if res.Status != "ok" {
		t.Errorf("healthz body status = %q, want ok", res.Status)
	}
}

func TestReadyzAllPassing(t *testing.T) {
	mux := http.NewServeMux()
	New(
		Checker{Name: "a", Check: func(context.Context) error { return nil }},
		Checker{Name: "b", Check: func(context.Context) error { return nil }},
	).Register(mux)

	rec, res := doRequest(t, mux, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", rec.Code)
	}
	if res.Checks["a"] != "ok" || res.Checks["b"] != "ok" {
		t.Errorf("checks = %v, want all ok", res.Checks)
	}
}

func TestReadyzFailingChecker(t *testing.T) {
	mux := http.NewServeMux()
	New(
		Checker{Name: "good", Check: func(context.Context) error { return nil }},
		Checker{Name: "bad", Check: func(context.Context) error {
			return errors.New("dependency down")
		}},
	).Register(mux)

	rec, res := doRequest(t, mux, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", rec.Code)
	}
	if res.Status != "fail" {
		t.Errorf("body status = %q, want fail", res.Status)
	}
	if res.Checks["good"] != "ok" {
		t.Errorf(`checks["good"] = %q, want ok`, res.Checks["good"])
	}
	if res.Checks["bad"] != "fail: dependency down" {
		t.Errorf(`checks["bad"] = %q`, res.Checks["bad"])
	}
}

func TestEngagementChecker(t *testing.T) {
	c := Engagement(func() string { return "idle" })
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v, want nil", err)
	}

	c = Engagement(nil)
	if err := c.Check(context.Background()); err == nil {
		t.Error("Check() = nil for missing controller, want error")
	}
}

func TestIdentityChecker(t *testing.T) {
	p := identity.NewStatic("alex", "key-1")
	c := Identity(p)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v, want nil", err)
	}

	if err := p.SignOut(); err != nil {
		t.Fatalf("SignOut() error: %v", err)
	}
	if err := c.Check(context.Background()); !errors.Is(err, identity.ErrSignedOut) {
		t.Errorf("Check() error = %v, want ErrSignedOut", err)
	}

	if err := Identity(nil).Check(context.Background()); err == nil {
		t.Error("Check() = nil for nil provider, want error")
	}
}
