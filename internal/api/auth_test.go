package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func passThrough(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
	})
}

func TestBearerAuth_EmptyTokenDisablesCheck(t *testing.T) {
	var called bool
	h := BearerAuth("")(passThrough(&called))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync", nil))

	if !called {
		t.Error("handler not reached; empty token must pass requests through")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestBearerAuth_RejectsWrongToken(t *testing.T) {
	var called bool
	h := BearerAuth("right-token")(passThrough(&called))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	h.ServeHTTP(rec, req)

	if called {
		t.Error("handler reached with a wrong token")
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate challenge on 401")
	}
}

func TestBearerAuth_AcceptsMatchingToken(t *testing.T) {
	var called bool
	h := BearerAuth("right-token")(passThrough(&called))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/sync", nil)
	req.Header.Set("Authorization", "Bearer right-token")
	h.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Errorf("status = %d, called = %v; matching token must pass", rec.Code, called)
	}
}
