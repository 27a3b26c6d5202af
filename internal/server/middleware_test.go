package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAuthMiddleware(t *testing.T) {
	srv := New(&fakeCoordinator{}, &fakeWallet{}, Options{
		AuthToken: "s3cret",
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Keepalive: time.Hour,
	})
	h := srv.Handler()

	for _, tc := range []struct {
		name   string
		method string
		path   string
		auth   string
		want   int
	}{
		{"health exempt", "GET", "/v1/health", "", http.StatusOK},
		{"missing header", "GET", "/v1/wallet", "", http.StatusUnauthorized},
		{"wrong scheme", "GET", "/v1/wallet", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "GET", "/v1/wallet", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "GET", "/v1/wallet", "Bearer s3cret", http.StatusOK},
		{"metrics protected", "GET", "/metrics", "", http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	called := false
	h := AuthMiddleware("", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/wallet", nil))
	if !called {
		t.Fatal("handler not called with auth disabled")
	}
}

func TestInstrument_RequestID(t *testing.T) {
	_, _, _, h := newTestServer()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/health", nil))
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}

	req := httptest.NewRequest("GET", "/v1/health", nil)
	req.Header.Set(requestIDHeader, "req-given")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "req-given" {
		t.Fatalf("request id = %q, want req-given", got)
	}
}

func TestInstrument_RecoversPanic(t *testing.T) {
	srv, _, _, _ := newTestServer()
	h := srv.instrument(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/anything", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
