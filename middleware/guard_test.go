package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRequire(t *testing.T) {
	h := Require(HeaderAuthToken, HeaderACLToken)(okHandler())

	cases := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"none", nil, http.StatusUnauthorized},
		{"auth only", map[string]string{HeaderAuthToken: "a"}, http.StatusUnauthorized},
		{"both", map[string]string{HeaderAuthToken: "a", HeaderACLToken: "b"}, http.StatusNoContent},
		{"bearer satisfies auth", map[string]string{"Authorization": "Bearer a", HeaderACLToken: "b"}, http.StatusNoContent},
		{"empty bearer", map[string]string{"Authorization": "Bearer ", HeaderACLToken: "b"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), "UnvalidToken") {
				t.Fatalf("expected error code in body, got %s", rec.Body.String())
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := ClientIP(req); got != "10.1.2.3" {
		t.Fatalf("remote addr ip = %q", got)
	}

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("forwarded ip = %q", got)
	}
}

func TestMFATokenHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderMFAToken, "mfa")
	if got := MFAToken(req); got != "mfa" {
		t.Fatalf("MFAToken = %q", got)
	}
}

func TestCredentialsPassesThrough(t *testing.T) {
	called := false
	h := Credentials(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Context() == nil {
			t.Fatal("nil context")
		}
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("Credentials must never block a request")
	}
}
