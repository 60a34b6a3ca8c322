package realtime

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func newOriginRequest(origin string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginHostOnly(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "http://localhost", want: "localhost"},
		{in: "http://Localhost:3000", want: "localhost"},
		{in: "https://app.example.com", want: "app.example.com"},
		{in: "app.example.com:8443", want: "app.example.com"},
		{in: "app.example.com", want: "app.example.com"},
		{in: "", want: ""},
	}

	for _, tc := range cases {
		if got := originHostOnly(tc.in); got != tc.want {
			t.Fatalf("originHostOnly(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatternsFromAllowedOrigins([]string{
		"http://localhost:3000",
		"http://localhost",
		"https://app.example.com",
		"*",
		"",
	})
	want := []string{"app.example.com", "localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patterns=%v want=%v", got, want)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	g := &WSGateway{
		originRequired: true,
		allowedOrigins: []string{"http://localhost", "https://app.example.com"},
	}

	cases := []struct {
		origin string
		ok     bool
	}{
		{origin: "http://localhost", ok: true},
		{origin: "http://localhost:5173", ok: true}, // host fallback ignores port
		{origin: "https://app.example.com", ok: true},
		{origin: "https://evil.example.com", ok: false},
		{origin: "", ok: false}, // required
	}

	for _, tc := range cases {
		r := newOriginRequest(tc.origin)
		err := g.enforceOrigin(r)
		if tc.ok && err != nil {
			t.Fatalf("origin=%q rejected: %v", tc.origin, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("origin=%q accepted", tc.origin)
		}
	}
}
