package domain

import (
	"errors"
	"testing"
	"time"
)

func TestRule_ValidateRejectsNonPositiveValues(t *testing.T) {
	cases := []Rule{
		{Window: 0, Max: 1},
		{Window: -time.Second, Max: 1},
		{Window: time.Second, Max: 0},
		{Window: time.Second, Max: -3},
		{Window: time.Second, Max: 1, KeyBy: "cookie"},
		{Window: time.Second, Max: 1, Algorithm: "leaky"},
		{Window: time.Second, Max: 1, Route: "api/no-slash"},
		{Window: time.Second, Max: 1, Route: "/a/*/b"},
	}
	for _, r := range cases {
		err := r.Validate()
		if err == nil {
			t.Fatalf("expected error for %+v", r)
		}
		if !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("expected ErrInvalidRule, got %v", err)
		}
	}
}

func TestRule_ValidateAcceptsDefaults(t *testing.T) {
	r := Rule{Window: time.Minute, Max: 3}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r = r.WithDefaults()
	if r.KeyBy != KeyByIP || r.Algorithm != AlgorithmSlidingWindow {
		t.Fatalf("unexpected defaults: %+v", r)
	}
	if r.Scope() != GlobalScope || r.Name != GlobalScope {
		t.Fatalf("expected global scope, got %q / %q", r.Scope(), r.Name)
	}
}

func TestRoute_Match(t *testing.T) {
	cases := []struct {
		pattern string
		method  string
		path    string
		want    bool
	}{
		{"/api/auth/login", "POST", "/api/auth/login", true},
		{"/api/auth/login", "POST", "/api/auth/login/", true},
		{"/api/auth/login", "POST", "/api/auth", false},
		{"POST /api/auth/login", "GET", "/api/auth/login", false},
		{"post /api/auth/login", "POST", "/api/auth/login", true},
		{"/api/groups/{id}", "GET", "/api/groups/42", true},
		{"/api/groups/:id", "GET", "/api/groups/42/members", false},
		{"/api/groups/*", "GET", "/api/groups/42/members", true},
		{"/api/groups/*", "GET", "/api/groups", true},
		{"/*", "GET", "/anything/at/all", true},
		{"/", "GET", "/", true},
		{"/", "GET", "/x", false},
	}
	for _, tc := range cases {
		rt, err := ParseRoute(tc.pattern)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.pattern, err)
		}
		got, _ := rt.Match(tc.method, tc.path)
		if got != tc.want {
			t.Fatalf("%q vs %s %s: expected %v, got %v", tc.pattern, tc.method, tc.path, tc.want, got)
		}
	}
}

func TestRoute_MatchPrefersSpecificPatterns(t *testing.T) {
	exact, _ := ParseRoute("/api/groups/all")
	param, _ := ParseRoute("/api/groups/{id}")
	wild, _ := ParseRoute("/api/groups/*")
	withMethod, _ := ParseRoute("GET /api/groups/all")

	_, se := exact.Match("GET", "/api/groups/all")
	_, sp := param.Match("GET", "/api/groups/all")
	_, sw := wild.Match("GET", "/api/groups/all")
	_, sm := withMethod.Match("GET", "/api/groups/all")

	if !(sm > se && se > sp && se > sw) {
		t.Fatalf("unexpected specificity ordering: method=%d exact=%d param=%d wild=%d", sm, se, sp, sw)
	}
}
