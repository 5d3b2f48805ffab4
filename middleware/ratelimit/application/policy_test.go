package application

import (
	"errors"
	"testing"
	"time"

	"github.com/cyph3rk/fronteira/middleware/ratelimit/domain"
	"github.com/cyph3rk/fronteira/middleware/ratelimit/infra"
)

func scopes(lims []domain.Limiter) []string {
	out := make([]string, len(lims))
	for i, l := range lims {
		out[i] = l.Rule().Scope()
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testRoutes() []domain.Rule {
	return []domain.Rule{
		{Route: "/api/*", Window: time.Minute, Max: 100},
		{Route: "/api/groups/{id}", Window: time.Minute, Max: 20},
		{Route: "POST /api/auth/login", Window: time.Minute, Max: 5},
	}
}

func TestPolicy_MatchOverridePicksMostSpecific(t *testing.T) {
	p, err := NewPolicy(&domain.Rule{Window: time.Minute, Max: 60}, testRoutes(), PrecedenceOverride, infra.Factory{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []struct {
		method, path string
		want         []string
	}{
		{"POST", "/api/auth/login", []string{"POST /api/auth/login"}},
		{"GET", "/api/auth/login", []string{"/api/*"}},
		{"GET", "/api/groups/7", []string{"/api/groups/{id}"}},
		{"GET", "/healthz", []string{"global"}},
	}
	for _, tc := range cases {
		if got := scopes(p.Match(tc.method, tc.path)); !equal(got, tc.want) {
			t.Fatalf("%s %s: expected %v, got %v", tc.method, tc.path, tc.want, got)
		}
	}
}

func TestPolicy_MatchStrictestReturnsAllInOrder(t *testing.T) {
	p, err := NewPolicy(&domain.Rule{Window: time.Minute, Max: 60}, testRoutes(), PrecedenceStrictest, infra.Factory{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := scopes(p.Match("POST", "/api/auth/login"))
	want := []string{"/api/*", "POST /api/auth/login", "global"}
	if !equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestPolicy_NoGlobalMeansUnmatchedPathsAreUnlimited(t *testing.T) {
	p, err := NewPolicy(nil, testRoutes(), "", infra.Factory{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Precedence() != PrecedenceOverride {
		t.Fatalf("expected override as default precedence")
	}
	if got := p.Match("GET", "/healthz"); len(got) != 0 {
		t.Fatalf("expected no rules, got %v", scopes(got))
	}
	if len(p.Rules()) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(p.Rules()))
	}
}

func TestNewPolicy_Errors(t *testing.T) {
	cases := []struct {
		name   string
		global *domain.Rule
		routes []domain.Rule
		prec   Precedence
	}{
		{"unknown precedence", nil, nil, "loosest"},
		{"non-positive window", &domain.Rule{Window: 0, Max: 1}, nil, ""},
		{"non-positive max", nil, []domain.Rule{{Route: "/a", Window: time.Second, Max: 0}}, ""},
		{"duplicate names", nil, []domain.Rule{
			{Route: "/a", Window: time.Second, Max: 1},
			{Route: "/a", Window: time.Minute, Max: 1},
		}, ""},
		{"route rule without route", nil, []domain.Rule{{Name: "x", Window: time.Second, Max: 1}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewPolicy(tc.global, tc.routes, tc.prec, infra.Factory{})
			if !errors.Is(err, domain.ErrInvalidRule) {
				t.Fatalf("expected ErrInvalidRule, got %v", err)
			}
		})
	}
}
