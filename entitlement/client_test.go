package entitlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientResolvePolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/policy" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("user"); got != "u1" {
			t.Errorf("user = %q", got)
		}
		if got := r.URL.Query().Get("guild"); got != "g1" {
			t.Errorf("guild = %q", got)
		}
		_ = json.NewEncoder(w).Encode(Policy{MaxDurationSeconds: 120, Premium: true})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", "")
	p, err := c.ResolvePolicy(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}
	if p.MaxDurationSeconds != 120 || !p.Premium {
		t.Fatalf("policy = %+v", p)
	}
}

func TestClientDefaultsZeroDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Policy{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", "")
	p, err := c.ResolvePolicy(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}
	if p.MaxDurationSeconds != DefaultMaxDurationSeconds {
		t.Fatalf("MaxDurationSeconds = %d, want default", p.MaxDurationSeconds)
	}
}

func TestClientRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "", "")
	if _, err := c.ResolvePolicy(context.Background(), "u1", "g1"); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

func TestStaticResolver(t *testing.T) {
	p, err := Static{}.ResolvePolicy(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}
	if p.MaxDurationSeconds != DefaultMaxDurationSeconds || p.Premium {
		t.Fatalf("policy = %+v", p)
	}

	p, err = Static{Policy: Policy{MaxDurationSeconds: 60, Premium: true}}.ResolvePolicy(context.Background(), "u1", "g1")
	if err != nil {
		t.Fatalf("ResolvePolicy: %v", err)
	}
	if p.MaxDurationSeconds != 60 || !p.Premium {
		t.Fatalf("policy = %+v", p)
	}
}
