package address

import (
	"errors"
	"testing"
)

func TestResolveApex(t *testing.T) {
	r := NewResolver("lb.rdns.dev")

	addr, err := r.Resolve("kx7f2a.lb.rdns.dev")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr.Zone != "kx7f2a.lb.rdns.dev" {
		t.Errorf("zone = %q", addr.Zone)
	}
	if addr.Label != "" {
		t.Errorf("label = %q, want empty", addr.Label)
	}
	if addr.Type != TypeHosts || addr.Action != ActionRecords {
		t.Errorf("type/action = %v/%v", addr.Type, addr.Action)
	}
}

func TestResolveChildText(t *testing.T) {
	r := NewResolver("lb.rdns.dev")

	addr, err := r.Resolve("_acme-challenge.kx7f2a.lb.rdns.dev/txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr.Zone != "kx7f2a.lb.rdns.dev" {
		t.Errorf("zone = %q", addr.Zone)
	}
	if addr.Label != "_acme-challenge" {
		t.Errorf("label = %q", addr.Label)
	}
	if addr.Type != TypeText {
		t.Errorf("type = %v, want text", addr.Type)
	}
}

func TestResolveMultiLabelChild(t *testing.T) {
	r := NewResolver("lb.rdns.dev")

	addr, err := r.Resolve("a.b.kx7f2a.lb.rdns.dev")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr.Zone != "kx7f2a.lb.rdns.dev" || addr.Label != "a.b" {
		t.Errorf("zone/label = %q/%q", addr.Zone, addr.Label)
	}
}

func TestResolveRenew(t *testing.T) {
	r := NewResolver("lb.rdns.dev")

	addr, err := r.Resolve("kx7f2a.lb.rdns.dev/renew")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr.Action != ActionRenew {
		t.Errorf("action = %v, want renew", addr.Action)
	}
}

func TestResolveOutsideRoot(t *testing.T) {
	r := NewResolver("lb.rdns.dev")

	addr, err := r.Resolve("app.example.com")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr.Zone != "app.example.com" || addr.Label != "" {
		t.Errorf("zone/label = %q/%q", addr.Zone, addr.Label)
	}
}

func TestResolveNormalizesCase(t *testing.T) {
	r := NewResolver("LB.RDNS.DEV")

	addr, err := r.Resolve("KX7F2A.lb.rdns.dev.")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if addr.Zone != "kx7f2a.lb.rdns.dev" {
		t.Errorf("zone = %q", addr.Zone)
	}
}

func TestResolveMalformed(t *testing.T) {
	r := NewResolver("lb.rdns.dev")

	paths := []string{
		"",
		"/",
		"lb.rdns.dev",                    // bare root
		"kx7f2a..lb.rdns.dev",            // empty label
		"kx7f2a.lb.rdns.dev/frobnicate",  // unknown action
		"kx7f2a.lb.rdns.dev/txt/renew",   // too many segments
		"sub.kx7f2a.lb.rdns.dev/renew",   // renew on a child
		"bad host!.lb.rdns.dev",          // illegal characters
		"-leading.lb.rdns.dev",           // label starts with hyphen
	}
	for _, p := range paths {
		if _, err := r.Resolve(p); !errors.Is(err, ErrMalformed) {
			t.Errorf("Resolve(%q) = %v, want ErrMalformed", p, err)
		}
	}
}
