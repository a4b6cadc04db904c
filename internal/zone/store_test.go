package zone_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rdnslabs/rdns/internal/address"
	"github.com/rdnslabs/rdns/internal/zone"
	"go.uber.org/zap"
)

const testRoot = "lb.rdns.dev"

func newTestStore(t *testing.T) *zone.Store {
	t.Helper()
	return zone.NewStore(zone.Config{RootDomain: testRoot, TTL: time.Hour}, zone.NopPersister{}, zap.NewNop())
}

func mustResolve(t *testing.T, path string) *address.Address {
	t.Helper()
	addr, err := address.NewResolver(testRoot).Resolve(path)
	if err != nil {
		t.Fatalf("resolve %q: %v", path, err)
	}
	return addr
}

func createZone(t *testing.T, s *zone.Store) (fqdn, token string) {
	t.Helper()
	view, token, err := s.Create(context.Background(), zone.CreateRequest{
		Hosts: []string{"1.1.1.1", "3.3.3.3"},
		Subdomains: map[string][]string{
			"sub1": {"9.9.9.9"},
			"sub2": {"5.5.5.5"},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return view.FQDN, token
}

func sorted(ss []string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

func TestCreateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	view, token, err := s.Create(ctx, zone.CreateRequest{
		Hosts: []string{"1.1.1.1", "3.3.3.3"},
		Subdomains: map[string][]string{
			"sub1": {"9.9.9.9"},
			"sub2": {"5.5.5.5"},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if !strings.HasSuffix(view.FQDN, "."+testRoot) {
		t.Fatalf("generated fqdn %q not under root", view.FQDN)
	}
	if view.ExpiresAt.IsZero() || !view.ExpiresAt.After(time.Now()) {
		t.Errorf("expiration not in the future: %v", view.ExpiresAt)
	}

	got, err := s.Get(ctx, mustResolve(t, view.FQDN), token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Found {
		t.Fatal("created zone not found")
	}
	want := []string{"1.1.1.1", "3.3.3.3"}
	if gotHosts := sorted(got.Hosts); len(gotHosts) != 2 || gotHosts[0] != want[0] || gotHosts[1] != want[1] {
		t.Errorf("hosts = %v, want %v", got.Hosts, want)
	}
	if len(got.Subdomains) != 2 {
		t.Fatalf("subdomains = %v", got.Subdomains)
	}
	if got.Subdomains["sub1"][0] != "9.9.9.9" || got.Subdomains["sub2"][0] != "5.5.5.5" {
		t.Errorf("subdomains = %v", got.Subdomains)
	}

	// The same token authorizes child reads.
	sub, err := s.Get(ctx, mustResolve(t, "sub1."+view.FQDN), token)
	if err != nil {
		t.Fatalf("Get sub1: %v", err)
	}
	if !sub.Found || len(sub.Hosts) != 1 || sub.Hosts[0] != "9.9.9.9" {
		t.Errorf("sub1 view = %+v", sub)
	}
}

func TestCreateInvalidInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cases := []zone.CreateRequest{
		{Hosts: nil},
		{Hosts: []string{"not-an-ip"}},
		{Hosts: []string{"1.1.1.1"}, Subdomains: map[string][]string{"sub1": {}}},
		{Hosts: []string{"1.1.1.1"}, Subdomains: map[string][]string{"bad label!": {"2.2.2.2"}}},
	}
	for i, req := range cases {
		if _, _, err := s.Create(ctx, req); !errors.Is(err, zone.ErrInvalidInput) {
			t.Errorf("case %d: err = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestCreateExplicitNameConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := zone.CreateRequest{FQDN: "mine." + testRoot, Hosts: []string{"1.1.1.1"}}
	if _, _, err := s.Create(ctx, req); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, _, err := s.Create(ctx, req); !errors.Is(err, zone.ErrConflict) {
		t.Errorf("second Create err = %v, want ErrConflict", err)
	}
}

func TestGeneratedNamesAreUnique(t *testing.T) {
	s := newTestStore(t)
	a, _ := createZone(t, s)
	b, _ := createZone(t, s)
	if a == b {
		t.Fatalf("two generated names collided: %s", a)
	}
}

func TestUpdateOverwritesNotMerges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	addr := mustResolve(t, fqdn)

	view, err := s.Update(ctx, addr, token, zone.UpdateRequest{
		Hosts: []string{"2.2.2.2"},
		Subdomains: map[string][]string{
			"sub1": {"9.9.9.9"},
			"sub2": {"7.7.7.7"},
		},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(view.Hosts) != 1 || view.Hosts[0] != "2.2.2.2" {
		t.Errorf("hosts = %v, want exactly [2.2.2.2]", view.Hosts)
	}
	if view.Subdomains["sub2"][0] != "7.7.7.7" {
		t.Errorf("sub2 = %v", view.Subdomains["sub2"])
	}

	got, err := s.Get(ctx, addr, token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Hosts) != 1 || got.Hosts[0] != "2.2.2.2" {
		t.Errorf("after update, hosts = %v", got.Hosts)
	}
}

func TestUpdateCreatesChildOnFirstWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	addr := mustResolve(t, "_acme-challenge."+fqdn+"/txt")

	view, err := s.Update(ctx, addr, token, zone.UpdateRequest{Text: "acme challenge record"})
	if err != nil {
		t.Fatalf("Update txt: %v", err)
	}
	if view.Text != "acme challenge record" {
		t.Errorf("text = %q", view.Text)
	}
	if view.FQDN != "_acme-challenge."+fqdn {
		t.Errorf("fqdn = %q", view.FQDN)
	}

	got, err := s.Get(ctx, addr, token)
	if err != nil {
		t.Fatalf("Get txt: %v", err)
	}
	if !got.Found || got.Text != "acme challenge record" {
		t.Errorf("txt view = %+v", got)
	}
}

func TestUpdateLeavesExpirationAlone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	addr := mustResolve(t, fqdn)

	before, _ := s.Get(ctx, addr, token)
	if _, err := s.Update(ctx, addr, token, zone.UpdateRequest{Hosts: []string{"2.2.2.2"}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	after, _ := s.Get(ctx, addr, token)
	if !after.ExpiresAt.Equal(before.ExpiresAt) {
		t.Errorf("update moved expiration: %v -> %v", before.ExpiresAt, after.ExpiresAt)
	}
}

func TestRenewNeverShortens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	addr := mustResolve(t, fqdn)

	before, _ := s.Get(ctx, addr, token)
	renewed, err := s.Renew(ctx, mustResolve(t, fqdn+"/renew"), token)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if renewed.ExpiresAt.Before(before.ExpiresAt) {
		t.Errorf("renew shortened lease: %v -> %v", before.ExpiresAt, renewed.ExpiresAt)
	}
}

func TestGetAbsentTextIsEmptyResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)

	got, err := s.Get(ctx, mustResolve(t, fqdn+"/txt"), token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Found {
		t.Errorf("expected empty result for absent text, got %+v", got)
	}
}

func TestTextAndHostsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	sub1 := mustResolve(t, "sub1."+fqdn)
	sub1txt := mustResolve(t, "sub1."+fqdn+"/txt")

	if _, err := s.Update(ctx, sub1txt, token, zone.UpdateRequest{Text: "note"}); err != nil {
		t.Fatalf("Update txt: %v", err)
	}
	hosts, _ := s.Get(ctx, sub1, token)
	if !hosts.Found || len(hosts.Hosts) != 1 {
		t.Errorf("writing text clobbered hosts: %+v", hosts)
	}

	if _, err := s.Update(ctx, sub1, token, zone.UpdateRequest{Hosts: []string{"8.8.8.8"}}); err != nil {
		t.Fatalf("Update hosts: %v", err)
	}
	text, _ := s.Get(ctx, sub1txt, token)
	if !text.Found || text.Text != "note" {
		t.Errorf("writing hosts clobbered text: %+v", text)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	addr := mustResolve(t, fqdn)

	if err := s.Delete(ctx, addr, token); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := s.Get(ctx, addr, token)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if got.Found {
		t.Errorf("zone still visible after delete: %+v", got)
	}

	if err := s.Delete(ctx, addr, token); err != nil {
		t.Errorf("repeat Delete: %v", err)
	}
	if err := s.Delete(ctx, mustResolve(t, "_acme-challenge."+fqdn+"/txt"), token); err != nil {
		t.Errorf("Delete txt under deleted zone: %v", err)
	}
}

func TestChildDeletionLeavesApex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	acme := mustResolve(t, "_acme-challenge."+fqdn+"/txt")

	if _, err := s.Update(ctx, acme, token, zone.UpdateRequest{Text: "v"}); err != nil {
		t.Fatalf("Update txt: %v", err)
	}
	if err := s.Delete(ctx, acme, token); err != nil {
		t.Fatalf("Delete txt: %v", err)
	}

	apex, err := s.Get(ctx, mustResolve(t, fqdn), token)
	if err != nil {
		t.Fatalf("Get apex: %v", err)
	}
	if !apex.Found || len(apex.Hosts) != 2 {
		t.Errorf("child delete damaged apex: %+v", apex)
	}
}

func TestApexDeletionRemovesChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)

	if err := s.Delete(ctx, mustResolve(t, fqdn), token); err != nil {
		t.Fatalf("Delete apex: %v", err)
	}
	sub, err := s.Get(ctx, mustResolve(t, "sub1."+fqdn), token)
	if err != nil {
		t.Fatalf("Get child: %v", err)
	}
	if sub.Found {
		t.Errorf("child survived apex deletion: %+v", sub)
	}
}

func TestTokenScopedToOneZone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdnA, tokenA := createZone(t, s)
	fqdnB, _ := createZone(t, s)
	_ = fqdnA

	addrB := mustResolve(t, fqdnB)
	if _, err := s.Get(ctx, addrB, tokenA); !errors.Is(err, zone.ErrUnauthorized) {
		t.Errorf("Get with foreign token: err = %v, want ErrUnauthorized", err)
	}
	if _, err := s.Update(ctx, addrB, tokenA, zone.UpdateRequest{Hosts: []string{"2.2.2.2"}}); !errors.Is(err, zone.ErrUnauthorized) {
		t.Errorf("Update with foreign token: err = %v", err)
	}
	if _, err := s.Renew(ctx, mustResolve(t, fqdnB+"/renew"), tokenA); !errors.Is(err, zone.ErrUnauthorized) {
		t.Errorf("Renew with foreign token: err = %v", err)
	}
	if err := s.Delete(ctx, addrB, tokenA); !errors.Is(err, zone.ErrUnauthorized) {
		t.Errorf("Delete with foreign token: err = %v", err)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	addr := mustResolve(t, fqdn)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			host := fmt.Sprintf("10.0.0.%d", i+1)
			if _, err := s.Update(ctx, addr, token, zone.UpdateRequest{Hosts: []string{host}}); err != nil {
				t.Errorf("Update %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, addr, token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// A full overwrite admits no interleaving: the result must be exactly
	// one writer's host list.
	if len(got.Hosts) != 1 || !strings.HasPrefix(got.Hosts[0], "10.0.0.") {
		t.Errorf("hosts after concurrent updates = %v", got.Hosts)
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)

	if n := s.Sweep(ctx, time.Now().UTC()); n != 0 {
		t.Fatalf("premature eviction of %d zones", n)
	}
	if n := s.Sweep(ctx, time.Now().UTC().Add(2*time.Hour)); n != 1 {
		t.Fatalf("Sweep evicted %d zones, want 1", n)
	}

	got, err := s.Get(ctx, mustResolve(t, fqdn), token)
	if err != nil {
		t.Fatalf("Get after eviction: %v", err)
	}
	if got.Found {
		t.Errorf("zone visible after eviction: %+v", got)
	}
}

func TestSweepSparesRenewedZone(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	fqdn, token := createZone(t, s)
	addr := mustResolve(t, fqdn)

	view, err := s.Renew(ctx, mustResolve(t, fqdn+"/renew"), token)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if n := s.Sweep(ctx, view.ExpiresAt.Add(-time.Minute)); n != 0 {
		t.Fatalf("Sweep evicted %d renewed zones", n)
	}
	if got, _ := s.Get(ctx, addr, token); !got.Found {
		t.Error("renewed zone was evicted")
	}
}

// failingPersister rejects writes on demand.
type failingPersister struct {
	mu   sync.Mutex
	fail bool
}

func (p *failingPersister) setFail(v bool) {
	p.mu.Lock()
	p.fail = v
	p.mu.Unlock()
}

func (p *failingPersister) Save(context.Context, *zone.Zone) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("disk on fire")
	}
	return nil
}

func (p *failingPersister) Delete(context.Context, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("disk on fire")
	}
	return nil
}

func (p *failingPersister) LoadAll(context.Context) ([]*zone.Zone, error) { return nil, nil }

func TestPersistFailureLeavesMemoryUnchanged(t *testing.T) {
	p := &failingPersister{}
	s := zone.NewStore(zone.Config{RootDomain: testRoot, TTL: time.Hour}, p, zap.NewNop())
	ctx := context.Background()

	view, token, err := s.Create(ctx, zone.CreateRequest{Hosts: []string{"1.1.1.1"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	addr := mustResolve(t, view.FQDN)

	p.setFail(true)
	if _, err := s.Update(ctx, addr, token, zone.UpdateRequest{Hosts: []string{"2.2.2.2"}}); !errors.Is(err, zone.ErrInternal) {
		t.Fatalf("Update err = %v, want ErrInternal", err)
	}
	if err := s.Delete(ctx, addr, token); !errors.Is(err, zone.ErrInternal) {
		t.Fatalf("Delete err = %v, want ErrInternal", err)
	}

	got, err := s.Get(ctx, addr, token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Found || len(got.Hosts) != 1 || got.Hosts[0] != "1.1.1.1" {
		t.Errorf("state changed despite persist failure: %+v", got)
	}

	// Retry after the storage recovers.
	p.setFail(false)
	if _, err := s.Update(ctx, addr, token, zone.UpdateRequest{Hosts: []string{"2.2.2.2"}}); err != nil {
		t.Fatalf("retried Update: %v", err)
	}
}

func TestCreateFailedPersistLeavesNoZone(t *testing.T) {
	p := &failingPersister{}
	p.setFail(true)
	s := zone.NewStore(zone.Config{RootDomain: testRoot, TTL: time.Hour}, p, zap.NewNop())

	fqdn := "mine." + testRoot
	if _, _, err := s.Create(context.Background(), zone.CreateRequest{FQDN: fqdn, Hosts: []string{"1.1.1.1"}}); !errors.Is(err, zone.ErrInternal) {
		t.Fatalf("Create err = %v, want ErrInternal", err)
	}

	// The name must be free again once storage recovers.
	p.setFail(false)
	if _, _, err := s.Create(context.Background(), zone.CreateRequest{FQDN: fqdn, Hosts: []string{"1.1.1.1"}}); err != nil {
		t.Fatalf("Create after recovery: %v", err)
	}
}
