package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rdnslabs/rdns/internal/address"
	"github.com/rdnslabs/rdns/internal/api"
	"github.com/rdnslabs/rdns/internal/zone"
	"github.com/rdnslabs/rdns/pkg/client"
	"go.uber.org/zap"
)

const testRoot = "lb.rdns.dev"

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	store := zone.NewStore(zone.Config{RootDomain: testRoot, TTL: time.Hour}, zone.NopPersister{}, zap.NewNop())
	api.NewDomainHandler(store, address.NewResolver(testRoot), zap.NewNop()).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRoundTrip(t *testing.T) {
	srv := startServer(t)
	c := client.New(srv.URL)
	ctx := context.Background()

	reg, err := c.CreateDomain(ctx, client.CreateRequest{
		Hosts:     []string{"1.1.1.1"},
		Subdomain: map[string][]string{"web": {"2.2.2.2"}},
	})
	if err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	if reg.Token == "" || reg.FQDN == "" {
		t.Fatalf("registration missing token or fqdn: %+v", reg)
	}
	c.SetToken(reg.Token)

	got, err := c.GetDomain(ctx, reg.FQDN)
	if err != nil {
		t.Fatalf("GetDomain: %v", err)
	}
	if len(got.Hosts) != 1 || got.Hosts[0] != "1.1.1.1" {
		t.Errorf("hosts = %v", got.Hosts)
	}
	if got.Subdomain["web"][0] != "2.2.2.2" {
		t.Errorf("subdomain = %v", got.Subdomain)
	}

	challenge := "_acme-challenge." + reg.FQDN
	if _, err := c.WriteText(ctx, challenge, "token-value"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	txt, err := c.GetText(ctx, challenge)
	if err != nil {
		t.Fatalf("GetText: %v", err)
	}
	if txt.Text != "token-value" {
		t.Errorf("text = %q", txt.Text)
	}

	renewed, err := c.RenewDomain(ctx, reg.FQDN)
	if err != nil {
		t.Fatalf("RenewDomain: %v", err)
	}
	if renewed.Expiration.Before(reg.Expiration) {
		t.Errorf("renewal shortened lease: %v -> %v", reg.Expiration, renewed.Expiration)
	}

	if err := c.DeleteDomain(ctx, reg.FQDN); err != nil {
		t.Fatalf("DeleteDomain: %v", err)
	}
	gone, err := c.GetDomain(ctx, reg.FQDN)
	if err != nil {
		t.Fatalf("GetDomain after delete: %v", err)
	}
	if gone.FQDN != "" {
		t.Errorf("deleted zone still visible: %+v", gone)
	}
}

func TestClientSurfacesAPIError(t *testing.T) {
	srv := startServer(t)
	c := client.New(srv.URL)

	_, err := c.CreateDomain(context.Background(), client.CreateRequest{Hosts: []string{"not-an-ip"}})
	apiErr, ok := err.(*client.APIError)
	if !ok {
		t.Fatalf("err = %v, want *client.APIError", err)
	}
	if apiErr.Status != 400 {
		t.Errorf("status = %d, want 400", apiErr.Status)
	}
}

func TestClientUnauthorized(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	owner := client.New(srv.URL)
	reg, err := owner.CreateDomain(ctx, client.CreateRequest{Hosts: []string{"1.1.1.1"}})
	if err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}

	stranger := client.New(srv.URL, client.WithToken("not-the-token"))
	_, err = stranger.UpdateDomain(ctx, reg.FQDN, client.UpdateRequest{Hosts: []string{"3.3.3.3"}})
	apiErr, ok := err.(*client.APIError)
	if !ok || apiErr.Status != 403 {
		t.Fatalf("update with wrong token: err = %v, want 403 APIError", err)
	}
}
