// Package client is the Go SDK for the rdns /domain API.
//
// A typical ACME DNS-01 flow:
//
//	c := client.New("https://rdns.example.com")
//	reg, err := c.CreateDomain(ctx, client.CreateRequest{
//	    Hosts: []string{"203.0.113.7"},
//	})
//	// reg.Token authorizes every later call for reg.FQDN.
//	c.SetToken(reg.Token)
//	_, err = c.WriteText(ctx, "_acme-challenge."+reg.FQDN, challengeValue)
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Domain is the record payload returned by domain operations.
type Domain struct {
	FQDN       string              `json:"fqdn"`
	Hosts      []string            `json:"hosts,omitempty"`
	Subdomain  map[string][]string `json:"subdomain,omitempty"`
	Text       string              `json:"text,omitempty"`
	Expiration time.Time           `json:"expiration,omitempty"`
}

// Registration is the result of CreateDomain: the assigned records plus the
// bearer token, which is returned exactly once.
type Registration struct {
	Domain
	Token string
}

// CreateRequest is the payload of CreateDomain.
type CreateRequest struct {
	FQDN      string              `json:"fqdn"`
	Hosts     []string            `json:"hosts"`
	Subdomain map[string][]string `json:"subdomain,omitempty"`
}

// UpdateRequest is the payload of UpdateDomain.
type UpdateRequest struct {
	Hosts     []string            `json:"hosts"`
	Subdomain map[string][]string `json:"subdomain,omitempty"`
}

// APIError is a non-2xx envelope returned by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rdns: server returned %d: %s", e.Status, e.Message)
}

// envelope mirrors the server's response body.
type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"msg"`
	Token   string          `json:"token"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to an rdns server.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken attaches a bearer token obtained from an earlier CreateDomain.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the given server base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken replaces the bearer token used by subsequent calls.
func (c *Client) SetToken(token string) { c.token = token }

// CreateDomain registers a new zone. Leave req.FQDN empty to have the
// server assign one. The returned token must be saved; it cannot be
// recovered later.
func (c *Client) CreateDomain(ctx context.Context, req CreateRequest) (*Registration, error) {
	env, err := c.do(ctx, http.MethodPost, "/domain", req)
	if err != nil {
		return nil, err
	}
	reg := &Registration{Token: env.Token}
	if err := json.Unmarshal(env.Data, &reg.Domain); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return reg, nil
}

// GetDomain fetches the records at name (a zone FQDN or a dotted child
// name). A deleted or never-registered name yields a Domain with an empty
// FQDN, not an error.
func (c *Client) GetDomain(ctx context.Context, name string) (*Domain, error) {
	return c.domainCall(ctx, http.MethodGet, "/domain/"+name, nil)
}

// UpdateDomain overwrites the host records at name. For a zone apex the
// subdomain map, when present, replaces all child host lists.
func (c *Client) UpdateDomain(ctx context.Context, name string, req UpdateRequest) (*Domain, error) {
	return c.domainCall(ctx, http.MethodPut, "/domain/"+name, req)
}

// RenewDomain extends the zone lease and returns the new expiration.
func (c *Client) RenewDomain(ctx context.Context, fqdn string) (*Domain, error) {
	return c.domainCall(ctx, http.MethodPut, "/domain/"+fqdn+"/renew", nil)
}

// DeleteDomain removes the zone and all its children. Deleting an absent
// zone succeeds.
func (c *Client) DeleteDomain(ctx context.Context, fqdn string) error {
	_, err := c.do(ctx, http.MethodDelete, "/domain/"+fqdn, nil)
	return err
}

// WriteText sets the TXT record at name, creating the child label on first
// write.
func (c *Client) WriteText(ctx context.Context, name, text string) (*Domain, error) {
	return c.domainCall(ctx, http.MethodPost, "/domain/"+name+"/txt", map[string]string{"text": text})
}

// GetText reads the TXT record at name.
func (c *Client) GetText(ctx context.Context, name string) (*Domain, error) {
	return c.domainCall(ctx, http.MethodGet, "/domain/"+name+"/txt", nil)
}

// DeleteText removes the TXT record at name. Removing an absent record
// succeeds.
func (c *Client) DeleteText(ctx context.Context, name string) error {
	_, err := c.do(ctx, http.MethodDelete, "/domain/"+name+"/txt", nil)
	return err
}

func (c *Client) domainCall(ctx context.Context, method, path string, body any) (*Domain, error) {
	env, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	d := &Domain{}
	if err := json.Unmarshal(env.Data, d); err != nil {
		return nil, fmt.Errorf("decode response data: %w", err)
	}
	return d, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var rd io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	env := &envelope{}
	if err := json.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("%s %s: undecodable response (HTTP %d)", method, path, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: env.Status, Message: env.Message}
	}
	return env, nil
}
