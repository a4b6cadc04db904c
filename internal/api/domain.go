// Package api is the HTTP facade over the zone store: the /domain routes,
// the response envelope, and the cross-cutting middleware.
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rdnslabs/rdns/internal/address"
	"github.com/rdnslabs/rdns/internal/zone"
	"go.uber.org/zap"
)

// DomainHandler serves the /domain API.
type DomainHandler struct {
	store    *zone.Store
	resolver *address.Resolver
	logger   *zap.Logger
}

// NewDomainHandler creates a DomainHandler.
func NewDomainHandler(store *zone.Store, resolver *address.Resolver, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{store: store, resolver: resolver, logger: logger}
}

// Register mounts the domain routes on the given router. Child labels
// travel dotted inside the :name parameter (e.g. _acme-challenge.<fqdn>);
// the trailing /txt and /renew segments select record type and action.
func (h *DomainHandler) Register(r gin.IRouter) {
	d := r.Group("/domain")
	{
		d.POST("", h.Create)
		d.GET("/:name", h.Get)
		d.PUT("/:name", h.Update)
		d.DELETE("/:name", h.Delete)
		d.PUT("/:name/renew", h.Renew)
		d.POST("/:name/txt", h.WriteText)
		d.PUT("/:name/txt", h.WriteText)
		d.GET("/:name/txt", h.GetText)
		d.DELETE("/:name/txt", h.DeleteText)
	}
}

// createBody is the payload of POST /domain.
type createBody struct {
	FQDN      string              `json:"fqdn"`
	Hosts     []string            `json:"hosts"`
	Subdomain map[string][]string `json:"subdomain"`
}

// updateBody is the payload of PUT /domain/:name.
type updateBody struct {
	Hosts     []string            `json:"hosts"`
	Subdomain map[string][]string `json:"subdomain"`
}

// textBody is the payload of text record writes.
type textBody struct {
	Text string `json:"text"`
}

// Create handles POST /domain. The only unauthenticated operation: it
// registers a zone and returns its bearer token exactly once.
func (h *DomainHandler) Create(c *gin.Context) {
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, errorf(address.ErrMalformed, "decode body: %v", err))
		return
	}

	req := zone.CreateRequest{Hosts: body.Hosts, Subdomains: body.Subdomain}
	if body.FQDN != "" {
		addr, err := h.resolver.Resolve(body.FQDN)
		if err != nil {
			h.fail(c, err)
			return
		}
		if addr.Label != "" {
			h.fail(c, errorf(address.ErrMalformed, "%q names a child label, not a zone", body.FQDN))
			return
		}
		req.FQDN = addr.Zone
	}

	view, plaintext, err := h.store.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("zone created", zap.String("fqdn", view.FQDN))
	ok(c, plaintext, view)
}

// Get handles GET /domain/:name.
func (h *DomainHandler) Get(c *gin.Context) {
	h.read(c, c.Param("name"))
}

// GetText handles GET /domain/:name/txt.
func (h *DomainHandler) GetText(c *gin.Context) {
	h.read(c, c.Param("name")+"/txt")
}

func (h *DomainHandler) read(c *gin.Context, path string) {
	addr, err := h.resolver.Resolve(path)
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := h.store.Get(c.Request.Context(), addr, bearerToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, "", view)
}

// Update handles PUT /domain/:name: a full overwrite of the addressed host
// list, plus (for the apex) the whole subdomain map.
func (h *DomainHandler) Update(c *gin.Context) {
	addr, err := h.resolver.Resolve(c.Param("name"))
	if err != nil {
		h.fail(c, err)
		return
	}
	var body updateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, errorf(address.ErrMalformed, "decode body: %v", err))
		return
	}

	view, err := h.store.Update(c.Request.Context(), addr, bearerToken(c), zone.UpdateRequest{
		Hosts:      body.Hosts,
		Subdomains: body.Subdomain,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, "", view)
}

// WriteText handles POST and PUT on /domain/:name/txt. Both verbs share
// first-write-creates semantics, so they are one operation.
func (h *DomainHandler) WriteText(c *gin.Context) {
	addr, err := h.resolver.Resolve(c.Param("name") + "/txt")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body textBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, errorf(address.ErrMalformed, "decode body: %v", err))
		return
	}

	view, err := h.store.Update(c.Request.Context(), addr, bearerToken(c), zone.UpdateRequest{Text: body.Text})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, "", view)
}

// Renew handles PUT /domain/:name/renew.
func (h *DomainHandler) Renew(c *gin.Context) {
	addr, err := h.resolver.Resolve(c.Param("name") + "/renew")
	if err != nil {
		h.fail(c, err)
		return
	}
	view, err := h.store.Renew(c.Request.Context(), addr, bearerToken(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, "", view)
}

// Delete handles DELETE /domain/:name.
func (h *DomainHandler) Delete(c *gin.Context) {
	h.remove(c, c.Param("name"))
}

// DeleteText handles DELETE /domain/:name/txt.
func (h *DomainHandler) DeleteText(c *gin.Context) {
	h.remove(c, c.Param("name")+"/txt")
}

func (h *DomainHandler) remove(c *gin.Context, path string) {
	addr, err := h.resolver.Resolve(path)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.Delete(c.Request.Context(), addr, bearerToken(c)); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, "", nil)
}

// fail maps store and resolver errors onto the response envelope.
func (h *DomainHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, address.ErrMalformed), errors.Is(err, zone.ErrInvalidInput):
		status = http.StatusBadRequest
		msg = err.Error()
	case errors.Is(err, zone.ErrUnauthorized):
		// Same shape whether the token is wrong or the zone never existed.
		status = http.StatusForbidden
		msg = "forbidden"
	case errors.Is(err, zone.ErrConflict):
		status = http.StatusConflict
		msg = err.Error()
	default:
		h.logger.Error("domain operation failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.JSON(status, Envelope{Status: status, Message: msg, Data: gin.H{}})
}

// errorf wraps a sentinel with formatted detail.
func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...)
}
