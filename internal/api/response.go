package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rdnslabs/rdns/internal/zone"
)

// Envelope is the response body of every /domain endpoint:
// {status, msg?, token?, data}. Status repeats the HTTP code so clients
// behind status-mangling proxies can still dispatch on it.
type Envelope struct {
	Status  int    `json:"status"`
	Message string `json:"msg,omitempty"`
	Token   string `json:"token,omitempty"`
	Data    any    `json:"data"`
}

// ok writes a success envelope. A nil or not-found view renders as an empty
// data object, never as an error: reads of absent resources succeed.
func ok(c *gin.Context, token string, view *zone.View) {
	c.JSON(200, Envelope{Status: 200, Token: token, Data: viewData(view)})
}

// viewData converts a store snapshot into the wire data object.
func viewData(v *zone.View) gin.H {
	if v == nil || !v.Found {
		return gin.H{}
	}
	if v.IsText {
		return gin.H{"fqdn": v.FQDN, "text": v.Text}
	}
	data := gin.H{"fqdn": v.FQDN, "hosts": v.Hosts}
	if v.IsApex {
		data["expiration"] = v.ExpiresAt
		if len(v.Subdomains) > 0 {
			data["subdomain"] = v.Subdomains
		}
	}
	return data
}
