package zone

import (
	"fmt"
	"net/netip"
	"time"
)

// RecordSet holds the resources attached to one name in a zone: an A-style
// host address list and an optional TXT value. The two fields are
// independent; writing one never clears the other.
type RecordSet struct {
	Hosts []string `json:"hosts,omitempty"`
	Text  string   `json:"text,omitempty"`
}

// Empty reports whether the record set carries no data at all.
func (rs *RecordSet) Empty() bool {
	return len(rs.Hosts) == 0 && rs.Text == ""
}

// Clone returns a deep copy.
func (rs *RecordSet) Clone() *RecordSet {
	cp := &RecordSet{Text: rs.Text}
	if rs.Hosts != nil {
		cp.Hosts = append([]string(nil), rs.Hosts...)
	}
	return cp
}

// Zone is the root entity: one FQDN, its apex records, and the record sets
// of its child labels. Children share the zone's token and lease; they have
// no lifecycle of their own.
type Zone struct {
	FQDN        string                `json:"fqdn"`
	TokenDigest string                `json:"-"`
	CreatedAt   time.Time             `json:"createdAt"`
	ExpiresAt   time.Time             `json:"expiresAt"`
	Apex        RecordSet             `json:"apex"`
	Children    map[string]*RecordSet `json:"children,omitempty"`
}

// Clone returns a deep copy. Store mutations operate on a clone and swap it
// in only after the durable write succeeds, so a failed persist leaves the
// visible state untouched.
func (z *Zone) Clone() *Zone {
	cp := &Zone{
		FQDN:        z.FQDN,
		TokenDigest: z.TokenDigest,
		CreatedAt:   z.CreatedAt,
		ExpiresAt:   z.ExpiresAt,
		Apex:        *z.Apex.Clone(),
	}
	if z.Children != nil {
		cp.Children = make(map[string]*RecordSet, len(z.Children))
		for label, rs := range z.Children {
			cp.Children[label] = rs.Clone()
		}
	}
	return cp
}

// child returns the record set for label, or nil if it does not exist.
// The empty label addresses the apex.
func (z *Zone) child(label string) *RecordSet {
	if label == "" {
		return &z.Apex
	}
	return z.Children[label]
}

// ensureChild returns the record set for label, creating it on first write.
func (z *Zone) ensureChild(label string) *RecordSet {
	if label == "" {
		return &z.Apex
	}
	if z.Children == nil {
		z.Children = make(map[string]*RecordSet)
	}
	rs, ok := z.Children[label]
	if !ok {
		rs = &RecordSet{}
		z.Children[label] = rs
	}
	return rs
}

// validateHosts checks that hosts is non-empty and every entry parses as an
// IP address.
func validateHosts(hosts []string) error {
	if len(hosts) == 0 {
		return fmt.Errorf("%w: host list must not be empty", ErrInvalidInput)
	}
	for _, h := range hosts {
		if _, err := netip.ParseAddr(h); err != nil {
			return fmt.Errorf("%w: invalid host address %q", ErrInvalidInput, h)
		}
	}
	return nil
}
