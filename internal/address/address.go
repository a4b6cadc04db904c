// Package address parses the resource path of the /domain API into the
// coordinates the zone store operates on.
//
// Path format: {name}[/txt|/renew]
//
// Examples:
//
//	kx7f2a.lb.rdns.dev                      (zone apex, host records)
//	_acme-challenge.kx7f2a.lb.rdns.dev/txt  (text record on a child label)
//	kx7f2a.lb.rdns.dev/renew                (lease renewal)
//
// Child labels are addressed dotted onto the zone FQDN, so the resolver has
// to know the root domain under which zones live: one label below the root
// is the zone itself, anything further left is a child label inside it.
// Names outside the root domain are taken verbatim as the zone key and
// cannot carry child labels.
package address

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformed is returned for any path that cannot name a resource.
// Callers reject these before authorization or storage is consulted.
var ErrMalformed = errors.New("malformed resource address")

// RecordType selects which record of a RecordSet an operation targets.
type RecordType string

const (
	// TypeHosts targets the address list. This is the default.
	TypeHosts RecordType = "hosts"
	// TypeText targets the TXT value, selected by a trailing /txt segment.
	TypeText RecordType = "text"
)

// Action distinguishes record operations from lifecycle verbs.
type Action string

const (
	// ActionRecords reads or mutates the addressed record set.
	ActionRecords Action = "records"
	// ActionRenew extends the zone lease, selected by a trailing /renew.
	ActionRenew Action = "renew"
)

// Address is a fully resolved resource coordinate.
type Address struct {
	Name   string     // the dotted name as the caller wrote it, lowercased
	Zone   string     // zone key (FQDN)
	Label  string     // child label within the zone; empty for the apex
	Type   RecordType // hosts or text
	Action Action     // records or renew
}

// labelPattern accepts DNS labels plus the leading underscore convention
// used by challenge records (_acme-challenge and friends).
var labelPattern = regexp.MustCompile(`^_?[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Resolver decomposes request paths against a configured root domain.
type Resolver struct {
	root       string
	rootLabels int
}

// NewResolver creates a Resolver for the given root domain
// (e.g. "lb.rdns.dev"). The root is normalized to lower case with no
// trailing dot.
func NewResolver(rootDomain string) *Resolver {
	root := strings.ToLower(strings.Trim(rootDomain, "."))
	return &Resolver{
		root:       root,
		rootLabels: len(strings.Split(root, ".")),
	}
}

// Root returns the configured root domain.
func (r *Resolver) Root() string { return r.root }

// Resolve parses a path of the form "{name}[/txt|/renew]".
func (r *Resolver) Resolve(path string) (*Address, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrMalformed)
	}

	segments := strings.Split(path, "/")
	addr := &Address{Type: TypeHosts, Action: ActionRecords}

	switch len(segments) {
	case 1:
	case 2:
		switch segments[1] {
		case "txt":
			addr.Type = TypeText
		case "renew":
			addr.Action = ActionRenew
		default:
			return nil, fmt.Errorf("%w: unknown trailing segment %q", ErrMalformed, segments[1])
		}
	default:
		return nil, fmt.Errorf("%w: too many path segments", ErrMalformed)
	}

	name := strings.ToLower(strings.TrimSuffix(segments[0], "."))
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	addr.Name = name
	addr.Zone, addr.Label = r.split(name)
	if addr.Zone == "" {
		return nil, fmt.Errorf("%w: %q does not name a zone under %q", ErrMalformed, name, r.root)
	}
	if addr.Action == ActionRenew && addr.Label != "" {
		return nil, fmt.Errorf("%w: renew applies to the zone, not %q", ErrMalformed, name)
	}
	return addr, nil
}

// split separates a dotted name into zone key and child label.
func (r *Resolver) split(name string) (zone, label string) {
	if name == r.root {
		// The root domain itself is not a registrable zone.
		return "", ""
	}
	suffix := "." + r.root
	if !strings.HasSuffix(name, suffix) {
		// Caller-supplied name outside the root: the whole name is the zone.
		return name, ""
	}
	rel := strings.TrimSuffix(name, suffix)
	labels := strings.Split(rel, ".")
	zone = labels[len(labels)-1] + suffix
	if len(labels) > 1 {
		label = strings.Join(labels[:len(labels)-1], ".")
	}
	return zone, label
}

// ValidateName checks every label of a dotted name. It is also used to vet
// subdomain map keys before they become child labels.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMalformed)
	}
	if len(name) > 253 {
		return fmt.Errorf("%w: name exceeds 253 characters", ErrMalformed)
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" {
			return fmt.Errorf("%w: empty label in %q", ErrMalformed, name)
		}
		if len(label) > 63 {
			return fmt.Errorf("%w: label %q exceeds 63 characters", ErrMalformed, label)
		}
		if !labelPattern.MatchString(label) {
			return fmt.Errorf("%w: invalid label %q", ErrMalformed, label)
		}
	}
	return nil
}
