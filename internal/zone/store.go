// Package zone implements the authoritative table of registered zones: the
// data model, token-gated operations, per-zone locking, durable write-through
// and the expiration reaper.
package zone

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rdnslabs/rdns/internal/address"
	"github.com/rdnslabs/rdns/internal/token"
	"go.uber.org/zap"
)

const (
	// shardCount fixes the number of lock shards in the zone table.
	// Operations on zones in different shards never touch the same map
	// mutex; operations on different zones never share a zone mutex.
	shardCount = 32

	// DefaultTTL is the lease granted on creation and renewal when the
	// configuration does not override it. Matches the 10-day lease the
	// public rdns deployments hand out.
	DefaultTTL = 240 * time.Hour

	// DefaultNameLength is the length of generated zone name labels.
	DefaultNameLength = 6

	// nameAttempts bounds collision retries during name generation.
	nameAttempts = 5
)

// errZoneMissing is the internal marker for "no such zone". Each operation
// maps it to its own externally visible behavior: empty result for reads,
// ErrUnauthorized for mutations, silent success for deletes.
var errZoneMissing = errors.New("zone not present")

// Config carries the store policy knobs.
type Config struct {
	RootDomain string        // domain under which names are generated
	TTL        time.Duration // lease length; DefaultTTL when zero
	NameLength int           // generated label length; DefaultNameLength when zero
}

// CreateRequest is the payload of a zone creation.
type CreateRequest struct {
	FQDN       string              // empty means "assign one"
	Hosts      []string            // apex host list, required
	Subdomains map[string][]string // child label -> host list
}

// UpdateRequest is the payload of a record update. Which fields apply is
// decided by the record type of the target address.
type UpdateRequest struct {
	Hosts      []string
	Subdomains map[string][]string // apex updates only; nil leaves children alone
	Text       string
}

// View is a read-only snapshot of the addressed records, safe to hand to
// callers after the zone lock is released. Found=false renders as an empty
// payload: absence is a normal result, never an error.
type View struct {
	Found      bool
	FQDN       string
	Hosts      []string
	Subdomains map[string][]string
	Text       string
	ExpiresAt  time.Time
	IsApex     bool
	IsText     bool
}

type entry struct {
	mu      sync.Mutex
	expires atomic.Int64 // unix nanoseconds; mirrors zone.ExpiresAt for lock-free scans
	zone    *Zone        // nil once the zone is deleted or evicted
}

type shard struct {
	mu    sync.RWMutex
	zones map[string]*entry
}

// Store is the zone table. All exported operations are safe for concurrent
// use; each serializes against other operations on the same zone only.
type Store struct {
	cfg     Config
	persist Persister
	logger  *zap.Logger
	shards  [shardCount]*shard
}

// NewStore creates a Store backed by the given persister. Pass
// NopPersister{} for memory-only operation.
func NewStore(cfg Config, persist Persister, logger *zap.Logger) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.NameLength <= 0 {
		cfg.NameLength = DefaultNameLength
	}
	s := &Store{cfg: cfg, persist: persist, logger: logger}
	for i := range s.shards {
		s.shards[i] = &shard{zones: make(map[string]*entry)}
	}
	return s
}

// Load restores surviving zones from the persister. Called once at startup,
// before the store is exposed to traffic.
func (s *Store) Load(ctx context.Context) error {
	zones, err := s.persist.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load zones: %w", err)
	}
	for _, z := range zones {
		e := &entry{zone: z}
		e.expires.Store(z.ExpiresAt.UnixNano())
		sh := s.shardFor(z.FQDN)
		sh.mu.Lock()
		sh.zones[z.FQDN] = e
		sh.mu.Unlock()
	}
	zonesLive.Add(float64(len(zones)))
	if len(zones) > 0 {
		s.logger.Info("restored zones from storage", zap.Int("count", len(zones)))
	}
	return nil
}

// Len returns the number of live zones.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.zones)
		sh.mu.RUnlock()
	}
	return n
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	return s.shards[h.Sum32()%shardCount]
}

// Create registers a new zone and issues its bearer token. When req.FQDN is
// empty a fresh name is generated under the root domain, retrying on
// collision. A caller-supplied name that is already registered fails with
// ErrConflict.
func (s *Store) Create(ctx context.Context, req CreateRequest) (*View, string, error) {
	if err := validateHosts(req.Hosts); err != nil {
		return nil, "", err
	}
	for label, hosts := range req.Subdomains {
		if err := address.ValidateName(label); err != nil {
			return nil, "", fmt.Errorf("%w: bad subdomain label %q", ErrInvalidInput, label)
		}
		if err := validateHosts(hosts); err != nil {
			return nil, "", fmt.Errorf("subdomain %q: %w", label, err)
		}
	}

	plaintext, digest, err := token.Issue()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
	}

	now := time.Now().UTC()
	z := &Zone{
		TokenDigest: digest,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.TTL),
		Apex:        RecordSet{Hosts: append([]string(nil), req.Hosts...)},
	}
	for label, hosts := range req.Subdomains {
		z.ensureChild(label).Hosts = append([]string(nil), hosts...)
	}

	assigned := req.FQDN == ""
	attempts := 1
	if assigned {
		attempts = nameAttempts
	} else {
		z.FQDN = req.FQDN
	}

	for i := 0; i < attempts; i++ {
		if assigned {
			label, err := randomLabel(s.cfg.NameLength)
			if err != nil {
				return nil, "", fmt.Errorf("%w: %v", ErrInternal, err)
			}
			z.FQDN = label + "." + s.cfg.RootDomain
		}
		view, err := s.insert(ctx, z)
		if err == nil {
			return view, plaintext, nil
		}
		if !errors.Is(err, ErrConflict) || !assigned {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("%w: could not allocate a free name", ErrInternal)
}

// insert publishes a fully built zone, holding its entry lock across the
// durable write so no request observes it before it is persisted.
func (s *Store) insert(ctx context.Context, z *Zone) (*View, error) {
	e := &entry{zone: z}
	e.expires.Store(z.ExpiresAt.UnixNano())
	e.mu.Lock()
	defer e.mu.Unlock()

	sh := s.shardFor(z.FQDN)
	sh.mu.Lock()
	if _, taken := sh.zones[z.FQDN]; taken {
		sh.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrConflict, z.FQDN)
	}
	sh.zones[z.FQDN] = e
	sh.mu.Unlock()

	if err := s.persist.Save(context.WithoutCancel(ctx), z); err != nil {
		sh.mu.Lock()
		delete(sh.zones, z.FQDN)
		sh.mu.Unlock()
		e.zone = nil
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	zonesLive.Inc()
	zonesCreatedTotal.Inc()
	return apexView(z), nil
}

// withZone runs fn under the zone's exclusive section. The entry is looked
// up without holding any zone lock, then re-checked once locked so a
// concurrent delete or eviction is observed as absence.
func (s *Store) withZone(key string, fn func(e *entry) error) error {
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.zones[key]
	sh.mu.RUnlock()
	if !ok {
		return errZoneMissing
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.zone == nil {
		return errZoneMissing
	}
	return fn(e)
}

func authorize(z *Zone, presented string) error {
	if !token.Verify(z.TokenDigest, presented) {
		return ErrUnauthorized
	}
	return nil
}

// Get returns a snapshot of the addressed records. A zone, child or record
// that does not exist yields an empty snapshot: after a delete, reads look
// exactly like the zone never existed.
func (s *Store) Get(ctx context.Context, addr *address.Address, presented string) (*View, error) {
	var view *View
	err := s.withZone(addr.Zone, func(e *entry) error {
		if err := authorize(e.zone, presented); err != nil {
			return err
		}
		view = viewFor(e.zone, addr)
		return nil
	})
	if errors.Is(err, errZoneMissing) {
		return &View{}, nil
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Update overwrites the addressed record. It is a full replacement, never a
// merge, so a retry after a failure is always safe. Writing to a child label
// that does not exist yet creates it. The zone lease is not touched.
func (s *Store) Update(ctx context.Context, addr *address.Address, presented string, req UpdateRequest) (*View, error) {
	if addr.Type == address.TypeText {
		if req.Text == "" {
			return nil, fmt.Errorf("%w: text value must not be empty", ErrInvalidInput)
		}
	} else {
		if err := validateHosts(req.Hosts); err != nil {
			return nil, err
		}
		if addr.Label == "" && req.Subdomains != nil {
			for label, hosts := range req.Subdomains {
				if err := address.ValidateName(label); err != nil {
					return nil, fmt.Errorf("%w: bad subdomain label %q", ErrInvalidInput, label)
				}
				if err := validateHosts(hosts); err != nil {
					return nil, fmt.Errorf("subdomain %q: %w", label, err)
				}
			}
		}
	}

	var view *View
	err := s.withZone(addr.Zone, func(e *entry) error {
		if err := authorize(e.zone, presented); err != nil {
			return err
		}

		next := e.zone.Clone()
		switch {
		case addr.Type == address.TypeText:
			next.ensureChild(addr.Label).Text = req.Text
		case addr.Label != "":
			next.ensureChild(addr.Label).Hosts = append([]string(nil), req.Hosts...)
		default:
			next.Apex.Hosts = append([]string(nil), req.Hosts...)
			if req.Subdomains != nil {
				replaceChildHosts(next, req.Subdomains)
			}
		}

		if err := s.persist.Save(context.WithoutCancel(ctx), next); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		e.zone = next
		view = viewFor(next, addr)
		return nil
	})
	if errors.Is(err, errZoneMissing) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// replaceChildHosts makes subs the complete set of child host lists: named
// children are overwritten or created, unnamed children lose their hosts.
// Text values survive; a child left with neither hosts nor text is dropped.
func replaceChildHosts(z *Zone, subs map[string][]string) {
	for label, rs := range z.Children {
		if _, keep := subs[label]; !keep {
			rs.Hosts = nil
			if rs.Empty() {
				delete(z.Children, label)
			}
		}
	}
	for label, hosts := range subs {
		z.ensureChild(label).Hosts = append([]string(nil), hosts...)
	}
}

// Renew extends the zone lease to now+TTL. The new expiration is never
// earlier than the previous one, so a renewal cannot shorten a lease even
// when clocks disagree between requests.
func (s *Store) Renew(ctx context.Context, addr *address.Address, presented string) (*View, error) {
	var view *View
	err := s.withZone(addr.Zone, func(e *entry) error {
		if err := authorize(e.zone, presented); err != nil {
			return err
		}

		next := time.Now().UTC().Add(s.cfg.TTL)
		if next.Before(e.zone.ExpiresAt) {
			view = apexView(e.zone)
			return nil
		}

		renewed := e.zone.Clone()
		renewed.ExpiresAt = next
		if err := s.persist.Save(context.WithoutCancel(ctx), renewed); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		e.zone = renewed
		e.expires.Store(next.UnixNano())
		view = apexView(renewed)
		return nil
	})
	if errors.Is(err, errZoneMissing) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Delete removes the addressed resource. Deleting the apex removes the zone
// and every child atomically and invalidates its token. Deleting a child or
// a text value removes only that piece. A missing target is a successful
// no-op; delete is idempotent by design.
func (s *Store) Delete(ctx context.Context, addr *address.Address, presented string) error {
	err := s.withZone(addr.Zone, func(e *entry) error {
		if err := authorize(e.zone, presented); err != nil {
			return err
		}

		if addr.Label == "" && addr.Type == address.TypeHosts {
			return s.dropZone(ctx, e, "deleted")
		}

		next := e.zone.Clone()
		if !clearRecord(next, addr) {
			return nil // nothing to remove
		}
		if err := s.persist.Save(context.WithoutCancel(ctx), next); err != nil {
			return fmt.Errorf("%w: %v", ErrInternal, err)
		}
		e.zone = next
		return nil
	})
	if errors.Is(err, errZoneMissing) {
		return nil
	}
	return err
}

// clearRecord removes the addressed record from z, reporting whether
// anything changed.
func clearRecord(z *Zone, addr *address.Address) bool {
	rs := z.child(addr.Label)
	if rs == nil {
		return false
	}
	switch addr.Type {
	case address.TypeText:
		if rs.Text == "" {
			return false
		}
		rs.Text = ""
	default:
		if addr.Label == "" {
			return false // apex host deletion is zone deletion, handled above
		}
		if len(rs.Hosts) == 0 {
			return false
		}
		rs.Hosts = nil
	}
	if addr.Label != "" && rs.Empty() {
		delete(z.Children, addr.Label)
	}
	return true
}

// dropZone removes a zone while its entry lock is held. The entry is marked
// dead before it is unlinked so racing operations that already hold a
// reference observe absence.
func (s *Store) dropZone(ctx context.Context, e *entry, cause string) error {
	fqdn := e.zone.FQDN
	if err := s.persist.Delete(context.WithoutCancel(ctx), fqdn); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	e.zone = nil
	e.expires.Store(0)

	sh := s.shardFor(fqdn)
	sh.mu.Lock()
	if cur, ok := sh.zones[fqdn]; ok && cur == e {
		delete(sh.zones, fqdn)
	}
	sh.mu.Unlock()

	zonesLive.Dec()
	zonesEvictedTotal.WithLabelValues(cause).Inc()
	return nil
}

// Sweep evicts every zone whose lease expired before now. Candidates are
// collected from the atomic expiry stamps without taking any zone lock;
// expiry is re-checked under the lock so a concurrent Renew always wins.
// A persistence failure skips that zone and the sweep moves on.
func (s *Store) Sweep(ctx context.Context, now time.Time) int {
	deadline := now.UnixNano()

	type candidate struct {
		key string
		e   *entry
	}
	var candidates []candidate
	for _, sh := range s.shards {
		sh.mu.RLock()
		for key, e := range sh.zones {
			if exp := e.expires.Load(); exp != 0 && exp <= deadline {
				candidates = append(candidates, candidate{key, e})
			}
		}
		sh.mu.RUnlock()
	}

	evicted := 0
	for _, c := range candidates {
		c.e.mu.Lock()
		z := c.e.zone
		if z == nil || z.ExpiresAt.UnixNano() > deadline {
			c.e.mu.Unlock() // renewed or already gone
			continue
		}
		if err := s.dropZone(ctx, c.e, "expired"); err != nil {
			s.logger.Warn("evict expired zone", zap.String("fqdn", z.FQDN), zap.Error(err))
			c.e.mu.Unlock()
			continue
		}
		c.e.mu.Unlock()
		evicted++
	}
	return evicted
}

// ── snapshot builders ────────────────────────────────────────────────────

func apexView(z *Zone) *View {
	v := &View{
		Found:     true,
		FQDN:      z.FQDN,
		Hosts:     append([]string(nil), z.Apex.Hosts...),
		ExpiresAt: z.ExpiresAt,
		IsApex:    true,
	}
	if len(z.Children) > 0 {
		v.Subdomains = make(map[string][]string, len(z.Children))
		for label, rs := range z.Children {
			if len(rs.Hosts) > 0 {
				v.Subdomains[label] = append([]string(nil), rs.Hosts...)
			}
		}
		if len(v.Subdomains) == 0 {
			v.Subdomains = nil
		}
	}
	return v
}

func viewFor(z *Zone, addr *address.Address) *View {
	if addr.Type == address.TypeText {
		rs := z.child(addr.Label)
		if rs == nil || rs.Text == "" {
			return &View{}
		}
		return &View{Found: true, FQDN: addr.Name, Text: rs.Text, IsText: true}
	}
	if addr.Label == "" {
		return apexView(z)
	}
	rs := z.child(addr.Label)
	if rs == nil || len(rs.Hosts) == 0 {
		return &View{}
	}
	return &View{
		Found: true,
		FQDN:  addr.Name,
		Hosts: append([]string(nil), rs.Hosts...),
	}
}
