package zone

import "context"

// Persister is the durable backing for the in-memory table. Writes happen
// while the zone's lock is held so the visible and durable states never
// diverge; a failed write aborts the in-memory mutation.
//
// *PostgresPersister satisfies this interface. NopPersister is used when no
// database is configured.
type Persister interface {
	Save(ctx context.Context, z *Zone) error
	Delete(ctx context.Context, fqdn string) error
	LoadAll(ctx context.Context) ([]*Zone, error)
}

// NopPersister keeps zones in memory only.
type NopPersister struct{}

func (NopPersister) Save(context.Context, *Zone) error          { return nil }
func (NopPersister) Delete(context.Context, string) error       { return nil }
func (NopPersister) LoadAll(context.Context) ([]*Zone, error)   { return nil, nil }
