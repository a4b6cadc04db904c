package zone

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPersister stores zones in a single table, one row per zone with
// the record tree as jsonb. See migrations/001_zones.up.sql.
type PostgresPersister struct {
	db *pgxpool.Pool
}

// NewPostgresPersister creates a PostgresPersister on the given pool.
func NewPostgresPersister(db *pgxpool.Pool) *PostgresPersister {
	return &PostgresPersister{db: db}
}

// records is the jsonb payload of a zone row.
type records struct {
	Apex     RecordSet             `json:"apex"`
	Children map[string]*RecordSet `json:"children,omitempty"`
}

// Save upserts the zone row. Called while the zone's lock is held, so the
// durable row never lags the visible state.
func (p *PostgresPersister) Save(ctx context.Context, z *Zone) error {
	blob, err := json.Marshal(records{Apex: z.Apex, Children: z.Children})
	if err != nil {
		return fmt.Errorf("encode zone records: %w", err)
	}
	_, err = p.db.Exec(ctx,
		`INSERT INTO zones (fqdn, token_digest, created_at, expires_at, records)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (fqdn) DO UPDATE
		 SET token_digest = EXCLUDED.token_digest,
		     expires_at   = EXCLUDED.expires_at,
		     records      = EXCLUDED.records`,
		z.FQDN, z.TokenDigest, z.CreatedAt, z.ExpiresAt, blob,
	)
	if err != nil {
		return fmt.Errorf("save zone %s: %w", z.FQDN, err)
	}
	return nil
}

// Delete removes the zone row. Deleting an absent row is not an error.
func (p *PostgresPersister) Delete(ctx context.Context, fqdn string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM zones WHERE fqdn = $1`, fqdn); err != nil {
		return fmt.Errorf("delete zone %s: %w", fqdn, err)
	}
	return nil
}

// LoadAll returns every stored zone. Expired rows are loaded too; the
// reaper removes them through the normal eviction path.
func (p *PostgresPersister) LoadAll(ctx context.Context) ([]*Zone, error) {
	rows, err := p.db.Query(ctx,
		`SELECT fqdn, token_digest, created_at, expires_at, records FROM zones`)
	if err != nil {
		return nil, fmt.Errorf("query zones: %w", err)
	}
	defer rows.Close()

	var zones []*Zone
	for rows.Next() {
		z := &Zone{}
		var blob []byte
		if err := rows.Scan(&z.FQDN, &z.TokenDigest, &z.CreatedAt, &z.ExpiresAt, &blob); err != nil {
			return nil, fmt.Errorf("scan zone row: %w", err)
		}
		var rec records
		if err := json.Unmarshal(blob, &rec); err != nil {
			return nil, fmt.Errorf("decode records for %s: %w", z.FQDN, err)
		}
		z.Apex = rec.Apex
		z.Children = rec.Children
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate zones: %w", err)
	}
	return zones, nil
}
