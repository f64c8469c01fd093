package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saltmarsh-games/shardd/internal/game/group"
)

// PartyRepository persists party records keyed by uuid. It backs the
// group registry's read/create/update cycle; membership itself is
// process-local and never stored.
type PartyRepository struct {
	db *pgxpool.Pool
}

// NewPartyRepository creates a PartyRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPartyRepository(db *pgxpool.Pool) *PartyRepository {
	return &PartyRepository{db: db}
}

// ReadParty loads one party record.
//
// Postcondition: Returns found=false with no error when the uuid is
// unknown.
func (r *PartyRepository) ReadParty(ctx context.Context, id uuid.UUID) (group.Record, bool, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		`SELECT vars FROM parties WHERE uuid = $1`,
		id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return group.Record{}, false, nil
		}
		return group.Record{}, false, fmt.Errorf("querying party %s: %w", id, err)
	}

	rec := group.Record{UUID: id}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Vars); err != nil {
			return group.Record{}, false, fmt.Errorf("decoding party vars %s: %w", id, err)
		}
	}
	return rec, true, nil
}

// CreateParty inserts a fresh party record.
//
// Postcondition: Returns an error on uuid conflict; the existing record
// is untouched.
func (r *PartyRepository) CreateParty(ctx context.Context, rec group.Record) error {
	raw, err := encodeVars(rec.Vars)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO parties (uuid, vars) VALUES ($1, $2)`,
		rec.UUID, raw,
	); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("party %s already exists", rec.UUID)
		}
		return fmt.Errorf("inserting party %s: %w", rec.UUID, err)
	}
	return nil
}

// UpdateParty rewrites a party record's variables.
//
// Postcondition: Returns an error when the uuid is unknown.
func (r *PartyRepository) UpdateParty(ctx context.Context, rec group.Record) error {
	raw, err := encodeVars(rec.Vars)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE parties SET vars = $1, updated_at = now() WHERE uuid = $2`,
		raw, rec.UUID,
	)
	if err != nil {
		return fmt.Errorf("updating party %s: %w", rec.UUID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("party %s not found", rec.UUID)
	}
	return nil
}

// DeleteParty removes a party record; deleting an unknown uuid is a
// no-op.
func (r *PartyRepository) DeleteParty(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM parties WHERE uuid = $1`, id); err != nil {
		return fmt.Errorf("deleting party %s: %w", id, err)
	}
	return nil
}

func encodeVars(vars map[string]string) ([]byte, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	raw, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encoding party vars: %w", err)
	}
	return raw, nil
}
