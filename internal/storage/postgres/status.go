package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerStatus is one cluster member's latest heartbeat.
type ServerStatus struct {
	Name      string
	Addr      string
	Sessions  int
	UpdatedAt time.Time
}

// StatusRepository records per-process load heartbeats so cluster
// tooling can see which shards are alive and how loaded they are.
type StatusRepository struct {
	db *pgxpool.Pool
}

// NewStatusRepository creates a StatusRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewStatusRepository(db *pgxpool.Pool) *StatusRepository {
	return &StatusRepository{db: db}
}

// Heartbeat upserts this process's status row.
func (r *StatusRepository) Heartbeat(ctx context.Context, name, addr string, sessions int) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO server_status (name, addr, sessions, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (name) DO UPDATE
		 SET addr = EXCLUDED.addr, sessions = EXCLUDED.sessions, updated_at = now()`,
		name, addr, sessions,
	); err != nil {
		return fmt.Errorf("recording heartbeat for %s: %w", name, err)
	}
	return nil
}

// List returns every recorded status row, stalest first.
func (r *StatusRepository) List(ctx context.Context) ([]ServerStatus, error) {
	rows, err := r.db.Query(ctx,
		`SELECT name, addr, sessions, updated_at
		 FROM server_status ORDER BY updated_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying server status: %w", err)
	}
	defer rows.Close()

	var out []ServerStatus
	for rows.Next() {
		var s ServerStatus
		if err := rows.Scan(&s.Name, &s.Addr, &s.Sessions, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning server status: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating server status: %w", err)
	}
	return out, nil
}

// Delete removes this process's status row at shutdown; deleting a
// missing row is a no-op.
func (r *StatusRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM server_status WHERE name = $1`, name); err != nil {
		return fmt.Errorf("deleting status for %s: %w", name, err)
	}
	return nil
}
