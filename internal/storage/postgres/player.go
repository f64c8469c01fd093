package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Player is one playable character owned by an account.
type Player struct {
	ID          int64
	AccountID   int64
	Name        string
	Team        int
	LastSafeMap string
	CreatedAt   time.Time
}

// ErrPlayerNotFound is returned when a player lookup yields no results.
var ErrPlayerNotFound = errors.New("player not found")

// ErrPlayerExists is returned when attempting to create a duplicate name.
var ErrPlayerExists = errors.New("player already exists")

// PlayerRepository provides player persistence, loaded at login to
// build the session profile.
type PlayerRepository struct {
	db *pgxpool.Pool
}

// NewPlayerRepository creates a PlayerRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewPlayerRepository(db *pgxpool.Pool) *PlayerRepository {
	return &PlayerRepository{db: db}
}

// Create inserts a new player for the account.
//
// Precondition: name must be non-empty.
// Postcondition: Returns the created Player with ID and CreatedAt set,
// or ErrPlayerExists if the name is taken.
func (r *PlayerRepository) Create(ctx context.Context, accountID int64, name string, team int) (Player, error) {
	var p Player
	err := r.db.QueryRow(ctx,
		`INSERT INTO players (account_id, name, team)
		 VALUES ($1, $2, $3)
		 RETURNING id, account_id, name, team, last_safe_map, created_at`,
		accountID, name, team,
	).Scan(&p.ID, &p.AccountID, &p.Name, &p.Team, &p.LastSafeMap, &p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Player{}, ErrPlayerExists
		}
		return Player{}, fmt.Errorf("inserting player: %w", err)
	}
	return p, nil
}

// GetByName retrieves a player by character name.
//
// Postcondition: Returns the Player or ErrPlayerNotFound.
func (r *PlayerRepository) GetByName(ctx context.Context, name string) (Player, error) {
	var p Player
	err := r.db.QueryRow(ctx,
		`SELECT id, account_id, name, team, last_safe_map, created_at
		 FROM players WHERE name = $1`,
		name,
	).Scan(&p.ID, &p.AccountID, &p.Name, &p.Team, &p.LastSafeMap, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, ErrPlayerNotFound
		}
		return Player{}, fmt.Errorf("querying player: %w", err)
	}
	return p, nil
}

// ListByAccount returns every player owned by the account, oldest first.
func (r *PlayerRepository) ListByAccount(ctx context.Context, accountID int64) ([]Player, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, name, team, last_safe_map, created_at
		 FROM players WHERE account_id = $1 ORDER BY created_at`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying players of account %d: %w", accountID, err)
	}
	defer rows.Close()

	var out []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.ID, &p.AccountID, &p.Name, &p.Team, &p.LastSafeMap, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating players: %w", err)
	}
	return out, nil
}

// SetLastSafeMap records where the player should return after a party
// defeat.
//
// Postcondition: Returns ErrPlayerNotFound if the player is unknown.
func (r *PlayerRepository) SetLastSafeMap(ctx context.Context, playerID int64, mapID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE players SET last_safe_map = $1 WHERE id = $2`,
		mapID, playerID,
	)
	if err != nil {
		return fmt.Errorf("updating last safe map: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPlayerNotFound
	}
	return nil
}
