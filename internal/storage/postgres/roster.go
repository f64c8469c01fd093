package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RosterRepository answers the guild and friend roster queries the
// message dispatcher needs when fanning out bus notifications.
type RosterRepository struct {
	db *pgxpool.Pool
}

// NewRosterRepository creates a RosterRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRosterRepository(db *pgxpool.Pool) *RosterRepository {
	return &RosterRepository{db: db}
}

// GuildMemberIDs returns the player ids of every character whose
// account belongs to the guild.
func (r *RosterRepository) GuildMemberIDs(ctx context.Context, guildUUID uuid.UUID) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.id
		 FROM players p
		 JOIN accounts a ON a.id = p.account_id
		 WHERE a.guild_uuid = $1`,
		guildUUID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying guild roster %s: %w", guildUUID, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// FriendIDs returns the player ids of everyone who has one of the
// account's characters on their friend list. These are the players to
// notify when the account's info changes.
func (r *RosterRepository) FriendIDs(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT f.player_id
		 FROM friends f
		 JOIN players p ON p.id = f.friend_player_id
		 WHERE p.account_id = $1`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying friends of account %d: %w", accountID, err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// AccountGuild returns the account's guild, or false when the account is
// unguilded or unknown.
func (r *RosterRepository) AccountGuild(ctx context.Context, accountID int64) (uuid.UUID, bool, error) {
	var guildUUID *uuid.UUID
	err := r.db.QueryRow(ctx,
		`SELECT guild_uuid FROM accounts WHERE id = $1`,
		accountID,
	).Scan(&guildUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("querying guild of account %d: %w", accountID, err)
	}
	if guildUUID == nil {
		return uuid.Nil, false, nil
	}
	return *guildUUID, true, nil
}

// AddFriend records that owner has friend on their list; duplicates are
// ignored.
func (r *RosterRepository) AddFriend(ctx context.Context, ownerPlayerID, friendPlayerID int64) error {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO friends (player_id, friend_player_id)
		 VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		ownerPlayerID, friendPlayerID,
	); err != nil {
		return fmt.Errorf("adding friend %d -> %d: %w", ownerPlayerID, friendPlayerID, err)
	}
	return nil
}

// RemoveFriend drops a friend-list entry; removing a missing entry is a
// no-op.
func (r *RosterRepository) RemoveFriend(ctx context.Context, ownerPlayerID, friendPlayerID int64) error {
	if _, err := r.db.Exec(ctx,
		`DELETE FROM friends WHERE player_id = $1 AND friend_player_id = $2`,
		ownerPlayerID, friendPlayerID,
	); err != nil {
		return fmt.Errorf("removing friend %d -> %d: %w", ownerPlayerID, friendPlayerID, err)
	}
	return nil
}

func scanIDs(rows pgx.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ids: %w", err)
	}
	return ids, nil
}
