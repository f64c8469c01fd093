package storage

import (
	"context"

	"github.com/google/uuid"
)

// RosterSource is the uncached roster query surface, implemented by the
// postgres roster repository.
type RosterSource interface {
	GuildMemberIDs(ctx context.Context, guildUUID uuid.UUID) ([]int64, error)
	FriendIDs(ctx context.Context, accountID int64) ([]int64, error)
	AccountGuild(ctx context.Context, accountID int64) (uuid.UUID, bool, error)
}

// Roster caches roster lookups. Guild chat fans out on every line, so
// the roster of an active guild is read far more often than it changes;
// a player-info-changed notification invalidates the affected keys.
type Roster struct {
	src          RosterSource
	guilds       *Cache[uuid.UUID, []int64]
	friends      *Cache[int64, []int64]
	accountGuild *Cache[int64, uuid.UUID]
}

// NewRoster wraps a roster source in read-through caches.
func NewRoster(src RosterSource) *Roster {
	return &Roster{
		src: src,
		guilds: NewCache(func(ctx context.Context, id uuid.UUID) ([]int64, bool, error) {
			ids, err := src.GuildMemberIDs(ctx, id)
			return ids, err == nil, err
		}),
		friends: NewCache(func(ctx context.Context, accountID int64) ([]int64, bool, error) {
			ids, err := src.FriendIDs(ctx, accountID)
			return ids, err == nil, err
		}),
		accountGuild: NewCache(func(ctx context.Context, accountID int64) (uuid.UUID, bool, error) {
			return src.AccountGuild(ctx, accountID)
		}),
	}
}

// GuildMemberIDs returns the cached guild roster.
func (r *Roster) GuildMemberIDs(ctx context.Context, guildUUID uuid.UUID) ([]int64, error) {
	ids, _, err := r.guilds.Get(ctx, guildUUID)
	return ids, err
}

// FriendIDs returns the cached reverse friend list for an account.
func (r *Roster) FriendIDs(ctx context.Context, accountID int64) ([]int64, error) {
	ids, _, err := r.friends.Get(ctx, accountID)
	return ids, err
}

// AccountGuild returns the account's guild, or false when unguilded.
func (r *Roster) AccountGuild(ctx context.Context, accountID int64) (uuid.UUID, bool, error) {
	return r.accountGuild.Get(ctx, accountID)
}

// InvalidateGuild drops the cached roster for one guild.
func (r *Roster) InvalidateGuild(guildUUID uuid.UUID) {
	r.guilds.Invalidate(guildUUID)
}

// InvalidateAccount drops every cache entry keyed by the account, used
// when a player-info-changed notification reports a roster edit. After
// a guild change both the departed and the joined guild roster are
// stale, so the account's guild is re-read and dropped on both sides of
// the account-guild invalidation.
func (r *Roster) InvalidateAccount(ctx context.Context, accountID int64) {
	if guildUUID, ok, err := r.accountGuild.Get(ctx, accountID); err == nil && ok {
		r.guilds.Invalidate(guildUUID)
	}
	r.friends.Invalidate(accountID)
	r.accountGuild.Invalidate(accountID)
	if guildUUID, ok, err := r.accountGuild.Get(ctx, accountID); err == nil && ok {
		r.guilds.Invalidate(guildUUID)
	}
}
