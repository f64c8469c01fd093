package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saltmarsh-games/shardd/internal/game/group"
	"github.com/saltmarsh-games/shardd/internal/storage/postgres"
	"github.com/saltmarsh-games/shardd/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestAccountRepository_CreateAndAuthenticate(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewAccountRepository(pool)
	ctx := context.Background()
	username := uniqueName("user")

	acct, err := repo.Create(ctx, username, "password123")
	require.NoError(t, err)
	assert.Greater(t, acct.ID, int64(0))
	assert.Equal(t, postgres.CapPlayer, acct.Capability)
	assert.Nil(t, acct.GuildUUID)

	_, err = repo.Create(ctx, username, "password123")
	assert.ErrorIs(t, err, postgres.ErrAccountExists)

	got, err := repo.Authenticate(ctx, username, "password123")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)

	_, err = repo.Authenticate(ctx, username, "wrong")
	assert.ErrorIs(t, err, postgres.ErrInvalidCredentials)

	_, err = repo.Authenticate(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, postgres.ErrAccountNotFound)
}

func TestAccountRepository_SetCapabilityAndGuild(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewAccountRepository(pool)
	ctx := context.Background()

	acct, err := repo.Create(ctx, uniqueName("user"), "password123")
	require.NoError(t, err)

	require.NoError(t, repo.SetCapability(ctx, acct.ID, postgres.CapGameMaster))
	assert.ErrorIs(t, repo.SetCapability(ctx, acct.ID, 13), postgres.ErrInvalidCapability)
	assert.ErrorIs(t, repo.SetCapability(ctx, 999999, postgres.CapAdmin), postgres.ErrAccountNotFound)

	guild := uuid.New()
	require.NoError(t, repo.SetGuild(ctx, acct.ID, &guild))

	got, err := repo.GetByUsername(ctx, acct.Username)
	require.NoError(t, err)
	assert.Equal(t, postgres.CapGameMaster, got.Capability)
	require.NotNil(t, got.GuildUUID)
	assert.Equal(t, guild, *got.GuildUUID)

	require.NoError(t, repo.SetGuild(ctx, acct.ID, nil))
	got, err = repo.GetByUsername(ctx, acct.Username)
	require.NoError(t, err)
	assert.Nil(t, got.GuildUUID)
}

func TestPlayerRepository(t *testing.T) {
	pool := testutil.NewPool(t)
	accounts := postgres.NewAccountRepository(pool)
	players := postgres.NewPlayerRepository(pool)
	ctx := context.Background()

	acct, err := accounts.Create(ctx, uniqueName("user"), "password123")
	require.NoError(t, err)

	name := uniqueName("hero")
	p, err := players.Create(ctx, acct.ID, name, 1)
	require.NoError(t, err)
	assert.Greater(t, p.ID, int64(0))

	_, err = players.Create(ctx, acct.ID, name, 1)
	assert.ErrorIs(t, err, postgres.ErrPlayerExists)

	got, err := players.GetByName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = players.GetByName(ctx, "nobody")
	assert.ErrorIs(t, err, postgres.ErrPlayerNotFound)

	require.NoError(t, players.SetLastSafeMap(ctx, p.ID, "haven"))
	list, err := players.ListByAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "haven", list[0].LastSafeMap)
}

func TestPartyRepository_ImplementsGroupStore(t *testing.T) {
	pool := testutil.NewPool(t)
	var store group.Store = postgres.NewPartyRepository(pool)
	ctx := context.Background()

	id := uuid.New()
	_, found, err := store.ReadParty(ctx, id)
	require.NoError(t, err)
	assert.False(t, found)

	rec := group.Record{UUID: id, Vars: map[string]string{"loot_rule": "round-robin"}}
	require.NoError(t, store.CreateParty(ctx, rec))
	assert.Error(t, store.CreateParty(ctx, rec), "duplicate uuid conflicts")

	got, found, err := store.ReadParty(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "round-robin", got.Vars["loot_rule"])

	rec.Vars["loot_rule"] = "free-for-all"
	require.NoError(t, store.UpdateParty(ctx, rec))
	got, _, err = store.ReadParty(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "free-for-all", got.Vars["loot_rule"])

	assert.Error(t, store.UpdateParty(ctx, group.Record{UUID: uuid.New()}))
}

func TestRosterRepository(t *testing.T) {
	pool := testutil.NewPool(t)
	accounts := postgres.NewAccountRepository(pool)
	players := postgres.NewPlayerRepository(pool)
	roster := postgres.NewRosterRepository(pool)
	ctx := context.Background()

	guild := uuid.New()
	a1, err := accounts.Create(ctx, uniqueName("a1"), "password123")
	require.NoError(t, err)
	a2, err := accounts.Create(ctx, uniqueName("a2"), "password123")
	require.NoError(t, err)
	a3, err := accounts.Create(ctx, uniqueName("a3"), "password123")
	require.NoError(t, err)
	require.NoError(t, accounts.SetGuild(ctx, a1.ID, &guild))
	require.NoError(t, accounts.SetGuild(ctx, a2.ID, &guild))

	p1, err := players.Create(ctx, a1.ID, uniqueName("p1"), 0)
	require.NoError(t, err)
	p2, err := players.Create(ctx, a2.ID, uniqueName("p2"), 0)
	require.NoError(t, err)
	p3, err := players.Create(ctx, a3.ID, uniqueName("p3"), 0)
	require.NoError(t, err)

	members, err := roster.GuildMemberIDs(ctx, guild)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{p1.ID, p2.ID}, members)

	gu, ok, err := roster.AccountGuild(ctx, a1.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, guild, gu)

	_, ok, err = roster.AccountGuild(ctx, a3.ID)
	require.NoError(t, err)
	assert.False(t, ok, "unguilded account")

	// p3 adds p1 to their friend list; a1's info changes should notify p3.
	require.NoError(t, roster.AddFriend(ctx, p3.ID, p1.ID))
	require.NoError(t, roster.AddFriend(ctx, p3.ID, p1.ID), "duplicate add is a no-op")

	friends, err := roster.FriendIDs(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{p3.ID}, friends)

	require.NoError(t, roster.RemoveFriend(ctx, p3.ID, p1.ID))
	friends, err = roster.FriendIDs(ctx, a1.ID)
	require.NoError(t, err)
	assert.Empty(t, friends)
}

func TestStatusRepository(t *testing.T) {
	pool := testutil.NewPool(t)
	repo := postgres.NewStatusRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.Heartbeat(ctx, "shard-1", "10.0.0.1:7000", 12))
	require.NoError(t, repo.Heartbeat(ctx, "shard-1", "10.0.0.1:7000", 15))
	require.NoError(t, repo.Heartbeat(ctx, "shard-2", "10.0.0.2:7000", 3))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, s := range list {
		if s.Name == "shard-1" {
			assert.Equal(t, 15, s.Sessions, "heartbeat upserts")
		}
	}

	require.NoError(t, repo.Delete(ctx, "shard-1"))
	list, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
