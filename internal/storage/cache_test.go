package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_ReadThrough(t *testing.T) {
	var fetches atomic.Int32
	c := NewCache(func(_ context.Context, key string) (int, bool, error) {
		fetches.Add(1)
		return len(key), true, nil
	})

	v, ok, err := c.Get(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, _, err = c.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), fetches.Load(), "second read is a cache hit")
}

func TestCache_InvalidateForcesRefetch(t *testing.T) {
	var fetches atomic.Int32
	c := NewCache(func(_ context.Context, key string) (int, bool, error) {
		fetches.Add(1)
		return int(fetches.Load()), true, nil
	})

	_, _, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	c.Invalidate("k")

	v, _, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestCache_MissAndErrorNotCached(t *testing.T) {
	var fetches atomic.Int32
	fail := true
	c := NewCache(func(_ context.Context, key string) (int, bool, error) {
		fetches.Add(1)
		if fail {
			return 0, false, errors.New("store down")
		}
		if key == "absent" {
			return 0, false, nil
		}
		return 7, true, nil
	})

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)

	fail = false
	v, ok, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v)

	// Not-found results are re-fetched every time.
	_, ok, err = c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, _ = c.Get(context.Background(), "absent")
	assert.Equal(t, int32(4), fetches.Load())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache(func(_ context.Context, key int) (int, bool, error) {
		return key * 2, true, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, ok, err := c.Get(context.Background(), i%10)
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, (i%10)*2, v)
			c.Invalidate(i % 10)
		}(i)
	}
	wg.Wait()
}

type fakeSource struct {
	mu           sync.Mutex
	guildFetches int
	members      map[uuid.UUID][]int64
	friends      map[int64][]int64
	inGuild      map[int64]uuid.UUID
}

func (f *fakeSource) GuildMemberIDs(_ context.Context, id uuid.UUID) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guildFetches++
	return f.members[id], nil
}

func (f *fakeSource) FriendIDs(_ context.Context, accountID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.friends[accountID], nil
}

func (f *fakeSource) AccountGuild(_ context.Context, accountID int64) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.inGuild[accountID]
	return id, ok, nil
}

func TestRoster_CachesGuildRoster(t *testing.T) {
	guild := uuid.New()
	src := &fakeSource{
		members: map[uuid.UUID][]int64{guild: {1, 2}},
		friends: map[int64][]int64{},
		inGuild: map[int64]uuid.UUID{},
	}
	roster := NewRoster(src)

	for i := 0; i < 3; i++ {
		ids, err := roster.GuildMemberIDs(context.Background(), guild)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids)
	}
	assert.Equal(t, 1, src.guildFetches)
}

func TestRoster_InvalidateAccountDropsGuildToo(t *testing.T) {
	guild := uuid.New()
	src := &fakeSource{
		members: map[uuid.UUID][]int64{guild: {1}},
		friends: map[int64][]int64{100: {2}},
		inGuild: map[int64]uuid.UUID{100: guild},
	}
	roster := NewRoster(src)

	_, err := roster.GuildMemberIDs(context.Background(), guild)
	require.NoError(t, err)

	// A roster edit lands for account 100: its guild's member list must
	// be re-read on the next fan-out.
	src.mu.Lock()
	src.members[guild] = []int64{1, 3}
	src.mu.Unlock()
	roster.InvalidateAccount(context.Background(), 100)

	ids, err := roster.GuildMemberIDs(context.Background(), guild)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)
}
