package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saltmarsh-games/shardd/internal/bus"
	"github.com/saltmarsh-games/shardd/internal/game/actor"
	"github.com/saltmarsh-games/shardd/internal/game/group"
	"github.com/saltmarsh-games/shardd/internal/game/rng"
	"github.com/saltmarsh-games/shardd/internal/game/session"
)

// fakeBus records every published envelope.
type fakeBus struct {
	mu        sync.Mutex
	envelopes []*bus.Envelope
}

func (f *fakeBus) Publish(e *bus.Envelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes = append(f.envelopes, e)
	return nil
}

func (f *fakeBus) published() []*bus.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*bus.Envelope(nil), f.envelopes...)
}

type memStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]group.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[uuid.UUID]group.Record)}
}

func (m *memStore) ReadParty(_ context.Context, id uuid.UUID) (group.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *memStore) CreateParty(_ context.Context, rec group.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UUID] = rec
	return nil
}

func (m *memStore) UpdateParty(_ context.Context, rec group.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.UUID] = rec
	return nil
}

type fixture struct {
	sessions *session.Registry
	parties  *group.Registry
	bus      *fakeBus
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessions := session.NewRegistry()
	resolver := actor.ResolverFunc(func(id int64) (actor.Actor, bool) {
		s, ok := sessions.ByPlayerID(id)
		if !ok {
			return nil, false
		}
		return s, true
	})
	parties := group.NewRegistry(resolver, rng.NewCryptoSource(), newMemStore(), 8)
	fb := &fakeBus{}
	return &fixture{
		sessions: sessions,
		parties:  parties,
		bus:      fb,
		router:   NewRouter(sessions, parties, fb, "shard-1", zap.NewNop()),
	}
}

func (f *fixture) connect(t *testing.T, playerID int64, name string, instanceID int64) *session.Session {
	t.Helper()
	s, err := f.sessions.Register(session.Profile{
		PlayerID:    playerID,
		DisplayName: name,
		AccountID:   playerID * 100,
		InstanceID:  instanceID,
	})
	require.NoError(t, err)
	return s
}

func drain(s *session.Session) []Message {
	var msgs []Message
	for {
		select {
		case frame := <-s.Outbox.Frames():
			var m Message
			if err := json.Unmarshal(frame, &m); err == nil {
				msgs = append(msgs, m)
			}
		default:
			return msgs
		}
	}
}

func TestRouter_CachesChannels(t *testing.T) {
	f := newFixture(t)

	first := f.router.Get(KindInstance, 7)
	second := f.router.Get(KindInstance, 7)
	assert.Same(t, first, second)

	other := f.router.Get(KindInstance, 8)
	assert.NotSame(t, first, other)
	assert.Equal(t, 2, f.router.Size())
}

func TestRouter_GuildCacheSurvivesUntilSweep(t *testing.T) {
	f := newFixture(t)
	guild := uuid.New()

	first := f.router.GetByUUID(KindGuild, guild)
	second := f.router.GetByUUID(KindGuild, guild)
	assert.Same(t, first, second, "cache hit on second resolve")

	dropped := f.router.Sweep()
	assert.Equal(t, 1, dropped)

	third := f.router.GetByUUID(KindGuild, guild)
	assert.NotSame(t, first, third, "post-sweep resolve constructs fresh")
}

func TestRouter_GetByUUIDOnlyResolvesGuilds(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	// Whisper, instance, and party targets are live numeric ids; a
	// hashed uuid would address nobody, so the lookup refuses.
	assert.Nil(t, f.router.GetByUUID(KindWhisper, id))
	assert.Nil(t, f.router.GetByUUID(KindInstance, id))
	assert.Nil(t, f.router.GetByUUID(KindParty, id))
	assert.Equal(t, 0, f.router.Size(), "refused lookups cache nothing")

	assert.NotNil(t, f.router.GetByUUID(KindGuild, id))
}

func TestRouter_SweepSparesRetained(t *testing.T) {
	f := newFixture(t)

	held := f.router.Get(KindParty, 3)
	held.Retain()
	f.router.Get(KindParty, 4)

	assert.Equal(t, 1, f.router.Sweep())
	assert.Same(t, held, f.router.Get(KindParty, 3))

	held.Release()
	assert.Equal(t, 1, f.router.Sweep())
}

func TestRouter_Remove(t *testing.T) {
	f := newFixture(t)

	first := f.router.Get(KindParty, 5)
	f.router.Remove(KindParty, 5)
	second := f.router.Get(KindParty, 5)
	assert.NotSame(t, first, second)
}

func TestInstanceChannel_FansOutToResidents(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, 1, "Alice", 10)
	bob := f.connect(t, 2, "Bob", 10)
	carol := f.connect(t, 3, "Carol", 11)

	ch := f.router.Get(KindInstance, 10)
	require.NoError(t, ch.Deliver(Message{Channel: "instance", Sender: "Alice", Text: "hello"}))

	assert.Len(t, drain(alice), 1)
	assert.Len(t, drain(bob), 1)
	assert.Empty(t, drain(carol), "other instance hears nothing")
	assert.Empty(t, f.bus.published(), "instance chat never crosses processes")
}

func TestPartyChannel_FansOutToMembers(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, 1, "Alice", 10)
	bob := f.connect(t, 2, "Bob", 11)
	outsider := f.connect(t, 3, "Carol", 10)

	p, err := f.parties.GetOrCreateByUUID(context.Background(), uuid.Nil)
	require.NoError(t, err)
	require.True(t, f.parties.Join(p, alice))
	require.True(t, f.parties.Join(p, bob))

	ch := f.router.Get(KindParty, p.ID())
	require.NoError(t, ch.Deliver(Message{Channel: "party", Sender: "Alice", Text: "inv"}))

	assert.Len(t, drain(alice), 1)
	assert.Len(t, drain(bob), 1)
	assert.Empty(t, drain(outsider))
	assert.Empty(t, f.bus.published())
}

func TestPartyChannel_UnknownPartyIsNoEffect(t *testing.T) {
	f := newFixture(t)
	ch := f.router.Get(KindParty, 999)
	assert.NoError(t, ch.Deliver(Message{Text: "void"}))
}

func TestWhisper_ResidentTargetStaysLocal(t *testing.T) {
	f := newFixture(t)
	bob := f.connect(t, 2, "Bob", 10)

	ch := f.router.Get(KindWhisper, 2)
	require.NoError(t, ch.Deliver(Message{Channel: "whisper", Sender: "Alice", Text: "psst"}))
	require.NoError(t, ch.Deliver(Message{Channel: "whisper", Sender: "Alice", Text: "again"}))

	assert.Len(t, drain(bob), 2)
	assert.Empty(t, f.bus.published(), "resident whisper never produces an envelope")
}

func TestWhisper_NonResidentTargetPublishesExactlyOne(t *testing.T) {
	f := newFixture(t)

	ch := f.router.Get(KindWhisper, 42)
	require.NoError(t, ch.Deliver(Message{Channel: "whisper", Sender: "Alice", Text: "psst"}))

	published := f.bus.published()
	require.Len(t, published, 1)
	assert.Equal(t, bus.KindWhisper, published[0].Kind)
	assert.Equal(t, "shard-1", published[0].Origin)

	var props bus.WhisperProps
	require.NoError(t, published[0].Decode(&props))
	assert.Equal(t, int64(42), props.TargetPlayerID)
	assert.Equal(t, "psst", props.Text)
}

func TestGuildChannel_AlwaysRoundTripsBus(t *testing.T) {
	f := newFixture(t)
	member := f.connect(t, 1, "Alice", 10)
	guild := uuid.New()

	ch := f.router.GetByUUID(KindGuild, guild)
	require.NoError(t, ch.Deliver(Message{Channel: "guild", Sender: "Alice", Text: "raid at 8"}))

	// No local fan-out: the sender's process hears it via the bus like
	// everyone else.
	assert.Empty(t, drain(member))

	published := f.bus.published()
	require.Len(t, published, 1)
	var props bus.GuildChatProps
	require.NoError(t, published[0].Decode(&props))
	assert.Equal(t, guild, props.GuildUUID)
}

func TestTradeChannel_AlwaysRoundTripsBus(t *testing.T) {
	f := newFixture(t)

	ch := f.router.Get(KindTrade, 0)
	require.NoError(t, ch.Deliver(Message{Channel: "trade", Sender: "Alice", Text: "WTS sword"}))

	published := f.bus.published()
	require.Len(t, published, 1)
	assert.Equal(t, bus.KindTradeChat, published[0].Kind)
}

func TestHashUUID_Stable(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, HashUUID(id), HashUUID(id))
	assert.NotEqual(t, HashUUID(id), HashUUID(uuid.New()))
}
