package chat

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltmarsh-games/shardd/internal/bus"
	"github.com/saltmarsh-games/shardd/internal/game/group"
	"github.com/saltmarsh-games/shardd/internal/game/session"
)

type cacheKey struct {
	kind Kind
	id   int64
}

// Router caches resolved channels by (kind, target-id). Channels are
// cheap to rebuild, so the cache is swept on a slow timer rather than
// evicted eagerly.
type Router struct {
	mu    sync.Mutex
	cache map[cacheKey]Channel

	sessions *session.Registry
	parties  *group.Registry
	pub      bus.Publisher
	origin   string
	logger   *zap.Logger
}

// NewRouter constructs a channel router for one process.
//
// Precondition: origin is this process's cluster-unique server name.
func NewRouter(sessions *session.Registry, parties *group.Registry, pub bus.Publisher, origin string, logger *zap.Logger) *Router {
	return &Router{
		cache:    make(map[cacheKey]Channel),
		sessions: sessions,
		parties:  parties,
		pub:      pub,
		origin:   origin,
		logger:   logger,
	}
}

// Get resolves a channel by numeric target id, constructing and
// caching the variant on first use.
//
// Postcondition: Two calls with the same (kind, id) return the same
// Channel until Remove or Sweep drops it.
func (r *Router) Get(kind Kind, targetID int64) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(kind, targetID, uuid.Nil)
}

// GetByUUID resolves a channel addressed by persisted identity, hashing
// the uuid into the same cache keyspace as Get. Only guild channels are
// uuid-addressed: the guild variant keeps the uuid for bus addressing,
// while every other kind delivers to a live numeric id that the lossy
// hash cannot stand in for.
//
// Postcondition: Returns nil for any kind other than KindGuild.
func (r *Router) GetByUUID(kind Kind, id uuid.UUID) Channel {
	if kind != KindGuild {
		r.logger.Warn("channel kind is not uuid-addressed", zap.Stringer("kind", kind))
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(kind, HashUUID(id), id)
}

func (r *Router) getLocked(kind Kind, targetID int64, guildUUID uuid.UUID) Channel {
	key := cacheKey{kind: kind, id: targetID}
	if ch, ok := r.cache[key]; ok {
		return ch
	}

	var ch Channel
	switch kind {
	case KindInstance:
		ch = &instanceChannel{id: targetID, sessions: r.sessions}
	case KindParty:
		ch = &partyChannel{id: targetID, parties: r.parties}
	case KindWhisper:
		ch = &whisperChannel{target: targetID, sessions: r.sessions, pub: r.pub, origin: r.origin}
	case KindGuild:
		ch = &guildChannel{id: targetID, guildUUID: guildUUID, pub: r.pub, origin: r.origin}
	case KindTrade:
		ch = &tradeChannel{pub: r.pub, origin: r.origin}
	default:
		r.logger.Warn("unknown channel kind", zap.Int("kind", int(kind)))
		return nil
	}
	r.cache[key] = ch
	return ch
}

// Remove evicts one channel, used when its target is destroyed.
func (r *Router) Remove(kind Kind, targetID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey{kind: kind, id: targetID})
}

// Sweep drops every cached channel with no holder outside the cache
// itself and returns the number dropped.
func (r *Router) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for key, ch := range r.cache {
		if p, ok := ch.(interface{ pinned() bool }); ok && p.pinned() {
			continue
		}
		delete(r.cache, key)
		dropped++
	}
	return dropped
}

// Size returns the number of cached channels.
func (r *Router) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cache)
}
