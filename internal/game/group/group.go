// Package group provides ordered actor groups with leader-first semantics,
// parties with invitations and defeat handling, and the shard-local party
// registry.
package group

import (
	"sync"

	"github.com/saltmarsh-games/shardd/internal/game/actor"
	"github.com/saltmarsh-games/shardd/internal/game/rng"
)

// IDGen mints process-unique group ids. One generator is shared between
// plain groups and parties so ids never collide across the two kinds.
type IDGen struct {
	mu   sync.Mutex
	next int64
}

// NewIDGen creates a generator starting at 1.
func NewIDGen() *IDGen {
	return &IDGen{next: 1}
}

// Next returns a fresh id.
func (g *IDGen) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	return id
}

// Group is a mutable ordered member list with leader-is-first semantics.
// Membership is stored as actor ids and re-resolved on every visit, so a
// group never keeps an actor alive past its owning world.
//
// Invariant: the leader is element zero, or the group has zero members.
// Invariant: membership never contains duplicate actor ids and never
// exceeds the cap.
type Group struct {
	mu       sync.Mutex
	id       int64
	cap      int
	members  []int64
	resolver actor.Resolver
	rnd      rng.Source
}

// NewGroup creates an empty group with the given capacity.
//
// Precondition: gen, resolver, and src must be non-nil; cap must be > 0.
func NewGroup(gen *IDGen, cap int, resolver actor.Resolver, src rng.Source) *Group {
	return &Group{
		id:       gen.Next(),
		cap:      cap,
		resolver: resolver,
		rnd:      src,
	}
}

// ID returns the process-unique group id.
func (g *Group) ID() int64 { return g.id }

// Cap returns the maximum member count.
func (g *Group) Cap() int { return g.cap }

// Add appends the actor to the member list; the first successful add
// becomes the leader.
//
// Postcondition: Returns false, with no change, if the actor is already a
// member or the group is at capacity.
func (g *Group) Add(a actor.Actor) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addLocked(a.ActorID())
}

func (g *Group) addLocked(id int64) bool {
	if len(g.members) >= g.cap {
		return false
	}
	for _, m := range g.members {
		if m == id {
			return false
		}
	}
	g.members = append(g.members, id)
	return true
}

// Remove removes the actor by id. No new leader is promoted: the leader is
// whatever remains at index zero.
//
// Postcondition: Returns true if the actor was a member.
func (g *Group) Remove(actorID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(actorID)
}

func (g *Group) removeLocked(actorID int64) bool {
	for i, m := range g.members {
		if m == actorID {
			g.members = append(g.members[:i], g.members[i+1:]...)
			return true
		}
	}
	return false
}

// Size returns the member count, including members whose actors are gone
// (those slots are skipped lazily on visit, not eagerly scanned).
func (g *Group) Size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// MemberIDs returns a copy of the ordered member id list.
func (g *Group) MemberIDs() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int64, len(g.members))
	copy(out, g.members)
	return out
}

// Contains reports whether the actor id is a member.
func (g *Group) Contains(actorID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.members {
		if m == actorID {
			return true
		}
	}
	return false
}

// Leader resolves the member at index zero.
//
// Postcondition: Returns (actor, true), or (nil, false) if the group is
// empty or the leader's actor is gone.
func (g *Group) Leader() (actor.Actor, bool) {
	g.mu.Lock()
	var leaderID int64
	if len(g.members) == 0 {
		g.mu.Unlock()
		return nil, false
	}
	leaderID = g.members[0]
	g.mu.Unlock()

	return g.resolver.ResolveActor(leaderID)
}

// IsLeader reports whether the given actor id occupies index zero.
func (g *Group) IsLeader(actorID int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members) > 0 && g.members[0] == actorID
}

// IsEnemy delegates the hostility check to the two leaders.
//
// Postcondition: Returns false if either group is leaderless or a leader
// does not carry a faction relationship.
func (g *Group) IsEnemy(other *Group) bool {
	mine, ok := g.Leader()
	if !ok {
		return false
	}
	theirs, ok := other.Leader()
	if !ok {
		return false
	}
	opposed, ok := actor.As[actor.Opposed](mine)
	if !ok {
		return false
	}
	return opposed.IsEnemyOf(theirs)
}

// IsAlly delegates the friendliness check to the two leaders.
func (g *Group) IsAlly(other *Group) bool {
	mine, ok := g.Leader()
	if !ok {
		return false
	}
	theirs, ok := other.Leader()
	if !ok {
		return false
	}
	opposed, ok := actor.As[actor.Opposed](mine)
	if !ok {
		return false
	}
	return opposed.IsAllyOf(theirs)
}

// liveMembers resolves the current membership, dropping expired slots.
func (g *Group) liveMembers() []actor.Actor {
	ids := g.MemberIDs()
	live := make([]actor.Actor, 0, len(ids))
	for _, id := range ids {
		if a, ok := g.resolver.ResolveActor(id); ok {
			live = append(live, a)
		}
	}
	return live
}

// RandomMember picks one live member uniformly, with a single fresh draw.
//
// Postcondition: Returns nil if no member resolves.
func (g *Group) RandomMember() actor.Actor {
	live := g.liveMembers()
	if len(live) == 0 {
		return nil
	}
	return live[g.rnd.Intn(len(live))]
}

// RandomMemberInRange picks one live member within reach of origin,
// uniformly over the candidates, with a single fresh draw. Distance is
// Chebyshev within the same instance.
//
// Postcondition: Returns nil if no member is in range.
func (g *Group) RandomMemberInRange(origin actor.Position, reach int) actor.Actor {
	var candidates []actor.Actor
	for _, a := range g.liveMembers() {
		pos := a.Position()
		if pos.InstanceID != origin.InstanceID {
			continue
		}
		dx := pos.X - origin.X
		if dx < 0 {
			dx = -dx
		}
		dy := pos.Y - origin.Y
		if dy < 0 {
			dy = -dy
		}
		if dx <= reach && dy <= reach {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[g.rnd.Intn(len(candidates))]
}

// VisitMembers calls fn for each live member in order, silently skipping
// members whose actors are gone.
func (g *Group) VisitMembers(fn func(actor.Actor)) {
	for _, a := range g.liveMembers() {
		fn(a)
	}
}

// SetMoraleAll applies the morale value to every live member that carries
// the Creature capability.
func (g *Group) SetMoraleAll(morale int) {
	g.VisitMembers(func(a actor.Actor) {
		if c, ok := actor.As[actor.Creature](a); ok {
			c.SetMorale(morale)
		}
	})
}

// ResurrectAll revives every live member with the Creature capability.
func (g *Group) ResurrectAll() {
	g.VisitMembers(func(a actor.Actor) {
		if c, ok := actor.As[actor.Creature](a); ok {
			c.Resurrect()
		}
	})
}

// KillAll kills every live member with the Creature capability.
func (g *Group) KillAll() {
	g.VisitMembers(func(a actor.Actor) {
		if c, ok := actor.As[actor.Creature](a); ok {
			c.Kill()
		}
	})
}
