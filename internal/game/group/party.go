package group

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saltmarsh-games/shardd/internal/game/actor"
	"github.com/saltmarsh-games/shardd/internal/game/rng"
)

// DefaultDefeatGrace is how long a defeated party stays in the Defeated
// state before its members are returned to their safe instances.
const DefaultDefeatGrace = 30 * time.Second

// DefeatState is the party defeat-handling state.
type DefeatState int

const (
	// StateIdle is the normal state.
	StateIdle DefeatState = iota
	// StateDefeated means the party lost or fully resigned and is waiting
	// out the grace delay before members are sent home.
	StateDefeated
)

// InstanceResolver resolves a map identity to a running instance,
// creating one if necessary. Implemented by the instance registry.
type InstanceResolver interface {
	ResolveForParty(mapID string, partySize int) (int64, error)
}

// Party is a Group with an invitation workflow, a persisted identity, a
// variable store for scripted logic, and defeat handling.
type Party struct {
	*Group

	uuid uuid.UUID

	mu         sync.Mutex
	invites    map[int64]struct{}
	resigned   map[int64]struct{}
	state      DefeatState
	defeatedAt time.Time
	grace      time.Duration
	instanceID int64

	vars *Vars
}

// NewParty creates an empty party with the given persisted uuid.
//
// Precondition: id must be non-nil (the registry mints fresh uuids).
func NewParty(gen *IDGen, cap int, resolver actor.Resolver, src rng.Source, id uuid.UUID) *Party {
	return &Party{
		Group:    NewGroup(gen, cap, resolver, src),
		uuid:     id,
		invites:  make(map[int64]struct{}),
		resigned: make(map[int64]struct{}),
		grace:    DefaultDefeatGrace,
		vars:     NewVars(),
	}
}

// UUID returns the persisted party uuid.
func (p *Party) UUID() uuid.UUID { return p.uuid }

// Vars returns the party-wide variable store.
func (p *Party) Vars() *Vars { return p.vars }

// InstanceID returns the id of the instance the party currently occupies,
// or zero if unassigned.
func (p *Party) InstanceID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.instanceID
}

func (p *Party) setInstanceID(id int64) {
	p.mu.Lock()
	p.instanceID = id
	p.mu.Unlock()
}

// Invite records a pending invitation for the player.
//
// Postcondition: Returns false, with no change, if the player is already
// a member or already invited. Inviting twice is not an error upstream;
// the false result lets the caller skip the duplicate notification.
func (p *Party) Invite(playerID int64) bool {
	if p.Contains(playerID) {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.invites[playerID]; ok {
		return false
	}
	p.invites[playerID] = struct{}{}
	return true
}

// IsInvited reports whether the player has a pending invitation.
func (p *Party) IsInvited(playerID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.invites[playerID]
	return ok
}

// Reject clears a pending invitation.
//
// Postcondition: Returns true if an invitation was pending.
func (p *Party) Reject(playerID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.invites[playerID]; !ok {
		return false
	}
	delete(p.invites, playerID)
	return true
}

// clearInvite consumes a pending invitation on accept.
func (p *Party) clearInvite(playerID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.invites[playerID]; !ok {
		return false
	}
	delete(p.invites, playerID)
	return true
}

// Resign records the member's resignation. When every current member has
// resigned, the party transitions to Defeated.
//
// Postcondition: Returns true if the actor is a member and had not
// already resigned.
func (p *Party) Resign(actorID int64, now time.Time) bool {
	if !p.Contains(actorID) {
		return false
	}
	p.mu.Lock()
	if _, ok := p.resigned[actorID]; ok {
		p.mu.Unlock()
		return false
	}
	p.resigned[actorID] = struct{}{}
	p.mu.Unlock()

	if p.allResigned() {
		p.Defeat(now)
	}
	return true
}

func (p *Party) allResigned() bool {
	ids := p.MemberIDs()
	if len(ids) == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range ids {
		if _, ok := p.resigned[id]; !ok {
			return false
		}
	}
	return true
}

// Defeat moves the party into the Defeated state. Idempotent: a party
// already defeated keeps its original defeat timestamp.
func (p *Party) Defeat(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateDefeated {
		return
	}
	p.state = StateDefeated
	p.defeatedAt = now
}

// Defeated reports whether the party is in the Defeated state.
func (p *Party) Defeated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateDefeated
}

// Tick advances the defeat state machine. Once the grace delay has passed,
// every live member is handed to sendHome and the party returns to Idle
// with resignations cleared.
//
// Postcondition: Returns true if the defeat window expired on this tick.
func (p *Party) Tick(now time.Time, sendHome func(actor.Actor)) bool {
	p.mu.Lock()
	if p.state != StateDefeated || now.Sub(p.defeatedAt) < p.grace {
		p.mu.Unlock()
		return false
	}
	p.state = StateIdle
	p.resigned = make(map[int64]struct{})
	p.mu.Unlock()

	p.VisitMembers(sendHome)
	return true
}

// ChangeInstance resolves (or creates) the destination instance for the
// party's current size, then transfers every live member. Members that
// cannot transfer are silently skipped.
//
// Postcondition: Returns the destination instance id, or an error if the
// map could not be resolved. The caller is responsible for re-indexing
// the party under the new instance id in the registry.
func (p *Party) ChangeInstance(res InstanceResolver, mapID string) (int64, error) {
	instID, err := res.ResolveForParty(mapID, p.Size())
	if err != nil {
		return 0, fmt.Errorf("resolving instance for map %q: %w", mapID, err)
	}

	p.VisitMembers(func(a actor.Actor) {
		if t, ok := actor.As[actor.Transferable](a); ok {
			t.EnterInstance(instID)
		}
	})
	return instID, nil
}
