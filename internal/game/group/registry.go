package group

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/saltmarsh-games/shardd/internal/game/actor"
	"github.com/saltmarsh-games/shardd/internal/game/rng"
)

// Record is the persisted shape of a party in the record store.
type Record struct {
	UUID uuid.UUID
	// Vars holds the string-typed party variables worth persisting.
	Vars map[string]string
}

// Store is the narrow record-store surface the registry needs. The found
// flag distinguishes absence from failure.
type Store interface {
	ReadParty(ctx context.Context, id uuid.UUID) (Record, bool, error)
	CreateParty(ctx context.Context, rec Record) error
	UpdateParty(ctx context.Context, rec Record) error
}

// Registry owns every Party on this shard, indexed by party id, persisted
// uuid, and current instance id (non-unique). It also tracks which party
// each player belongs to, enforcing membership in exactly one party.
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	byID       map[int64]*Party
	byUUID     map[uuid.UUID]*Party
	byInstance map[int64]map[int64]*Party
	byMember   map[int64]*Party

	gen      *IDGen
	resolver actor.Resolver
	rnd      rng.Source
	store    Store
	partyCap int

	// onCreate is invoked after a party becomes resident, used to pin
	// the party's chat channel for the party's lifetime.
	onCreate func(partyID int64)
	// onRemove is invoked after a party is dropped from all indexes,
	// used to release and evict the party's chat channel.
	onRemove func(partyID int64)
}

// NewRegistry creates an empty party registry.
//
// Precondition: resolver, src, and store must be non-nil; partyCap > 0.
func NewRegistry(resolver actor.Resolver, src rng.Source, store Store, partyCap int) *Registry {
	return &Registry{
		byID:       make(map[int64]*Party),
		byUUID:     make(map[uuid.UUID]*Party),
		byInstance: make(map[int64]map[int64]*Party),
		byMember:   make(map[int64]*Party),
		gen:        NewIDGen(),
		resolver:   resolver,
		rnd:        src,
		store:      store,
		partyCap:   partyCap,
	}
}

// IDGen exposes the shared group id generator so ad-hoc groups (NPC
// crowds) draw from the same id space as parties.
func (r *Registry) IDGen() *IDGen { return r.gen }

// SetCreateHook installs the callback invoked when a party becomes
// resident. Must be called during wiring, before concurrent use.
func (r *Registry) SetCreateHook(fn func(partyID int64)) {
	r.onCreate = fn
}

// SetRemoveHook installs the callback invoked when a party is removed.
// Must be called during wiring, before concurrent use.
func (r *Registry) SetRemoveHook(fn func(partyID int64)) {
	r.onRemove = fn
}

// GetOrCreateByUUID returns the party with the given persisted uuid,
// loading its record from the store if it is not resident, or creating a
// fresh record when id is uuid.Nil.
//
// Postcondition: Returns a party whose uuid is non-nil; a second call
// with the returned uuid yields the identical party instance.
func (r *Registry) GetOrCreateByUUID(ctx context.Context, id uuid.UUID) (*Party, error) {
	r.mu.Lock()
	if id != uuid.Nil {
		if p, ok := r.byUUID[id]; ok {
			r.mu.Unlock()
			return p, nil
		}
	}
	r.mu.Unlock()

	// Store calls happen outside the registry lock.
	rec := Record{UUID: id}
	if id == uuid.Nil {
		rec.UUID = uuid.New()
		if err := r.store.CreateParty(ctx, rec); err != nil {
			return nil, fmt.Errorf("creating party record: %w", err)
		}
	} else {
		stored, found, err := r.store.ReadParty(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reading party record %s: %w", id, err)
		}
		if found {
			rec = stored
		} else {
			if err := r.store.CreateParty(ctx, rec); err != nil {
				return nil, fmt.Errorf("creating party record: %w", err)
			}
		}
	}

	r.mu.Lock()
	// Lost a race with a concurrent load of the same uuid.
	if p, ok := r.byUUID[rec.UUID]; ok {
		r.mu.Unlock()
		return p, nil
	}

	p := NewParty(r.gen, r.partyCap, r.resolver, r.rnd, rec.UUID)
	for k, v := range rec.Vars {
		p.Vars().SetString(k, v)
	}
	r.byID[p.ID()] = p
	r.byUUID[rec.UUID] = p
	hook := r.onCreate
	r.mu.Unlock()

	if hook != nil {
		hook(p.ID())
	}
	return p, nil
}

// UpdateVars applies mutate to the party's variable store and writes the
// resulting record through the record store, so variables set after
// creation survive a restart and are visible to a shard that loads the
// party later.
//
// Postcondition: The in-memory change has been applied even when the
// returned error is non-nil; the record-store update is not retried.
func (r *Registry) UpdateVars(ctx context.Context, partyID int64, mutate func(*Vars)) error {
	p, ok := r.Get(partyID)
	if !ok {
		return fmt.Errorf("party %d is not resident", partyID)
	}
	mutate(p.Vars())
	rec := Record{UUID: p.UUID(), Vars: p.Vars().Strings()}
	if err := r.store.UpdateParty(ctx, rec); err != nil {
		return fmt.Errorf("persisting party %s vars: %w", p.UUID(), err)
	}
	return nil
}

// Get returns the party with the given id.
func (r *Registry) Get(partyID int64) (*Party, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[partyID]
	return p, ok
}

// PartyOf returns the party the given player currently belongs to.
func (r *Registry) PartyOf(actorID int64) (*Party, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byMember[actorID]
	return p, ok
}

// Remove drops the party from every index and fires the removal hook.
//
// Postcondition: Returns true if the party existed.
func (r *Registry) Remove(partyID int64) bool {
	r.mu.Lock()
	p, ok := r.byID[partyID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, partyID)
	delete(r.byUUID, p.UUID())
	r.unindexInstanceLocked(p)
	for _, id := range p.MemberIDs() {
		delete(r.byMember, id)
	}
	hook := r.onRemove
	r.mu.Unlock()

	if hook != nil {
		hook(partyID)
	}
	return true
}

func (r *Registry) unindexInstanceLocked(p *Party) {
	inst := p.InstanceID()
	if set, ok := r.byInstance[inst]; ok {
		delete(set, p.ID())
		if len(set) == 0 {
			delete(r.byInstance, inst)
		}
	}
}

// SetInstance re-indexes the party under a new instance id and updates
// the party's own record of it, atomically from the caller's view.
//
// Postcondition: Returns false if the party id is unknown.
func (r *Registry) SetInstance(partyID, instanceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[partyID]
	if !ok {
		return false
	}
	r.unindexInstanceLocked(p)
	p.setInstanceID(instanceID)
	if instanceID != 0 {
		set := r.byInstance[instanceID]
		if set == nil {
			set = make(map[int64]*Party)
			r.byInstance[instanceID] = set
		}
		set[partyID] = p
	}
	return true
}

// VisitPartiesInInstance calls fn for every party currently assigned to
// the instance, iterating a snapshot. Used by the instance's own update
// loop to avoid a full scan of all parties on the shard.
func (r *Registry) VisitPartiesInInstance(instanceID int64, fn func(*Party)) {
	r.mu.Lock()
	set := r.byInstance[instanceID]
	snapshot := make([]*Party, 0, len(set))
	for _, p := range set {
		snapshot = append(snapshot, p)
	}
	r.mu.Unlock()

	for _, p := range snapshot {
		fn(p)
	}
}

// Join adds the actor to the party, first removing it from its current
// party so a player is a member of exactly one party at all times. A
// current party left empty by the move is removed.
//
// Postcondition: Returns false, with membership restored, if the target
// party rejected the add (full or duplicate).
func (r *Registry) Join(p *Party, a actor.Actor) bool {
	id := a.ActorID()

	r.mu.Lock()
	current, inParty := r.byMember[id]
	r.mu.Unlock()

	if inParty && current == p {
		return false
	}

	if !p.Add(a) {
		return false
	}

	if inParty {
		current.Remove(id)
	}

	r.mu.Lock()
	r.byMember[id] = p
	removeEmpty := inParty && current.Size() == 0
	r.mu.Unlock()

	if removeEmpty {
		r.Remove(current.ID())
	}
	return true
}

// Leave removes the actor from its current party. A party left empty is
// removed entirely.
//
// Postcondition: Returns true if the actor was in a party.
func (r *Registry) Leave(actorID int64) bool {
	r.mu.Lock()
	p, ok := r.byMember[actorID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byMember, actorID)
	r.mu.Unlock()

	p.Remove(actorID)
	if p.Size() == 0 {
		r.Remove(p.ID())
	}
	return true
}

// Accept consumes a pending invitation and joins the invitee to the
// party.
//
// Postcondition: Returns false, leaving current membership intact, if no
// invitation was pending or the join failed.
func (r *Registry) Accept(p *Party, invitee actor.Actor) bool {
	if !p.clearInvite(invitee.ActorID()) {
		return false
	}
	return r.Join(p, invitee)
}

// Count returns the number of resident parties.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
