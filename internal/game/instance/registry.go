package instance

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltmarsh-games/shardd/internal/game/actor"
)

// ErrUnknownMap is returned when the map identity is not in the catalog.
var ErrUnknownMap = errors.New("unknown map")

// ErrPartyTooLarge is returned when a party exceeds the destination
// map's party size cap.
var ErrPartyTooLarge = errors.New("party exceeds map party cap")

// ErrInstanceNotFound is returned when no instance matched and creation
// was not allowed.
var ErrInstanceNotFound = errors.New("instance not found")

// Registry creates and tracks running instances on this shard, keyed by
// map identity. All methods are safe for concurrent use.
type Registry struct {
	catalog *Catalog
	logger  *zap.Logger

	mu     sync.Mutex
	nextID int64
	byID   map[int64]*Instance
	byMap  map[string][]*Instance
	byUUID map[uuid.UUID]*Instance

	now func() time.Time
}

// NewRegistry creates an empty instance registry over the given catalog.
//
// Precondition: catalog and logger must be non-nil.
func NewRegistry(catalog *Catalog, logger *zap.Logger) *Registry {
	return &Registry{
		catalog: catalog,
		logger:  logger,
		nextID:  1,
		byID:    make(map[int64]*Instance),
		byMap:   make(map[string][]*Instance),
		byUUID:  make(map[uuid.UUID]*Instance),
		now:     time.Now,
	}
}

// newInstanceLocked constructs and indexes an instance. Caller holds r.mu.
func (r *Registry) newInstanceLocked(def MapDef, instUUID uuid.UUID) *Instance {
	inst := &Instance{
		id:         r.nextID,
		def:        def,
		instUUID:   instUUID,
		ordinal:    len(r.byMap[def.ID]) + 1,
		state:      StateStartup,
		emptySince: r.now(),
	}
	r.nextID++
	r.byID[inst.id] = inst
	r.byMap[def.ID] = append(r.byMap[def.ID], inst)
	if instUUID != uuid.Nil {
		r.byUUID[instUUID] = inst
	}
	return inst
}

// GetOrCreate resolves an instance for the map identity.
//
// For an exclusive map every call creates a brand-new instance. For a
// shared map, an existing Startup/Running instance below capacity is
// reused; otherwise a new one is created if allowCreate is set, else
// ErrInstanceNotFound.
//
// Postcondition: Returns a non-Terminated instance or an error.
func (r *Registry) GetOrCreate(mapID string, allowCreate bool) (*Instance, error) {
	def, ok := r.catalog.Get(mapID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMap, mapID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Kind == KindExclusive {
		inst := r.newInstanceLocked(def, uuid.Nil)
		r.logger.Info("created exclusive instance",
			zap.Int64("instance_id", inst.id),
			zap.String("map", mapID),
			zap.Int("ordinal", inst.ordinal),
		)
		return inst, nil
	}

	for _, inst := range r.byMap[mapID] {
		if inst.hasRoomFor(1) {
			return inst, nil
		}
	}
	if !allowCreate {
		return nil, fmt.Errorf("%w: map %q", ErrInstanceNotFound, mapID)
	}
	inst := r.newInstanceLocked(def, uuid.Nil)
	r.logger.Info("created shared instance",
		zap.Int64("instance_id", inst.id),
		zap.String("map", mapID),
		zap.Int("ordinal", inst.ordinal),
	)
	return inst, nil
}

// CreatePersistent creates a fresh instance carrying a minted uuid, for
// player-created content that must be re-enterable by uuid.
func (r *Registry) CreatePersistent(mapID string) (*Instance, error) {
	def, ok := r.catalog.Get(mapID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMap, mapID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newInstanceLocked(def, uuid.New()), nil
}

// Get returns the instance with the given id.
func (r *Registry) Get(id int64) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byID[id]
	return inst, ok
}

// GetByUUID returns the instance with the given persisted uuid, used for
// player-rejoin scenarios.
//
// Postcondition: Returns (nil, false) if the uuid is unknown; an unknown
// uuid is a normal no-effect outcome, not a failure.
func (r *Registry) GetByUUID(id uuid.UUID) (*Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.byUUID[id]
	return inst, ok
}

// AddPlayer resolves or creates an instance for the map and moves the
// actor into it.
//
// Postcondition: The instance's occupant count includes the actor, and
// the actor's presence was updated, or an error.
func (r *Registry) AddPlayer(mapID string, a actor.Transferable) (*Instance, error) {
	inst, err := r.GetOrCreate(mapID, true)
	if err != nil {
		return nil, err
	}
	if !inst.join() {
		// The reused instance filled up between resolution and join;
		// fall back to a fresh one.
		inst, err = r.GetOrCreate(mapID, true)
		if err != nil {
			return nil, err
		}
		if !inst.join() {
			return nil, fmt.Errorf("joining instance %d: %w", inst.ID(), ErrInstanceNotFound)
		}
	}
	if !a.EnterInstance(inst.ID()) {
		inst.leave(r.now())
		return nil, fmt.Errorf("actor %d cannot transfer", a.ActorID())
	}
	return inst, nil
}

// Leave releases one occupant from the instance.
func (r *Registry) Leave(instanceID int64) {
	r.mu.Lock()
	inst, ok := r.byID[instanceID]
	r.mu.Unlock()
	if ok {
		inst.leave(r.now())
	}
}

// ResolveForParty resolves or creates an instance with room for a party
// of the given size, enforcing the destination map's party size cap.
// Satisfies the group package's InstanceResolver.
func (r *Registry) ResolveForParty(mapID string, partySize int) (int64, error) {
	def, ok := r.catalog.Get(mapID)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMap, mapID)
	}
	if partySize > def.PartyCap {
		return 0, fmt.Errorf("%w: party of %d, map %q caps at %d",
			ErrPartyTooLarge, partySize, mapID, def.PartyCap)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if def.Kind != KindExclusive {
		for _, inst := range r.byMap[mapID] {
			if inst.hasRoomFor(partySize) {
				return inst.id, nil
			}
		}
	}
	inst := r.newInstanceLocked(def, uuid.Nil)
	return inst.id, nil
}

// Sweep terminates instances that have been occupant-free past the grace
// period and drops Terminated occupant-free instances from all indexes.
// The id generator resets only when the registry is fully empty, so a
// live instance never collides with a reused id.
//
// Postcondition: Returns the number of instances dropped. Running Sweep
// twice with no intervening state change drops nothing the second time
// beyond what the first already terminated and dropped.
func (r *Registry) Sweep(grace time.Duration) int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, inst := range r.byID {
		if inst.State() != StateTerminated && inst.reclaimable(now, grace) {
			inst.terminate()
			r.logger.Info("terminated idle instance",
				zap.Int64("instance_id", id),
				zap.String("map", inst.MapID()),
			)
		}
		if inst.State() == StateTerminated && inst.Occupants() == 0 {
			delete(r.byID, id)
			r.dropFromMapLocked(inst)
			if inst.instUUID != uuid.Nil {
				delete(r.byUUID, inst.instUUID)
			}
			dropped++
		}
	}

	if len(r.byID) == 0 && r.nextID > 1 {
		r.nextID = 1
	}
	return dropped
}

func (r *Registry) dropFromMapLocked(inst *Instance) {
	list := r.byMap[inst.MapID()]
	for i, candidate := range list {
		if candidate == inst {
			r.byMap[inst.MapID()] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byMap[inst.MapID()]) == 0 {
		delete(r.byMap, inst.MapID())
	}
}

// Count returns the number of live instances.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
