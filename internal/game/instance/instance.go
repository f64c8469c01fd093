package instance

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the execution state of a running instance.
type State int

const (
	// StateStartup is the state between creation and the first occupant.
	StateStartup State = iota
	// StateRunning means the instance has accepted at least one occupant.
	StateRunning
	// StateTerminated instances accept no new occupants and are dropped
	// from the registry once occupant-free.
	StateTerminated
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateStartup:
		return "startup"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Instance is one running copy of a map.
//
// Invariant: a Terminated instance never gains occupants.
type Instance struct {
	id  int64
	def MapDef
	// instUUID is set only for player-created instances that must be
	// re-enterable across connections.
	instUUID uuid.UUID
	// ordinal is how many concurrent copies of this map existed when this
	// one was created, counting itself.
	ordinal int

	mu         sync.Mutex
	state      State
	occupants  int
	emptySince time.Time
}

// ID returns the process-local instance id.
func (i *Instance) ID() int64 { return i.id }

// MapID returns the map identity this instance runs.
func (i *Instance) MapID() string { return i.def.ID }

// Def returns the map definition.
func (i *Instance) Def() MapDef { return i.def }

// UUID returns the persisted instance uuid, or uuid.Nil for ordinary
// instances.
func (i *Instance) UUID() uuid.UUID { return i.instUUID }

// Ordinal returns the instance's copy number for its map.
func (i *Instance) Ordinal() int { return i.ordinal }

// State returns the current execution state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Occupants returns the current occupant count.
func (i *Instance) Occupants() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.occupants
}

// join admits one occupant.
//
// Postcondition: Returns false if the instance is Terminated, or is a
// shared instance already at capacity. The first successful join moves a
// Startup instance to Running.
func (i *Instance) join() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateTerminated {
		return false
	}
	if i.def.Kind == KindShared && i.occupants >= i.def.Capacity {
		return false
	}
	i.occupants++
	if i.state == StateStartup {
		i.state = StateRunning
	}
	return true
}

// leave releases one occupant, recording when the instance became empty.
func (i *Instance) leave(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.occupants > 0 {
		i.occupants--
		if i.occupants == 0 {
			i.emptySince = now
		}
	}
}

// hasRoomFor reports whether the instance can admit n more occupants.
func (i *Instance) hasRoomFor(n int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateTerminated {
		return false
	}
	if i.def.Kind == KindShared {
		return i.occupants+n <= i.def.Capacity
	}
	return true
}

// reclaimable reports whether the instance has been occupant-free past
// the grace period.
func (i *Instance) reclaimable(now time.Time, grace time.Duration) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.occupants == 0 && now.Sub(i.emptySince) >= grace
}

// terminate moves the instance to Terminated. Idempotent.
func (i *Instance) terminate() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = StateTerminated
}
