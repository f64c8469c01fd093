// Package actor defines the closed set of actor kinds that can belong to
// a group, and the capability interfaces group operations are written
// against.
package actor

// Kind identifies the concrete variety of an actor. The set is closed:
// code switching on Kind should handle every constant exhaustively.
type Kind int

const (
	// KindPlayer is a connected player character.
	KindPlayer Kind = iota
	// KindNPC is a server-controlled creature.
	KindNPC
	// KindSummon is a temporary actor owned by another actor.
	KindSummon
)

// String returns the kind name for logging.
func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindNPC:
		return "npc"
	case KindSummon:
		return "summon"
	}
	return "unknown"
}

// Position is a location inside one instance.
type Position struct {
	InstanceID int64
	X, Y       int
}

// Actor is the minimal capability set shared by every actor kind.
type Actor interface {
	// ActorID returns the process-unique actor identifier.
	ActorID() int64
	// Kind returns the actor's concrete kind.
	Kind() Kind
	// Name returns the display name.
	Name() string
	// Alive reports whether the actor is currently alive.
	Alive() bool
	// Position returns the actor's current location.
	Position() Position
}

// Creature is the capability for actors with morale and life state,
// used by group-wide bulk operations.
type Creature interface {
	Actor
	SetMorale(morale int)
	Resurrect()
	Kill()
}

// Transferable is the capability for actors that can be moved between
// instances, used by party instance transfers.
type Transferable interface {
	Actor
	// EnterInstance moves the actor into the given instance. Returns false
	// if the actor cannot transfer (for example, already disconnecting).
	EnterInstance(instanceID int64) bool
}

// Opposed is the capability for actors that carry a faction relationship,
// used by leader-delegated enemy/ally checks.
type Opposed interface {
	Actor
	// IsEnemyOf reports whether other is hostile to the receiver.
	IsEnemyOf(other Actor) bool
	// IsAllyOf reports whether other is friendly to the receiver.
	IsAllyOf(other Actor) bool
}

// As checks whether a carries capability T, without open-ended reflection.
//
// Postcondition: Returns (value, true) if a implements T, or (zero, false).
func As[T Actor](a Actor) (T, bool) {
	v, ok := a.(T)
	return v, ok
}

// Resolver maps actor ids to live actors. Group membership stores only
// ids; a Resolver re-resolves them on every visit so a group never keeps
// an actor alive past its owning world.
type Resolver interface {
	// ResolveActor returns the live actor for id, or false if the actor
	// is gone. A false result is normal, not an error.
	ResolveActor(id int64) (Actor, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(id int64) (Actor, bool)

// ResolveActor calls the underlying function.
func (f ResolverFunc) ResolveActor(id int64) (Actor, bool) { return f(id) }
