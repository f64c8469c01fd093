// Package session provides player session tracking and shard-local presence
// indexes for the game backend.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/saltmarsh-games/shardd/internal/game/actor"
)

// Session represents one authenticated, connected player on this shard.
//
// Invariant: a live Session is registered in exactly one Registry; its
// session id is process-local and may be reused after Unregister.
type Session struct {
	// ID is the process-local session id, reused after release.
	ID int32
	// PlayerID is the persistent player id, stable across shards.
	PlayerID int64
	// DisplayName is the character name shown in-game. Lookups fold case.
	DisplayName string
	// AccountID is the owning account id.
	AccountID int64
	// Capability is the account privilege level granted at authentication.
	Capability int
	// Team is the PvP faction tag; zero means unaffiliated.
	Team int
	// LastSafeMap is the map the player is returned to after a party defeat.
	LastSafeMap string
	// Outbox is the bounded outbound frame queue drained by the network layer.
	Outbox *Outbox

	mu         sync.Mutex
	instanceID int64
	pos        actor.Position
	alive      bool
	lastActive time.Time

	// mover keeps the registry's instance index in sync when the session
	// transfers; set at registration time.
	mover instanceMover
}

type instanceMover interface {
	moveSession(id int32, instanceID int64) bool
}

// ActorID returns the persistent player id; sessions join groups under
// their persistent identity, not the reusable session id.
func (s *Session) ActorID() int64 { return s.PlayerID }

// Kind returns actor.KindPlayer.
func (s *Session) Kind() actor.Kind { return actor.KindPlayer }

// Name returns the display name.
func (s *Session) Name() string { return s.DisplayName }

// Alive reports whether the character is alive.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Position returns the session's current location.
func (s *Session) Position() actor.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// SetPosition updates the in-instance coordinates.
func (s *Session) SetPosition(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos.X, s.pos.Y = x, y
}

// InstanceID returns the id of the instance the session currently occupies.
func (s *Session) InstanceID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID
}

// EnterInstance moves the session into the given instance.
//
// Postcondition: Returns true and updates registry presence, or false if
// the session is no longer registered.
func (s *Session) EnterInstance(instanceID int64) bool {
	s.mu.Lock()
	mover := s.mover
	s.mu.Unlock()
	if mover == nil {
		return false
	}
	return mover.moveSession(s.ID, instanceID)
}

// setInstance records the new instance locally. Called by the registry
// with its own lock held, never the other way around.
func (s *Session) setInstance(instanceID int64) {
	s.mu.Lock()
	s.instanceID = instanceID
	s.pos.InstanceID = instanceID
	s.mu.Unlock()
}

// SetMorale is a no-op for players; morale is an NPC mechanic, but bulk
// group operations may touch every member kind.
func (s *Session) SetMorale(int) {}

// Resurrect restores the character to life.
func (s *Session) Resurrect() {
	s.mu.Lock()
	s.alive = true
	s.mu.Unlock()
}

// Kill marks the character dead.
func (s *Session) Kill() {
	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()
}

// IsEnemyOf reports hostility by faction tag: two sessions are enemies
// when both carry a non-zero team and the teams differ.
func (s *Session) IsEnemyOf(other actor.Actor) bool {
	o, ok := actor.As[*Session](other)
	if !ok {
		return false
	}
	return s.Team != 0 && o.Team != 0 && s.Team != o.Team
}

// IsAllyOf reports whether other shares the session's non-zero team.
func (s *Session) IsAllyOf(other actor.Actor) bool {
	o, ok := actor.As[*Session](other)
	if !ok {
		return false
	}
	return s.Team != 0 && s.Team == o.Team
}

// Touch records client activity for idle eviction.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.mu.Unlock()
}

// LastActive returns the time of the most recent client activity.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Outbox routes outbound frames to a buffered channel drained by the
// network layer's writer goroutine.
type Outbox struct {
	sessionID int32
	frames    chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewOutbox creates an Outbox for the given session id.
//
// Postcondition: Returns an Outbox with an open frame channel of the given
// capacity (64 if bufferSize <= 0).
func NewOutbox(sessionID int32, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		sessionID: sessionID,
		frames:    make(chan []byte, bufferSize),
	}
}

// Push enqueues a frame without blocking.
//
// Postcondition: The frame is enqueued, or an error if the outbox is
// closed or full. A full outbox drops the frame rather than stalling the
// sender.
func (o *Outbox) Push(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("session %d outbox is closed", o.sessionID)
	}
	select {
	case o.frames <- frame:
		return nil
	default:
		return fmt.Errorf("session %d outbox full", o.sessionID)
	}
}

// Frames returns the read-only frame channel.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox closed and closes the frame channel.
//
// Postcondition: Further Push calls return an error. Idempotent.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
	return nil
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
