package session

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrAlreadyConnected is returned when a persistent player id is already
// registered on this shard.
var ErrAlreadyConnected = errors.New("player already connected")

// ErrNameInUse is returned when the folded display name is already
// registered to another session.
var ErrNameInUse = errors.New("display name already in use")

// ErrAccountInUse is returned when the account already has a session on
// this shard.
var ErrAccountInUse = errors.New("account already has a session")

// ErrSessionNotFound is returned when a session id lookup yields nothing.
var ErrSessionNotFound = errors.New("session not found")

// Profile carries the identity fields needed to create a session, as
// produced by the authentication collaborator.
type Profile struct {
	PlayerID    int64
	DisplayName string
	AccountID   int64
	Capability  int
	Team        int
	InstanceID  int64
	LastSafeMap string
	// OutboxSize is the outbound frame buffer capacity; 0 uses the default.
	OutboxSize int
}

// Registry tracks all connected sessions on this shard, indexed by session
// id, persistent player id, folded display name, and owning account id.
// All methods are safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	bySession  map[int32]*Session
	byPlayer   map[int64]*Session
	byName     map[string]*Session
	byAccount  map[int64]*Session
	byInstance map[int64]map[int32]*Session

	nextID  int32
	freeIDs []int32

	// idleSince is set when the registry becomes empty, consumed by the
	// cluster auto-terminate sweep. Zero while any session is registered.
	idleSince time.Time

	now func() time.Time
}

// NewRegistry creates an empty session Registry.
func NewRegistry() *Registry {
	r := &Registry{
		bySession:  make(map[int32]*Session),
		byPlayer:   make(map[int64]*Session),
		byName:     make(map[string]*Session),
		byAccount:  make(map[int64]*Session),
		byInstance: make(map[int64]map[int32]*Session),
		nextID:     1,
		now:        time.Now,
	}
	r.idleSince = r.now()
	return r
}

// foldName normalises a display name for case-insensitive lookup.
func foldName(name string) string {
	return strings.ToLower(name)
}

// allocID returns a session id, reusing released ids before minting new ones.
func (r *Registry) allocID() int32 {
	if n := len(r.freeIDs); n > 0 {
		id := r.freeIDs[n-1]
		r.freeIDs = r.freeIDs[:n-1]
		return id
	}
	id := r.nextID
	r.nextID++
	return id
}

// Register creates a session from the given profile and inserts it into
// every index.
//
// Precondition: p.PlayerID must be > 0; p.DisplayName must be non-empty.
// Postcondition: Returns the created Session. A collision on player id,
// folded name, or account is rejected with the matching sentinel error
// and every index keeps pointing at the existing session.
func (r *Registry) Register(p Profile) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPlayer[p.PlayerID]; exists {
		return nil, ErrAlreadyConnected
	}
	if _, exists := r.byName[foldName(p.DisplayName)]; exists {
		return nil, ErrNameInUse
	}
	if _, exists := r.byAccount[p.AccountID]; exists {
		return nil, ErrAccountInUse
	}

	id := r.allocID()
	sess := &Session{
		ID:          id,
		PlayerID:    p.PlayerID,
		DisplayName: p.DisplayName,
		AccountID:   p.AccountID,
		Capability:  p.Capability,
		Team:        p.Team,
		LastSafeMap: p.LastSafeMap,
		Outbox:      NewOutbox(id, p.OutboxSize),
		instanceID:  p.InstanceID,
		alive:       true,
		lastActive:  r.now(),
		mover:       r,
	}
	sess.pos.InstanceID = p.InstanceID

	r.bySession[id] = sess
	r.byPlayer[p.PlayerID] = sess
	r.byName[foldName(p.DisplayName)] = sess
	r.byAccount[p.AccountID] = sess
	r.addToInstance(sess, p.InstanceID)

	r.idleSince = time.Time{}
	return sess, nil
}

// Unregister removes a session from every index and closes its outbox.
//
// Postcondition: The session id becomes eligible for reuse. If this was
// the last session, the registry records the idle-since timestamp.
// Returns ErrSessionNotFound if the id is unknown.
func (r *Registry) Unregister(sessionID int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.bySession[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	delete(r.bySession, sessionID)
	delete(r.byPlayer, sess.PlayerID)
	delete(r.byName, foldName(sess.DisplayName))
	delete(r.byAccount, sess.AccountID)
	r.removeFromInstance(sess)

	_ = sess.Outbox.Close()
	sess.mu.Lock()
	sess.mover = nil
	sess.mu.Unlock()

	r.freeIDs = append(r.freeIDs, sessionID)
	if len(r.bySession) == 0 {
		r.idleSince = r.now()
	}
	return nil
}

func (r *Registry) addToInstance(sess *Session, instanceID int64) {
	set := r.byInstance[instanceID]
	if set == nil {
		set = make(map[int32]*Session)
		r.byInstance[instanceID] = set
	}
	set[sess.ID] = sess
}

func (r *Registry) removeFromInstance(sess *Session) {
	sess.mu.Lock()
	inst := sess.instanceID
	sess.mu.Unlock()
	if set, ok := r.byInstance[inst]; ok {
		delete(set, sess.ID)
		if len(set) == 0 {
			delete(r.byInstance, inst)
		}
	}
}

// moveSession re-indexes a session under a new instance id. Satisfies the
// instanceMover hook used by Session.EnterInstance.
func (r *Registry) moveSession(sessionID int32, instanceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.bySession[sessionID]
	if !ok {
		return false
	}
	r.removeFromInstance(sess)
	sess.setInstance(instanceID)
	r.addToInstance(sess, instanceID)
	return true
}

// BySessionID returns the session for the given process-local id.
//
// Postcondition: Returns (session, true) if found, or (nil, false).
func (r *Registry) BySessionID(id int32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.bySession[id]
	return s, ok
}

// ByPlayerID returns the session for the given persistent player id.
func (r *Registry) ByPlayerID(playerID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byPlayer[playerID]
	return s, ok
}

// ByName returns the session with the given display name, compared
// case-insensitively.
func (r *Registry) ByName(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[foldName(name)]
	return s, ok
}

// ByAccount returns the session owned by the given account id.
func (r *Registry) ByAccount(accountID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byAccount[accountID]
	return s, ok
}

// VisitAll calls fn for every registered session. The iteration runs over
// a snapshot, so fn may register or unregister sessions safely.
func (r *Registry) VisitAll(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.bySession))
	for _, s := range r.bySession {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// VisitInstance calls fn for every session currently inside the given
// instance, iterating a snapshot.
func (r *Registry) VisitInstance(instanceID int64, fn func(*Session)) {
	r.mu.RLock()
	set := r.byInstance[instanceID]
	snapshot := make([]*Session, 0, len(set))
	for _, s := range set {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Count returns the number of connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// IdleSince returns the time the registry last became empty.
//
// Postcondition: Returns (t, true) if no sessions are registered, or
// (zero, false) while any session is connected.
func (r *Registry) IdleSince() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.bySession) > 0 {
		return time.Time{}, false
	}
	return r.idleSince, true
}

// Touch records activity for the given session.
func (r *Registry) Touch(sessionID int32) {
	r.mu.RLock()
	sess, ok := r.bySession[sessionID]
	r.mu.RUnlock()
	if ok {
		sess.Touch(r.now())
	}
}
