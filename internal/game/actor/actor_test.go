package actor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeActor struct {
	id    int64
	kind  Kind
	alive bool
}

func (f *fakeActor) ActorID() int64     { return f.id }
func (f *fakeActor) Kind() Kind         { return f.kind }
func (f *fakeActor) Name() string       { return "fake" }
func (f *fakeActor) Alive() bool        { return f.alive }
func (f *fakeActor) Position() Position { return Position{} }

type fakeCreature struct {
	fakeActor
	morale int
}

func (f *fakeCreature) SetMorale(m int) { f.morale = m }
func (f *fakeCreature) Resurrect()      { f.alive = true }
func (f *fakeCreature) Kill()           { f.alive = false }

func TestKindString(t *testing.T) {
	assert.Equal(t, "player", KindPlayer.String())
	assert.Equal(t, "npc", KindNPC.String())
	assert.Equal(t, "summon", KindSummon.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestAs_CapabilityPresent(t *testing.T) {
	var a Actor = &fakeCreature{fakeActor: fakeActor{id: 1, alive: true}}
	c, ok := As[Creature](a)
	assert.True(t, ok)
	c.Kill()
	assert.False(t, a.Alive())
}

func TestAs_CapabilityAbsent(t *testing.T) {
	var a Actor = &fakeActor{id: 2}
	_, ok := As[Creature](a)
	assert.False(t, ok)
}

func TestResolverFunc(t *testing.T) {
	live := &fakeActor{id: 7, alive: true}
	r := ResolverFunc(func(id int64) (Actor, bool) {
		if id == 7 {
			return live, true
		}
		return nil, false
	})

	got, ok := r.ResolveActor(7)
	assert.True(t, ok)
	assert.Same(t, Actor(live), got)

	_, ok = r.ResolveActor(8)
	assert.False(t, ok)
}
