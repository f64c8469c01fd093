// Package chat resolves (channel-kind, target-id) pairs to delivery
// channels. Instance and party channels fan out in-process only;
// whisper tries in-process first and falls back to the bus; guild and
// trade always round-trip through the bus so no process sees its own
// traffic early.
package chat

import (
	"encoding/json"
	"hash/fnv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/saltmarsh-games/shardd/internal/bus"
	"github.com/saltmarsh-games/shardd/internal/game/actor"
	"github.com/saltmarsh-games/shardd/internal/game/group"
	"github.com/saltmarsh-games/shardd/internal/game/session"
)

// Kind selects a channel variant and its delivery scope.
type Kind int

const (
	KindInstance Kind = iota
	KindParty
	KindWhisper
	KindGuild
	KindTrade
)

// String returns the channel kind name.
func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindParty:
		return "party"
	case KindWhisper:
		return "whisper"
	case KindGuild:
		return "guild"
	case KindTrade:
		return "trade"
	default:
		return "unknown"
	}
}

// Message is one line of chat or notification text addressed to a
// channel.
type Message struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
}

// Frame encodes the message for a session outbox.
func (m Message) Frame() []byte {
	raw, err := json.Marshal(m)
	if err != nil {
		// Message has no unmarshalable fields; unreachable.
		panic(err)
	}
	return raw
}

// Channel is a resolved fan-out target. Retain and Release bracket any
// reference held outside the router's cache; Sweep drops channels with
// no outside holders.
type Channel interface {
	Kind() Kind
	TargetID() int64
	Deliver(m Message) error
	Retain()
	Release()
}

// HashUUID folds a persisted identity into the numeric channel
// keyspace.
func HashUUID(id uuid.UUID) int64 {
	h := fnv.New64a()
	h.Write(id[:])
	return int64(h.Sum64())
}

// refs counts references held outside the router cache.
type refs struct {
	n atomic.Int32
}

func (r *refs) Retain()      { r.n.Add(1) }
func (r *refs) Release()     { r.n.Add(-1) }
func (r *refs) pinned() bool { return r.n.Load() > 0 }

// instanceChannel fans out to every session resident in one instance.
// Never crosses a process boundary.
type instanceChannel struct {
	refs
	id       int64
	sessions *session.Registry
}

func (c *instanceChannel) Kind() Kind      { return KindInstance }
func (c *instanceChannel) TargetID() int64 { return c.id }

func (c *instanceChannel) Deliver(m Message) error {
	frame := m.Frame()
	c.sessions.VisitInstance(c.id, func(s *session.Session) {
		_ = s.Outbox.Push(frame)
	})
	return nil
}

// partyChannel fans out to the live members of one party. Members
// resident on other processes are reached by their own process's party
// channel, not by this one.
type partyChannel struct {
	refs
	id      int64
	parties *group.Registry
}

func (c *partyChannel) Kind() Kind      { return KindParty }
func (c *partyChannel) TargetID() int64 { return c.id }

func (c *partyChannel) Deliver(m Message) error {
	p, ok := c.parties.Get(c.id)
	if !ok {
		return nil
	}
	frame := m.Frame()
	p.VisitMembers(func(a actor.Actor) {
		if s, ok := actor.As[*session.Session](a); ok {
			_ = s.Outbox.Push(frame)
		}
	})
	return nil
}

// whisperChannel targets one player by persistent id: in-process
// delivery when the target is resident, exactly one bus envelope when
// it is not.
type whisperChannel struct {
	refs
	target   int64
	sessions *session.Registry
	pub      bus.Publisher
	origin   string
}

func (c *whisperChannel) Kind() Kind      { return KindWhisper }
func (c *whisperChannel) TargetID() int64 { return c.target }

func (c *whisperChannel) Deliver(m Message) error {
	if s, ok := c.sessions.ByPlayerID(c.target); ok {
		return s.Outbox.Push(m.Frame())
	}
	env, err := bus.NewEnvelope(bus.KindWhisper, c.origin, bus.WhisperProps{
		TargetPlayerID: c.target,
		Sender:         m.Sender,
		Text:           m.Text,
	})
	if err != nil {
		return err
	}
	return c.pub.Publish(env)
}

// guildChannel always publishes to the bus; local guild members are
// reached when the dispatcher re-injects the envelope, so every
// process delivers in the same bus order.
type guildChannel struct {
	refs
	id        int64
	guildUUID uuid.UUID
	pub       bus.Publisher
	origin    string
}

func (c *guildChannel) Kind() Kind      { return KindGuild }
func (c *guildChannel) TargetID() int64 { return c.id }

func (c *guildChannel) Deliver(m Message) error {
	env, err := bus.NewEnvelope(bus.KindGuildChat, c.origin, bus.GuildChatProps{
		GuildUUID: c.guildUUID,
		Sender:    m.Sender,
		Text:      m.Text,
	})
	if err != nil {
		return err
	}
	return c.pub.Publish(env)
}

// tradeChannel is the cluster-wide trade channel; like guild, delivery
// is bus-only.
type tradeChannel struct {
	refs
	pub    bus.Publisher
	origin string
}

func (c *tradeChannel) Kind() Kind      { return KindTrade }
func (c *tradeChannel) TargetID() int64 { return 0 }

func (c *tradeChannel) Deliver(m Message) error {
	env, err := bus.NewEnvelope(bus.KindTradeChat, c.origin, bus.TradeChatProps{
		Sender: m.Sender,
		Text:   m.Text,
	})
	if err != nil {
		return err
	}
	return c.pub.Publish(env)
}
