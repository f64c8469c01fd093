// Package dispatch re-injects envelopes arriving from the message bus
// into this process's registries. One inbound function switches on the
// envelope kind; unknown or malformed envelopes are dropped so a bad
// payload can never stop the consumer.
package dispatch

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltmarsh-games/shardd/internal/bus"
	"github.com/saltmarsh-games/shardd/internal/game/actor"
	"github.com/saltmarsh-games/shardd/internal/game/chat"
	"github.com/saltmarsh-games/shardd/internal/game/group"
	"github.com/saltmarsh-games/shardd/internal/game/session"
)

// RosterStore resolves guild and friend rosters from the record store.
// Results are player ids; non-resident ids are skipped at delivery.
type RosterStore interface {
	GuildMemberIDs(ctx context.Context, guildUUID uuid.UUID) ([]int64, error)
	FriendIDs(ctx context.Context, accountID int64) ([]int64, error)
	AccountGuild(ctx context.Context, accountID int64) (uuid.UUID, bool, error)
	// InvalidateAccount drops any cached roster entries for the account,
	// called before fanning out a roster-affecting change.
	InvalidateAccount(ctx context.Context, accountID int64)
}

// Notice is the frame pushed for non-chat notifications.
type Notice struct {
	Event     string `json:"event"`
	AccountID int64  `json:"account_id,omitempty"`
	Fields    uint32 `json:"fields,omitempty"`
	Name      string `json:"name,omitempty"`
	Addr      string `json:"addr,omitempty"`
	PlayerID  int64  `json:"player_id,omitempty"`
}

func (n Notice) frame() []byte {
	raw, err := json.Marshal(n)
	if err != nil {
		panic(err)
	}
	return raw
}

// Dispatcher is the single inbound bus handler for one process.
type Dispatcher struct {
	sessions *session.Registry
	parties  *group.Registry
	roster   RosterStore
	logger   *zap.Logger
}

// NewDispatcher constructs the inbound dispatcher.
func NewDispatcher(sessions *session.Registry, parties *group.Registry, roster RosterStore, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		parties:  parties,
		roster:   roster,
		logger:   logger,
	}
}

// Handle decodes one envelope and re-dispatches it locally. Duplicate
// delivery is tolerated where harmless; nothing is retried and no
// error escapes to the bus client.
func (d *Dispatcher) Handle(env *bus.Envelope) {
	switch env.Kind {
	case bus.KindGuildChat:
		d.guildChat(env)
	case bus.KindTradeChat:
		d.tradeChat(env)
	case bus.KindWhisper:
		d.whisper(env)
	case bus.KindMailArrived:
		d.mailArrived(env)
	case bus.KindPlayerInfoChanged:
		d.playerInfoChanged(env)
	case bus.KindServerJoined, bus.KindServerLeft:
		d.serverPresence(env)
	case bus.KindMatchQueueAdded, bus.KindMatchQueueRemoved:
		d.matchQueue(env)
	default:
		d.logger.Debug("dropping envelope of unknown kind",
			zap.String("kind", string(env.Kind)),
			zap.String("origin", env.Origin),
		)
	}
}

func (d *Dispatcher) guildChat(env *bus.Envelope) {
	var props bus.GuildChatProps
	if err := env.Decode(&props); err != nil {
		d.dropMalformed(env, err)
		return
	}

	memberIDs, err := d.roster.GuildMemberIDs(context.Background(), props.GuildUUID)
	if err != nil {
		d.logger.Error("resolving guild roster",
			zap.String("guild_uuid", props.GuildUUID.String()),
			zap.Error(err),
		)
		return
	}

	frame := chat.Message{Channel: "guild", Sender: props.Sender, Text: props.Text}.Frame()
	for _, playerID := range memberIDs {
		if s, ok := d.sessions.ByPlayerID(playerID); ok {
			_ = s.Outbox.Push(frame)
		}
	}
}

func (d *Dispatcher) tradeChat(env *bus.Envelope) {
	var props bus.TradeChatProps
	if err := env.Decode(&props); err != nil {
		d.dropMalformed(env, err)
		return
	}

	frame := chat.Message{Channel: "trade", Sender: props.Sender, Text: props.Text}.Frame()
	d.sessions.VisitAll(func(s *session.Session) {
		_ = s.Outbox.Push(frame)
	})
}

func (d *Dispatcher) whisper(env *bus.Envelope) {
	var props bus.WhisperProps
	if err := env.Decode(&props); err != nil {
		d.dropMalformed(env, err)
		return
	}

	// The target may have moved on or logged off since the sender's
	// residency check; a miss is a normal no-effect outcome.
	s, ok := d.sessions.ByPlayerID(props.TargetPlayerID)
	if !ok {
		d.logger.Debug("whisper target not resident",
			zap.Int64("target_player_id", props.TargetPlayerID),
		)
		return
	}
	_ = s.Outbox.Push(chat.Message{Channel: "whisper", Sender: props.Sender, Text: props.Text}.Frame())
}

func (d *Dispatcher) mailArrived(env *bus.Envelope) {
	var props bus.MailArrivedProps
	if err := env.Decode(&props); err != nil {
		d.dropMalformed(env, err)
		return
	}
	if s, ok := d.sessions.ByAccount(props.AccountID); ok {
		_ = s.Outbox.Push(Notice{Event: "mail-arrived", AccountID: props.AccountID}.frame())
	}
}

func (d *Dispatcher) playerInfoChanged(env *bus.Envelope) {
	var props bus.PlayerInfoChangedProps
	if err := env.Decode(&props); err != nil {
		d.dropMalformed(env, err)
		return
	}
	ctx := context.Background()

	// A guild change leaves stale rosters in this shard's cache; drop
	// them before resolving so the fan-out below sees the new state.
	if props.Fields&bus.FieldGuild != 0 {
		d.roster.InvalidateAccount(ctx, props.AccountID)
	}

	// Interested parties are the player's friends plus, when guilded,
	// the guild roster. Duplicates collapse by player id.
	interested := make(map[int64]struct{})
	friendIDs, err := d.roster.FriendIDs(ctx, props.AccountID)
	if err != nil {
		d.logger.Error("resolving friend roster",
			zap.Int64("account_id", props.AccountID),
			zap.Error(err),
		)
	} else {
		for _, id := range friendIDs {
			interested[id] = struct{}{}
		}
	}

	guildUUID, guilded, err := d.roster.AccountGuild(ctx, props.AccountID)
	if err != nil {
		d.logger.Error("resolving account guild",
			zap.Int64("account_id", props.AccountID),
			zap.Error(err),
		)
	} else if guilded {
		memberIDs, err := d.roster.GuildMemberIDs(ctx, guildUUID)
		if err != nil {
			d.logger.Error("resolving guild roster",
				zap.String("guild_uuid", guildUUID.String()),
				zap.Error(err),
			)
		} else {
			for _, id := range memberIDs {
				interested[id] = struct{}{}
			}
		}
	}

	frame := Notice{Event: "player-info-changed", AccountID: props.AccountID, Fields: props.Fields}.frame()
	for playerID := range interested {
		if s, ok := d.sessions.ByPlayerID(playerID); ok {
			_ = s.Outbox.Push(frame)
		}
	}
}

func (d *Dispatcher) serverPresence(env *bus.Envelope) {
	var props bus.ServerProps
	if err := env.Decode(&props); err != nil {
		d.dropMalformed(env, err)
		return
	}

	event := "server-joined"
	if env.Kind == bus.KindServerLeft {
		event = "server-left"
	}
	frame := Notice{Event: event, Name: props.Name, Addr: props.Addr}.frame()
	d.sessions.VisitAll(func(s *session.Session) {
		_ = s.Outbox.Push(frame)
	})
}

func (d *Dispatcher) matchQueue(env *bus.Envelope) {
	var props bus.MatchQueueProps
	if err := env.Decode(&props); err != nil {
		d.dropMalformed(env, err)
		return
	}

	p, ok := d.parties.PartyOf(props.PlayerID)
	if !ok {
		return
	}
	leader, ok := p.Leader()
	if !ok {
		return
	}
	s, ok := actor.As[*session.Session](leader)
	if !ok {
		return
	}

	event := "match-queue-added"
	if env.Kind == bus.KindMatchQueueRemoved {
		event = "match-queue-removed"
	}
	_ = s.Outbox.Push(Notice{Event: event, PlayerID: props.PlayerID}.frame())
}

func (d *Dispatcher) dropMalformed(env *bus.Envelope, err error) {
	d.logger.Debug("dropping malformed envelope",
		zap.String("kind", string(env.Kind)),
		zap.String("origin", env.Origin),
		zap.Error(err),
	)
}
