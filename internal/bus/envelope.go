// Package bus carries cross-process messages between cluster members.
// Envelopes are the only payload type on the wire: a kind tag, the
// origin server name, and a kind-specific property blob.
package bus

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind tags an envelope with the message family it belongs to.
type Kind string

const (
	KindGuildChat         Kind = "guild-chat"
	KindTradeChat         Kind = "trade-chat"
	KindWhisper           Kind = "whisper"
	KindMailArrived       Kind = "mail-arrived"
	KindPlayerInfoChanged Kind = "player-info-changed"
	KindServerJoined      Kind = "server-joined"
	KindServerLeft        Kind = "server-left"
	KindMatchQueueAdded   Kind = "match-queue-added"
	KindMatchQueueRemoved Kind = "match-queue-removed"
)

// Envelope is the unit of cross-process delivery. Props holds the
// kind-specific fields, still encoded, so a dispatcher can switch on
// Kind before paying for the decode.
type Envelope struct {
	Kind   Kind            `json:"kind"`
	Origin string          `json:"origin"`
	Props  json.RawMessage `json:"props"`
}

// NewEnvelope wraps kind-specific properties into an Envelope.
//
// Postcondition: Returns an envelope whose Props decode back into an
// equal value, or an error if props cannot be encoded.
func NewEnvelope(kind Kind, origin string, props any) (*Envelope, error) {
	raw, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encoding %s props: %w", kind, err)
	}
	return &Envelope{Kind: kind, Origin: origin, Props: raw}, nil
}

// Decode unpacks the envelope's properties into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Props, v); err != nil {
		return fmt.Errorf("decoding %s props: %w", e.Kind, err)
	}
	return nil
}

// Encode serializes the whole envelope for the wire.
func (e *Envelope) Encode() ([]byte, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return raw, nil
}

// DecodeEnvelope parses a wire payload back into an Envelope.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if e.Kind == "" {
		return nil, fmt.Errorf("decoding envelope: missing kind")
	}
	return &e, nil
}

// GuildChatProps carries one guild chat line.
type GuildChatProps struct {
	GuildUUID uuid.UUID `json:"guild_uuid"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
}

// TradeChatProps carries one cluster-wide trade chat line.
type TradeChatProps struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// WhisperProps carries a whisper to a player resident on another
// process.
type WhisperProps struct {
	TargetPlayerID int64  `json:"target_player_id"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
}

// MailArrivedProps notifies a player that mail landed in their box.
type MailArrivedProps struct {
	AccountID int64 `json:"account_id"`
}

// Fields changed by a PlayerInfoChanged notification.
const (
	FieldPresence uint32 = 1 << iota
	FieldGuild
	FieldName
)

// PlayerInfoChangedProps pushes updated player info to every
// interested party on other processes.
type PlayerInfoChangedProps struct {
	AccountID int64  `json:"account_id"`
	Fields    uint32 `json:"fields"`
}

// ServerProps describes a cluster member joining or leaving.
type ServerProps struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// MatchQueueProps reports a player entering or leaving the match
// queue, delivered to that player's party leader.
type MatchQueueProps struct {
	PlayerID int64 `json:"player_id"`
}

// Publisher is the outbound half of the bus: fire-and-forget writes
// with at-least-once delivery and no cross-sender ordering.
type Publisher interface {
	Publish(e *Envelope) error
}
