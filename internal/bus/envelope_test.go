package bus

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_RoundTrip(t *testing.T) {
	guild := uuid.New()
	env, err := NewEnvelope(KindGuildChat, "shard-1", GuildChatProps{
		GuildUUID: guild,
		Sender:    "Alice",
		Text:      "hello",
	})
	require.NoError(t, err)

	raw, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, KindGuildChat, decoded.Kind)
	assert.Equal(t, "shard-1", decoded.Origin)

	var props GuildChatProps
	require.NoError(t, decoded.Decode(&props))
	assert.Equal(t, guild, props.GuildUUID)
	assert.Equal(t, "hello", props.Text)
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	_, err := DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestDecodeEnvelope_MissingKind(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`{"origin":"shard-1","props":{}}`))
	assert.Error(t, err)
}

func TestEnvelope_DecodeWrongShapeFails(t *testing.T) {
	env, err := NewEnvelope(KindMailArrived, "shard-1", MailArrivedProps{AccountID: 7})
	require.NoError(t, err)

	var props struct {
		AccountID string `json:"account_id"`
	}
	assert.Error(t, env.Decode(&props))
}
