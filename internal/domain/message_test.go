package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMatchMessage(t *testing.T) {
	matchID := uuid.New()
	now := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

	msg, err := NewMatchMessage(MessageTimerUpdate, matchID, TimerUpdateData{TimeRemaining: 90}, now)
	require.NoError(t, err)

	assert.Equal(t, MessageTimerUpdate, msg.Type)
	assert.Equal(t, matchID.String(), msg.MatchID)
	assert.Empty(t, msg.TournamentID)
	assert.Equal(t, now.Format(time.RFC3339Nano), msg.Timestamp)

	var data TimerUpdateData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, 90, data.TimeRemaining)
}

func TestNewChannelMessage(t *testing.T) {
	now := time.Now()

	t.Run("match channel fills matchId", func(t *testing.T) {
		matchID := uuid.New()
		msg, err := NewChannelMessage(MessageConnectionStatus, MatchChannel(matchID), nil, now)
		require.NoError(t, err)
		assert.Equal(t, matchID.String(), msg.MatchID)
		assert.Empty(t, msg.TournamentID)
	})

	t.Run("tournament channel fills tournamentId", func(t *testing.T) {
		tournamentID := uuid.New()
		msg, err := NewChannelMessage(MessageConnectionStatus, TournamentChannel(tournamentID), nil, now)
		require.NoError(t, err)
		assert.Equal(t, tournamentID.String(), msg.TournamentID)
		assert.Empty(t, msg.MatchID)
	})

	t.Run("unknown channel leaves both empty", func(t *testing.T) {
		msg, err := NewChannelMessage(MessagePong, "", nil, now)
		require.NoError(t, err)
		assert.Empty(t, msg.MatchID)
		assert.Empty(t, msg.TournamentID)
	})
}

func TestMessage_WireShape(t *testing.T) {
	matchID := uuid.New()
	msg, err := NewMatchMessage(MessageMatchUpdate, matchID, map[string]string{"state": "IN_PROGRESS"}, time.Now())
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &wire))

	assert.Contains(t, wire, "type")
	assert.Contains(t, wire, "matchId")
	assert.Contains(t, wire, "data")
	assert.Contains(t, wire, "timestamp")
	assert.NotContains(t, wire, "tournamentId")

	// Timestamps are RFC 3339 with sub-second precision.
	var ts string
	require.NoError(t, json.Unmarshal(wire["timestamp"], &ts))
	_, err = time.Parse(time.RFC3339Nano, ts)
	assert.NoError(t, err)
}

func TestChannelNames(t *testing.T) {
	matchID := uuid.New()
	tournamentID := uuid.New()
	assert.Equal(t, "match:"+matchID.String(), MatchChannel(matchID))
	assert.Equal(t, "tournament:"+tournamentID.String(), TournamentChannel(tournamentID))
}
