package domain

import (
	"context"

	"github.com/google/uuid"
)

// Channel prefixes for the two broadcast scopes.
const (
	matchChannelPrefix      = "match:"
	tournamentChannelPrefix = "tournament:"
)

// MatchChannel returns the broadcast channel for a match.
func MatchChannel(matchID uuid.UUID) string {
	return matchChannelPrefix + matchID.String()
}

// TournamentChannel returns the broadcast channel for a tournament.
func TournamentChannel(tournamentID uuid.UUID) string {
	return tournamentChannelPrefix + tournamentID.String()
}

// BrokerMessage is a message received from the shared broker.
type BrokerMessage struct {
	Channel string
	Payload []byte
}

// Broker is the cross-process publish/subscribe contract. Implementations
// must keep the subscription set aligned with Subscribe/Unsubscribe calls
// across reconnects; Publish is fire-and-forget.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) error
	Unsubscribe(ctx context.Context, channel string) error
	Messages() <-chan BrokerMessage
	Close() error
}
