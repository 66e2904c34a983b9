package broadcast

import "gridclash/internal/models"

// Outbound event types.
const (
	EventSubscribed       = "subscribed"
	EventUnsubscribed     = "unsubscribed"
	EventError            = "error"
	EventPong             = "pong"
	EventGameUpdated      = "game:updated"
	EventGameDeleted      = "game:deleted"
	EventLobbyUpdated     = "lobby:updated"
	EventLiveUpdated      = "live:updated"
	EventPresenceSync     = "presence:sync"
	EventInviteReceived   = "invite:received"
	EventInviteSent       = "invite:sent"
	EventInviteResponse   = "invite:response"
	EventInviteCancelled  = "invite:cancelled"
	EventReactionReceived = "reaction:received"
)

// GameUpdate is the payload of game:updated.
type GameUpdate struct {
	Channel string              `json:"channel"`
	Session *models.GameSession `json:"session"`
}

// GameUpdated builds the game:updated event of a session.
func GameUpdated(s *models.GameSession) Event {
	return Event{Type: EventGameUpdated, Data: GameUpdate{Channel: GameChannel(s.ID), Session: s}}
}

// GameDeleted builds the game:deleted event of a session.
func GameDeleted(gameID string) Event {
	return Event{Type: EventGameDeleted, Data: map[string]string{"gameId": gameID}}
}

// Reaction is the payload of reaction:received.
type Reaction struct {
	GameID     string `json:"gameId"`
	Emoji      string `json:"emoji"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
}
