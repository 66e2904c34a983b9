package broadcast

import "strings"

const (
	// LobbyChannel carries changes to the list of joinable games.
	LobbyChannel = "lobby"
	// LiveChannel carries changes to the list of running games.
	LiveChannel = "live"

	gamePrefix = "game:"
)

// GameChannel returns the channel of one session.
func GameChannel(gameID string) string {
	return gamePrefix + gameID
}

// GameIDOf returns the session id of a game channel.
func GameIDOf(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, gamePrefix)
	return id, ok && id != ""
}

// ValidChannel reports whether clients may subscribe to channel.
func ValidChannel(channel string) bool {
	if channel == LobbyChannel || channel == LiveChannel {
		return true
	}
	_, ok := GameIDOf(channel)
	return ok
}
