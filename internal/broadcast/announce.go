package broadcast

import "gridclash/internal/models"

// TurnTracker follows the turn timers of running sessions.
type TurnTracker interface {
	Track(s *models.GameSession)
	Forget(id string)
}

// Announcer turns session changes into channel events: game:updated on the session's
// channel, lobby:updated when the set of joinable sessions changes and live:updated
// when the set of running sessions changes.
type Announcer struct {
	hub   *Hub
	clock TurnTracker
}

// NewAnnouncer creates an announcer. clock may be nil.
func NewAnnouncer(hub *Hub, clock TurnTracker) *Announcer {
	return &Announcer{hub: hub, clock: clock}
}

// Created announces a new session.
func (a *Announcer) Created(s *models.GameSession) {
	switch {
	case s.Status == models.StatusWaiting && s.InvitedPlayerID == nil:
		a.lobby(s.ID)
	case s.Status == models.StatusInProgress:
		a.live(s.ID)
	}
	a.track(s)
}

// Updated announces a changed session to its channel and to the lists it moved
// between.
func (a *Announcer) Updated(prev models.Status, s *models.GameSession) Delivery {
	d := a.hub.Publish(GameChannel(s.ID), GameUpdated(s), "")
	a.Moved(prev, s)
	return d
}

// Moved announces only the list changes of a session whose game:updated was
// already published.
func (a *Announcer) Moved(prev models.Status, s *models.GameSession) {
	if prev != s.Status {
		if prev == models.StatusWaiting && s.InvitedPlayerID == nil {
			a.lobby(s.ID)
		}
		a.live(s.ID)
	}
	a.track(s)
}

// Joined announces a session a join just started. A join clears the reservation,
// so the caller says whether the session was reserved for an invitee and thus
// never listed in the lobby.
func (a *Announcer) Joined(s *models.GameSession, invited bool) Delivery {
	d := a.hub.Publish(GameChannel(s.ID), GameUpdated(s), "")
	a.Started(s, invited)
	return d
}

// Started is Joined for a session whose game:updated was already published.
func (a *Announcer) Started(s *models.GameSession, invited bool) {
	if !invited {
		a.lobby(s.ID)
	}
	a.live(s.ID)
	a.track(s)
}

// Deleted announces a session removed before it started.
func (a *Announcer) Deleted(s *models.GameSession) {
	a.hub.Publish(GameChannel(s.ID), GameDeleted(s.ID), "")
	if s.InvitedPlayerID == nil {
		a.lobby(s.ID)
	}
	if a.clock != nil {
		a.clock.Forget(s.ID)
	}
}

func (a *Announcer) lobby(gameID string) {
	a.hub.Publish(LobbyChannel, Event{Type: EventLobbyUpdated, Data: map[string]string{"gameId": gameID}}, "")
}

func (a *Announcer) live(gameID string) {
	a.hub.Publish(LiveChannel, Event{Type: EventLiveUpdated, Data: map[string]string{"gameId": gameID}}, "")
}

func (a *Announcer) track(s *models.GameSession) {
	if a.clock != nil {
		a.clock.Track(s)
	}
}
