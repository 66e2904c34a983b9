package models

import "time"

// PresenceUser is one online identity.
type PresenceUser struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Avatar        string    `json:"avatar,omitempty"`
	OnlineAt      time.Time `json:"onlineAt"`
	CurrentGameID *string   `json:"currentGameId"`
}
