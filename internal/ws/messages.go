package ws

import (
	"encoding/json"

	"gridclash/internal/models"
)

// Inbound message types.
const (
	TypeSubscribe         = "subscribe"
	TypeUnsubscribe       = "unsubscribe"
	TypePing              = "ping"
	TypePresenceJoin      = "presence:join"
	TypePresenceHeartbeat = "presence:heartbeat"
	TypePresenceSetGame   = "presence:set-game"
	TypeGameMove          = "game:move"
	TypeGameForfeit       = "game:forfeit"
	TypeGameTimeout       = "game:timeout"
	TypeInviteSend        = "invite:send"
	TypeInviteAccept      = "invite:accept"
	TypeInviteDecline     = "invite:decline"
	TypeInviteCancel      = "invite:cancel"
	TypeReactionSend      = "reaction:send"
)

// Envelope wraps every message in both directions.
type Envelope struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

type channelPayload struct {
	Channel string `json:"channel" validate:"required,max=128"`
}

type presenceJoinPayload struct {
	ID     string `json:"id" validate:"required,max=64"`
	Name   string `json:"name" validate:"max=64"`
	Avatar string `json:"avatar" validate:"max=512"`
}

type setGamePayload struct {
	GameID *string `json:"gameId" validate:"omitempty,max=64"`
}

type gamePayload struct {
	GameID string `json:"gameId" validate:"required,max=64"`
}

type movePayload struct {
	GameID   string `json:"gameId" validate:"required,max=64"`
	Position *int   `json:"position" validate:"required,min=0"`
}

type inviteSendPayload struct {
	TargetID     string      `json:"targetId" validate:"required,max=64"`
	BoardSize    int         `json:"boardSize" validate:"omitempty,oneof=3 4 5 7"`
	TurnDuration int         `json:"turnDuration" validate:"min=0,max=3600"`
	Mode         models.Mode `json:"mode" validate:"omitempty,max=16"`
	Name         string      `json:"name" validate:"max=64"`
}

type reactionPayload struct {
	GameID     string `json:"gameId" validate:"required,max=64"`
	Emoji      string `json:"emoji" validate:"required,max=32"`
	SenderName string `json:"senderName" validate:"max=64"`
}

// ErrorReply is the payload of error.
type ErrorReply struct {
	Message string `json:"message"`
	Kind    string `json:"kind"`
	For     string `json:"for,omitempty"`
}
