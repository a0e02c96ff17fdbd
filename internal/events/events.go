package events

import (
	"context"
	"time"

	"github.com/sharetube/playsync/internal/protocol"
)

type Kind string

const (
	KindRoomCreated   Kind = "room_created"
	KindRoomDeleted   Kind = "room_deleted"
	KindUserJoined    Kind = "user_joined"
	KindUserLeft      Kind = "user_left"
	KindStateAccepted Kind = "state_accepted"
)

type Event struct {
	Kind         Kind                `json:"kind"`
	RoomId       string              `json:"room_id"`
	ConnectionId string              `json:"connection_id,omitempty"`
	UserId       string              `json:"user_id,omitempty"`
	State        *protocol.RoomState `json:"state,omitempty"`
	At           time.Time           `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, event *Event)
}

type nop struct{}

func (nop) Publish(context.Context, *Event) {}

// Nop discards every event.
var Nop Publisher = nop{}
