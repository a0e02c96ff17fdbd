package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Type string

const (
	TypeJoin        Type = "JOIN"
	TypeLeave       Type = "LEAVE"
	TypeStateUpdate Type = "STATE_UPDATE"
	TypeUserJoined  Type = "USER_JOINED"
	TypeUserLeft    Type = "USER_LEFT"
	TypeError       Type = "ERROR"
)

const DefaultPlaybackRate = 1.0

var (
	ErrMalformed   = errors.New("malformed envelope")
	ErrUnknownType = errors.New("unknown envelope type")
)

func (t Type) Valid() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeStateUpdate, TypeUserJoined, TypeUserLeft, TypeError:
		return true
	}
	return false
}

// Inbound reports whether clients are allowed to send this type to the server.
func (t Type) Inbound() bool {
	return t == TypeJoin || t == TypeLeave || t == TypeStateUpdate
}

// RoomState is the playback tuple shared by every session of a room.
// Version is an ordering key only and never read as wall time.
type RoomState struct {
	RoomId        string  `json:"roomId"`
	CurrentTime   float64 `json:"currentTime" validate:"gte=0"`
	IsPlaying     bool    `json:"isPlaying"`
	PlaybackRate  float64 `json:"playbackRate" validate:"gt=0"`
	Version       int64   `json:"version" validate:"gte=0"`
	LastUpdatedBy string  `json:"lastUpdatedBy,omitempty"`
}

func NewRoomState(roomId string) RoomState {
	return RoomState{
		RoomId:       roomId,
		CurrentTime:  0,
		IsPlaying:    false,
		PlaybackRate: DefaultPlaybackRate,
		Version:      0,
	}
}

// NewerThan is the monotonic-apply rule: only strictly greater versions win.
func (s RoomState) NewerThan(other RoomState) bool {
	return s.Version > other.Version
}

// RoomInfo is the durable room metadata kept by the external room store.
type RoomInfo struct {
	Name      string `json:"name"`
	OwnerId   string `json:"ownerId"`
	VideoUrl  string `json:"videoUrl"`
	CreatedAt int64  `json:"createdAt"`
}

type Envelope struct {
	Type         Type       `json:"type" validate:"required"`
	RoomId       string     `json:"roomId" validate:"required,max=128,roomid"`
	UserId       string     `json:"userId,omitempty" validate:"required_if=Type JOIN,max=128"`
	ConnectionId string     `json:"connectionId,omitempty"`
	State        *RoomState `json:"state,omitempty" validate:"required_if=Type STATE_UPDATE"`
	Room         *RoomInfo  `json:"room,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Parse decodes one wire frame. Field-level validation is left to the caller.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if !env.Type.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return env, nil
}

func Marshal(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	return data, nil
}

func NewError(roomId string, err error) *Envelope {
	return &Envelope{
		Type:   TypeError,
		RoomId: roomId,
		Error:  err.Error(),
	}
}
