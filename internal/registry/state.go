package registry

import (
	"context"

	"github.com/sharetube/playsync/internal/events"
	"github.com/sharetube/playsync/internal/protocol"
)

type ApplyUpdateParams struct {
	RoomId   string
	State    protocol.RoomState
	SenderId string
}

type ApplyUpdateResponse struct {
	Accepted bool
	// room gone or sender not a member; never an error
	Miss  bool
	State protocol.RoomState
}

// ApplyUpdate stores the incoming state iff its version is strictly newer and
// broadcasts it to every session except the sender.
func (r *Registry) ApplyUpdate(ctx context.Context, params *ApplyUpdateParams) ApplyUpdateResponse {
	rm := r.getRoom(params.RoomId)
	if rm == nil {
		r.logger.DebugContext(ctx, "update: room not found", "room_id", params.RoomId)
		return ApplyUpdateResponse{Miss: true}
	}

	rm.mu.Lock()
	if rm.deleted {
		rm.mu.Unlock()
		return ApplyUpdateResponse{Miss: true}
	}

	if _, ok := rm.sessions[params.SenderId]; !ok {
		rm.mu.Unlock()
		r.logger.DebugContext(ctx, "update: sender is not in room",
			"room_id", params.RoomId,
			"connection_id", params.SenderId,
		)
		return ApplyUpdateResponse{Miss: true}
	}

	incoming := params.State
	if !incoming.NewerThan(rm.state) {
		current := rm.state
		rm.mu.Unlock()
		r.logger.DebugContext(ctx, "update: stale version rejected",
			"room_id", params.RoomId,
			"version", incoming.Version,
			"current_version", current.Version,
		)
		return ApplyUpdateResponse{State: current}
	}

	incoming.RoomId = params.RoomId
	incoming.LastUpdatedBy = params.SenderId
	rm.state = incoming

	sent := r.broadcastLocked(ctx, rm, &protocol.Envelope{
		Type:   protocol.TypeStateUpdate,
		RoomId: params.RoomId,
		State:  &incoming,
	}, params.SenderId)
	rm.mu.Unlock()

	r.logger.DebugContext(ctx, "update: state accepted",
		"room_id", params.RoomId,
		"version", incoming.Version,
		"receivers", sent,
	)

	r.publish(ctx, &events.Event{
		Kind:         events.KindStateAccepted,
		RoomId:       params.RoomId,
		ConnectionId: params.SenderId,
		State:        &incoming,
	})

	return ApplyUpdateResponse{Accepted: true, State: incoming}
}
