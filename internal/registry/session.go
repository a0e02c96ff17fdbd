package registry

import (
	"context"

	"github.com/sharetube/playsync/internal/events"
	"github.com/sharetube/playsync/internal/protocol"
)

type JoinParams struct {
	RoomId       string
	ConnectionId string
	UserId       string
	Peer         Peer
	// optional metadata attached to the joiner's reply
	Room *protocol.RoomInfo
}

type JoinResponse struct {
	State         protocol.RoomState
	Members       []Member
	IsRoomCreated bool
}

// Join registers the session, creating the room on first join, and returns
// the state the joiner must sync to. The joiner's USER_JOINED reply is queued
// before the room is unlocked so no later broadcast can overtake it. The other
// sessions get USER_JOINED without state.
func (r *Registry) Join(ctx context.Context, params *JoinParams) JoinResponse {
	for {
		rm, created := r.getOrCreateRoom(params.RoomId)

		rm.mu.Lock()
		if rm.deleted {
			rm.mu.Unlock()
			continue
		}

		rm.sessions[params.ConnectionId] = &Session{
			ConnectionId: params.ConnectionId,
			RoomId:       params.RoomId,
			UserId:       params.UserId,
			peer:         params.Peer,
		}

		resp := JoinResponse{
			State:         rm.state,
			Members:       rm.members(),
			IsRoomCreated: created,
		}

		r.replyLocked(ctx, rm, params.ConnectionId, params.Peer, params.UserId, params.Room)

		r.broadcastLocked(ctx, rm, &protocol.Envelope{
			Type:         protocol.TypeUserJoined,
			RoomId:       params.RoomId,
			UserId:       params.UserId,
			ConnectionId: params.ConnectionId,
		}, params.ConnectionId)
		rm.mu.Unlock()

		r.logger.InfoContext(ctx, "session joined",
			"room_id", params.RoomId,
			"connection_id", params.ConnectionId,
			"user_id", params.UserId,
			"sessions", len(resp.Members),
		)

		if created {
			r.publish(ctx, &events.Event{Kind: events.KindRoomCreated, RoomId: params.RoomId})
		}
		r.publish(ctx, &events.Event{
			Kind:         events.KindUserJoined,
			RoomId:       params.RoomId,
			ConnectionId: params.ConnectionId,
			UserId:       params.UserId,
		})

		return resp
	}
}

type ResyncParams struct {
	RoomId       string
	ConnectionId string
	Room         *protocol.RoomInfo
}

// Resync queues a fresh USER_JOINED snapshot on a session that is already in
// the room. It reports false when the session is not a member.
func (r *Registry) Resync(ctx context.Context, params *ResyncParams) bool {
	rm := r.getRoom(params.RoomId)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return false
	}

	s, ok := rm.sessions[params.ConnectionId]
	if !ok {
		return false
	}

	r.replyLocked(ctx, rm, s.ConnectionId, s.peer, s.UserId, params.Room)

	return true
}

// replyLocked queues the joiner's own USER_JOINED carrying the current state.
func (r *Registry) replyLocked(ctx context.Context, rm *room, connId string, peer Peer, userId string, info *protocol.RoomInfo) {
	state := rm.state
	data, err := protocol.Marshal(&protocol.Envelope{
		Type:         protocol.TypeUserJoined,
		RoomId:       rm.id,
		UserId:       userId,
		ConnectionId: connId,
		State:        &state,
		Room:         info,
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to marshal join reply", "error", err)
		return
	}

	if !peer.Send(data) {
		r.logger.WarnContext(ctx, "peer queue full, join reply dropped",
			"room_id", rm.id,
			"connection_id", connId,
		)
	}
}

type LeaveParams struct {
	RoomId       string
	ConnectionId string
}

type LeaveResponse struct {
	// false when the room or session was already gone
	Found         bool
	IsRoomDeleted bool
}

// Leave removes the session and deletes the room with its state when it was
// the last one. Unknown rooms and sessions are a benign miss.
func (r *Registry) Leave(ctx context.Context, params *LeaveParams) LeaveResponse {
	rm := r.getRoom(params.RoomId)
	if rm == nil {
		r.logger.DebugContext(ctx, "leave: room not found", "room_id", params.RoomId)
		return LeaveResponse{}
	}

	rm.mu.Lock()
	if rm.deleted {
		rm.mu.Unlock()
		return LeaveResponse{}
	}

	s, ok := rm.sessions[params.ConnectionId]
	if !ok {
		rm.mu.Unlock()
		r.logger.DebugContext(ctx, "leave: session not found",
			"room_id", params.RoomId,
			"connection_id", params.ConnectionId,
		)
		return LeaveResponse{}
	}

	delete(rm.sessions, params.ConnectionId)

	resp := LeaveResponse{Found: true}
	if len(rm.sessions) == 0 {
		rm.deleted = true
		r.removeRoom(rm)
		resp.IsRoomDeleted = true
	} else {
		r.broadcastLocked(ctx, rm, &protocol.Envelope{
			Type:         protocol.TypeUserLeft,
			RoomId:       params.RoomId,
			UserId:       s.UserId,
			ConnectionId: params.ConnectionId,
		}, "")
	}
	rm.mu.Unlock()

	r.logger.InfoContext(ctx, "session left",
		"room_id", params.RoomId,
		"connection_id", params.ConnectionId,
		"room_deleted", resp.IsRoomDeleted,
	)

	r.publish(ctx, &events.Event{
		Kind:         events.KindUserLeft,
		RoomId:       params.RoomId,
		ConnectionId: params.ConnectionId,
		UserId:       s.UserId,
	})
	if resp.IsRoomDeleted {
		r.publish(ctx, &events.Event{Kind: events.KindRoomDeleted, RoomId: params.RoomId})
	}

	return resp
}
