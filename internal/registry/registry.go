package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/playsync/internal/events"
	"github.com/sharetube/playsync/internal/protocol"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Peer is the registry's view of a live connection. Send must not block:
// a slow receiver drops its own messages instead of stalling the room.
type Peer interface {
	Send(data []byte) bool
}

type Session struct {
	ConnectionId string
	RoomId       string
	UserId       string
	peer         Peer
}

type Member struct {
	ConnectionId string `json:"connectionId"`
	UserId       string `json:"userId"`
}

type room struct {
	mu       sync.Mutex
	id       string
	state    protocol.RoomState
	sessions map[string]*Session
	// set once the last session leaves; a racing Join must retry
	deleted bool
}

// Registry owns every active room. Mutations of one room are serialized by
// that room's mutex; mu only guards the rooms map itself.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*room
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func New(publisher events.Publisher, logger *slog.Logger) *Registry {
	if publisher == nil {
		publisher = events.Nop
	}

	return &Registry{
		rooms:     make(map[string]*room),
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

func (r *Registry) getRoom(roomId string) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rooms[roomId]
}

func (r *Registry) getOrCreateRoom(roomId string) (*room, bool) {
	if rm := r.getRoom(roomId); rm != nil {
		return rm, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[roomId]; ok {
		return rm, false
	}

	rm := &room{
		id:       roomId,
		state:    protocol.NewRoomState(roomId),
		sessions: make(map[string]*Session),
	}
	r.rooms[roomId] = rm

	return rm, true
}

// removeRoom is called with rm.mu held. Lock order is always room, then map.
func (r *Registry) removeRoom(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
}

func (rm *room) members() []Member {
	ids := maps.Keys(rm.sessions)
	slices.Sort(ids)

	members := make([]Member, 0, len(ids))
	for _, id := range ids {
		s := rm.sessions[id]
		members = append(members, Member{
			ConnectionId: s.ConnectionId,
			UserId:       s.UserId,
		})
	}

	return members
}

// broadcastLocked marshals env once and queues it on every session but except.
func (r *Registry) broadcastLocked(ctx context.Context, rm *room, env *protocol.Envelope, except string) int {
	data, err := protocol.Marshal(env)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to marshal broadcast", "error", err)
		return 0
	}

	sent := 0
	for id, s := range rm.sessions {
		if id == except {
			continue
		}

		if !s.peer.Send(data) {
			r.logger.WarnContext(ctx, "peer queue full, message dropped",
				"room_id", rm.id,
				"connection_id", id,
				"type", env.Type,
			)
			continue
		}
		sent++
	}

	return sent
}

func (r *Registry) publish(ctx context.Context, event *events.Event) {
	event.At = r.now()
	r.publisher.Publish(ctx, event)
}

// State returns a snapshot of the room's authoritative state.
func (r *Registry) State(roomId string) (protocol.RoomState, bool) {
	rm := r.getRoom(roomId)
	if rm == nil {
		return protocol.RoomState{}, false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return protocol.RoomState{}, false
	}

	return rm.state, true
}

func (r *Registry) Members(roomId string) []Member {
	rm := r.getRoom(roomId)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.deleted {
		return nil
	}

	return rm.members()
}

type Stats struct {
	Rooms    int `json:"rooms"`
	Sessions int `json:"sessions"`
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	rooms := maps.Values(r.rooms)
	r.mu.RUnlock()

	stats := Stats{}
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.deleted {
			stats.Rooms++
			stats.Sessions += len(rm.sessions)
		}
		rm.mu.Unlock()
	}

	return stats
}
