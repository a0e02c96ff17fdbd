package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/playsync/internal/protocol"
	"github.com/sharetube/playsync/internal/registry"
	"github.com/sharetube/playsync/internal/repository/room"
)

type wsMessage struct {
	conn *conn
	env  *protocol.Envelope
}

func (c *Controller) handleJoin(ctx context.Context, msg *wsMessage) error {
	conn, env := msg.conn, msg.env

	info := c.roomInfo(ctx, env.RoomId)

	if conn.roomId == env.RoomId {
		ok := c.registry.Resync(ctx, &registry.ResyncParams{
			RoomId:       env.RoomId,
			ConnectionId: conn.id,
			Room:         info,
		})
		if ok {
			return nil
		}
	}

	if conn.joined() {
		c.leave(ctx, conn)
	}

	if conn.id == "" {
		conn.id = c.generateId()
	}

	c.registry.Join(ctx, &registry.JoinParams{
		RoomId:       env.RoomId,
		ConnectionId: conn.id,
		UserId:       env.UserId,
		Peer:         conn,
		Room:         info,
	})
	conn.roomId = env.RoomId
	conn.userId = env.UserId

	return nil
}

// roomInfo never fails the caller: metadata is optional for a join.
func (c *Controller) roomInfo(ctx context.Context, roomId string) *protocol.RoomInfo {
	if c.roomRepo == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
	defer cancel()

	info, err := c.roomRepo.GetInfo(ctx, roomId)
	if err != nil {
		if !errors.Is(err, room.ErrInfoNotFound) {
			c.logger.WarnContext(ctx, "failed to load room info", "error", err)
		}
		return nil
	}

	return &protocol.RoomInfo{
		Name:      info.Name,
		OwnerId:   info.OwnerId,
		VideoUrl:  info.VideoUrl,
		CreatedAt: info.CreatedAt,
	}
}

func (c *Controller) handleLeave(ctx context.Context, msg *wsMessage) error {
	conn, env := msg.conn, msg.env

	if !conn.joined() || conn.roomId != env.RoomId {
		c.logger.DebugContext(ctx, "leave for a room this connection is not in")
		return nil
	}

	c.leave(ctx, conn)

	return nil
}

func (c *Controller) handleStateUpdate(ctx context.Context, msg *wsMessage) error {
	conn, env := msg.conn, msg.env

	if !conn.joined() {
		return ErrNotJoined
	}

	if conn.roomId != env.RoomId {
		return fmt.Errorf("%w: %s", ErrWrongRoom, conn.roomId)
	}

	resp := c.registry.ApplyUpdate(ctx, &registry.ApplyUpdateParams{
		RoomId:   env.RoomId,
		State:    *env.State,
		SenderId: conn.id,
	})

	switch {
	case resp.Miss:
		c.logger.InfoContext(ctx, "update for a room that is gone")
	case !resp.Accepted:
		c.logger.DebugContext(ctx, "stale update dropped",
			"version", env.State.Version,
			"held_version", resp.State.Version,
		)
	}

	return nil
}
