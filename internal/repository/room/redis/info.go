package redis

import (
	"context"
	"fmt"

	"github.com/sharetube/playsync/internal/repository/room"
)

func (r repo) getInfoKey(roomId string) string {
	return "room:" + roomId + ":info"
}

func (r repo) SetInfo(ctx context.Context, params *room.SetInfoParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	defer r.logger.DebugContext(ctx, "returned")

	pipe := r.rc.TxPipeline()

	info := room.Info{
		Name:      params.Name,
		OwnerId:   params.OwnerId,
		VideoUrl:  params.VideoUrl,
		CreatedAt: params.CreatedAt,
	}
	infoKey := r.getInfoKey(params.RoomId)
	pipe.HSet(ctx, infoKey, info)
	pipe.Expire(ctx, infoKey, r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		return fmt.Errorf("failed to set room info: %w", err)
	}

	return nil
}

func (r repo) GetInfo(ctx context.Context, roomId string) (room.Info, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	defer r.logger.DebugContext(ctx, "returned")

	infoKey := r.getInfoKey(roomId)
	res := r.rc.HGetAll(ctx, infoKey)
	if err := res.Err(); err != nil {
		return room.Info{}, fmt.Errorf("failed to get room info: %w", err)
	}

	if len(res.Val()) == 0 {
		return room.Info{}, room.ErrInfoNotFound
	}

	var info room.Info
	if err := res.Scan(&info); err != nil {
		return room.Info{}, fmt.Errorf("failed to scan room info: %w", err)
	}

	r.rc.Expire(ctx, infoKey, r.expireDuration)

	return info, nil
}

func (r repo) RemoveInfo(ctx context.Context, roomId string) error {
	r.logger.DebugContext(ctx, "called", "room_id", roomId)
	defer r.logger.DebugContext(ctx, "returned")

	res, err := r.rc.Del(ctx, r.getInfoKey(roomId)).Result()
	if err != nil {
		return fmt.Errorf("failed to remove room info: %w", err)
	}

	if res == 0 {
		return room.ErrInfoNotFound
	}

	return nil
}
