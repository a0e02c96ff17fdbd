package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sharetube/playsync/internal/protocol"
	"github.com/sharetube/playsync/internal/registry"
	"github.com/sharetube/playsync/internal/repository/room"
	"github.com/sharetube/playsync/pkg/rest"
)

type putRoomRequest struct {
	Name     string `json:"name" validate:"required,max=128"`
	OwnerId  string `json:"ownerId" validate:"required,max=128"`
	VideoUrl string `json:"videoUrl" validate:"omitempty,url,max=2048"`
}

type roomResponse struct {
	Room    *protocol.RoomInfo  `json:"room,omitempty"`
	State   *protocol.RoomState `json:"state,omitempty"`
	Members []registry.Member   `json:"members"`
}

func (c *Controller) putRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomId := chi.URLParam(r, "room-id")

	var req putRoomRequest
	if err := rest.ReadJSON(r, &req); err != nil {
		c.logger.InfoContext(ctx, "failed to read json", "error", err)
		rest.WriteJSON(w, http.StatusUnprocessableEntity, rest.Envelope{"error": err.Error()})
		return
	}

	if validationErrors, ok := c.validate.Validate(req); !ok {
		c.logger.InfoContext(ctx, "validation failed", "errors", validationErrors)
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": validationErrors})
		return
	}

	params := room.SetInfoParams{
		RoomId:    roomId,
		Name:      req.Name,
		OwnerId:   req.OwnerId,
		VideoUrl:  req.VideoUrl,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := c.roomRepo.SetInfo(ctx, &params); err != nil {
		c.logger.ErrorContext(ctx, "failed to save room info", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal server error"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": protocol.RoomInfo{
		Name:      params.Name,
		OwnerId:   params.OwnerId,
		VideoUrl:  params.VideoUrl,
		CreatedAt: params.CreatedAt,
	}})
}

// deleteRoom drops the stored metadata only; an active room keeps its sessions.
func (c *Controller) deleteRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomId := chi.URLParam(r, "room-id")

	if err := c.roomRepo.RemoveInfo(ctx, roomId); err != nil {
		if errors.Is(err, room.ErrInfoNotFound) {
			rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room not found"})
			return
		}

		c.logger.ErrorContext(ctx, "failed to remove room info", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal server error"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) getRoom(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomId := chi.URLParam(r, "room-id")

	resp := roomResponse{Members: []registry.Member{}}

	info, err := c.roomRepo.GetInfo(ctx, roomId)
	switch {
	case err == nil:
		resp.Room = &protocol.RoomInfo{
			Name:      info.Name,
			OwnerId:   info.OwnerId,
			VideoUrl:  info.VideoUrl,
			CreatedAt: info.CreatedAt,
		}
	case !errors.Is(err, room.ErrInfoNotFound):
		c.logger.ErrorContext(ctx, "failed to load room info", "error", err)
		rest.WriteJSON(w, http.StatusInternalServerError, rest.Envelope{"error": "internal server error"})
		return
	}

	if state, ok := c.registry.State(roomId); ok {
		resp.State = &state
		if members := c.registry.Members(roomId); members != nil {
			resp.Members = members
		}
	}

	if resp.Room == nil && resp.State == nil {
		rest.WriteJSON(w, http.StatusNotFound, rest.Envelope{"error": "room not found"})
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": resp})
}

func (c *Controller) getStats(w http.ResponseWriter, r *http.Request) {
	rest.WriteJSON(w, http.StatusOK, rest.Envelope{"data": c.registry.Stats()})
}
