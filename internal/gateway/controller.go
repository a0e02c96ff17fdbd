package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/playsync/internal/protocol"
	"github.com/sharetube/playsync/internal/registry"
	"github.com/sharetube/playsync/internal/repository/room"
	"github.com/sharetube/playsync/pkg/validator"
	"github.com/sharetube/playsync/pkg/wsrouter"
)

var (
	ErrNotJoined      = errors.New("connection has not joined a room")
	ErrWrongRoom      = errors.New("connection is joined to another room")
	ErrServerOnlyType = errors.New("message type is sent by the server only")
)

type iRegistry interface {
	Join(context.Context, *registry.JoinParams) registry.JoinResponse
	Resync(context.Context, *registry.ResyncParams) bool
	Leave(context.Context, *registry.LeaveParams) registry.LeaveResponse
	ApplyUpdate(context.Context, *registry.ApplyUpdateParams) registry.ApplyUpdateResponse
	State(roomId string) (protocol.RoomState, bool)
	Members(roomId string) []registry.Member
	Stats() registry.Stats
}

type iRoomRepo interface {
	SetInfo(context.Context, *room.SetInfoParams) error
	GetInfo(ctx context.Context, roomId string) (room.Info, error)
	RemoveInfo(ctx context.Context, roomId string) error
}

type Config struct {
	SendBuffer     int
	MaxMessageSize int64
	WriteTimeout   time.Duration
	PongWait       time.Duration
	// room store lookups during JOIN give up after this long
	StoreTimeout time.Duration
}

func (cfg *Config) pingPeriod() time.Duration {
	return cfg.PongWait * 9 / 10
}

type Controller struct {
	registry   iRegistry
	roomRepo   iRoomRepo
	upgrader   websocket.Upgrader
	validate   *validator.Validator
	wsRouter   *wsrouter.WSRouter[*wsMessage]
	logger     *slog.Logger
	cfg        Config
	generateId func() string

	connsMu sync.Mutex
	conns   map[*conn]struct{}
}

func NewController(reg iRegistry, roomRepo iRoomRepo, cfg *Config, logger *slog.Logger) *Controller {
	c := &Controller{
		registry: reg,
		roomRepo: roomRepo,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate:   validator.NewValidator(),
		logger:     logger,
		cfg:        *cfg,
		generateId: uuid.NewString,
		conns:      make(map[*conn]struct{}),
	}
	c.wsRouter = c.getWSRouter()

	return c
}

// Close drops every live connection. Each one runs its normal teardown,
// so the registry sees exactly one leave per session.
func (c *Controller) Close() {
	c.connsMu.Lock()
	conns := make([]*conn, 0, len(c.conns))
	for conn := range c.conns {
		conns = append(conns, conn)
	}
	c.connsMu.Unlock()

	for _, conn := range conns {
		conn.ws.Close()
	}
}

func (c *Controller) track(conn *conn) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()

	c.conns[conn] = struct{}{}
}

func (c *Controller) untrack(conn *conn) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()

	delete(c.conns, conn)
}
