package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/playsync/internal/protocol"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrQueueFull    = errors.New("send queue full")
)

type Config struct {
	URL    string
	RoomId string
	UserId string

	Window         time.Duration
	DriftTolerance float64

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	SendBuffer   int
	WriteTimeout time.Duration
	// ReadTimeout bounds silence from the server, pings included. Zero disables it.
	ReadTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:            DefaultWindow,
		DriftTolerance:    DefaultDriftTolerance,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2,
		SendBuffer:        16,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
	}
}

// Client keeps one media element in sync with a room. It owns the
// connection and reconnects with exponential backoff until Run returns.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	clock  clockwork.Clock
	logger *slog.Logger

	player     *Player
	reconciler *Reconciler
	emitter    *Emitter

	mu   sync.Mutex
	conn *conn
}

func New(cfg *Config, media MediaElement, clock clockwork.Clock, logger *slog.Logger) *Client {
	logger = logger.With("room_id", cfg.RoomId)

	c := &Client{
		cfg:    *cfg,
		dialer: websocket.DefaultDialer,
		clock:  clock,
		logger: logger,
		player: NewPlayer(media, logger),
	}
	c.reconciler = NewReconciler(cfg.RoomId, c.player, cfg.DriftTolerance, clock, logger)
	c.emitter = NewEmitter(c.reconciler, c, cfg.Window, clock, logger)

	return c
}

// HandleMediaEvent is called by the media element for every local event.
func (c *Client) HandleMediaEvent(ev Event) {
	if ev, ok := c.player.HandleEvent(ev); ok {
		c.emitter.Handle(ev)
	}
}

func (c *Client) State() protocol.RoomState {
	return c.reconciler.Local()
}

func (c *Client) SessionId() string {
	return c.reconciler.SessionId()
}

func (c *Client) SendState(state protocol.RoomState) error {
	return c.sendEnvelope(&protocol.Envelope{
		Type:   protocol.TypeStateUpdate,
		RoomId: c.cfg.RoomId,
		State:  &state,
	})
}

func (c *Client) sendEnvelope(env *protocol.Envelope) error {
	data, err := protocol.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	if !c.conn.enqueue(data) {
		return ErrQueueFull
	}

	return nil
}

func (c *Client) setConn(cn *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = cn
}

// Run connects, joins and keeps the session alive until ctx is done. On
// return the pending send is cancelled and the room is left.
func (c *Client) Run(ctx context.Context) error {
	defer c.emitter.Close()

	backoff := c.cfg.InitialBackoff
	for {
		joined, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if joined {
			backoff = c.cfg.InitialBackoff
		}

		c.logger.Warn("connection lost, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(backoff):
		}

		backoff = c.nextBackoff(backoff)
	}
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * c.cfg.BackoffMultiplier)
	if next > c.cfg.MaxBackoff {
		return c.cfg.MaxBackoff
	}

	return next
}

// session runs one connection from dial to close. It reports whether the
// server acknowledged our JOIN.
func (c *Client) session(ctx context.Context) (bool, error) {
	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	resp.Body.Close()

	if err := c.extendDeadline(ws); err != nil {
		ws.Close()
		return false, fmt.Errorf("failed to set read deadline: %w", err)
	}
	ws.SetPingHandler(func(appData string) error {
		if err := c.extendDeadline(ws); err != nil {
			return err
		}

		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.cfg.WriteTimeout))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || errors.As(err, &netErr) && netErr.Timeout() {
			return nil
		}
		return err
	})

	cn := newConn(ws, c.cfg.SendBuffer, c.cfg.WriteTimeout)
	go cn.writePump(c.logger)
	c.setConn(cn)
	defer func() {
		c.setConn(nil)
		cn.close()
	}()

	stop := context.AfterFunc(ctx, func() {
		c.sendEnvelope(&protocol.Envelope{Type: protocol.TypeLeave, RoomId: c.cfg.RoomId})
		cn.close()
	})
	defer stop()

	if err := c.sendEnvelope(&protocol.Envelope{
		Type:   protocol.TypeJoin,
		RoomId: c.cfg.RoomId,
		UserId: c.cfg.UserId,
	}); err != nil {
		return false, fmt.Errorf("failed to send join: %w", err)
	}

	joined := false
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return joined, fmt.Errorf("failed to read: %w", err)
		}

		if err := c.extendDeadline(ws); err != nil {
			return joined, fmt.Errorf("failed to set read deadline: %w", err)
		}

		env, err := protocol.Parse(data)
		if err != nil {
			c.logger.Warn("dropping malformed message", "error", err)
			continue
		}

		if c.handleEnvelope(&env) {
			joined = true
		}
	}
}

// extendDeadline moves the read deadline forward. The server pings well within
// its own pong wait, so a connection silent past ReadTimeout is dead.
func (c *Client) extendDeadline(ws *websocket.Conn) error {
	if c.cfg.ReadTimeout <= 0 {
		return nil
	}

	return ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
}

// handleEnvelope reports true for our own join acknowledgement.
func (c *Client) handleEnvelope(env *protocol.Envelope) bool {
	switch env.Type {
	case protocol.TypeUserJoined:
		// only the reply to our own JOIN carries the room state
		if env.State != nil && env.RoomId == c.cfg.RoomId {
			c.reconciler.SetSessionId(env.ConnectionId)
			c.reconciler.Resync(*env.State)
			c.logger.Info("joined room",
				"connection_id", env.ConnectionId,
				"version", env.State.Version,
			)
			return true
		}
		c.logger.Info("peer joined", "connection_id", env.ConnectionId, "user_id", env.UserId)
	case protocol.TypeUserLeft:
		c.logger.Info("peer left", "connection_id", env.ConnectionId, "user_id", env.UserId)
	case protocol.TypeStateUpdate:
		if env.State == nil {
			return false
		}
		outcome := c.reconciler.Apply(*env.State, c.clock.Now())
		c.logger.Debug("state update", "version", env.State.Version, "outcome", outcome)
	case protocol.TypeError:
		c.logger.Warn("server rejected message", "error", env.Error)
	}

	return false
}
