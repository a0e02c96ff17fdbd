package client

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/playsync/internal/protocol"
)

const DefaultWindow = time.Second

type stateSender interface {
	SendState(protocol.RoomState) error
}

// Emitter coalesces local playback events into at most one STATE_UPDATE
// per window. Only the latest pending state is sent, on the trailing edge.
type Emitter struct {
	mu      sync.Mutex
	state   *Reconciler
	sender  stateSender
	clock   clockwork.Clock
	window  time.Duration
	logger  *slog.Logger
	timer   clockwork.Timer
	pending bool
	// set when only the position moved; the version is taken at flush
	refresh  bool
	position float64
	closed   bool
}

func NewEmitter(state *Reconciler, sender stateSender, window time.Duration, clock clockwork.Clock, logger *slog.Logger) *Emitter {
	return &Emitter{
		state:  state,
		sender: sender,
		clock:  clock,
		window: window,
		logger: logger,
	}
}

func (e *Emitter) Handle(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	switch {
	case ev.Kind.hard():
		e.state.stamp(func(s *protocol.RoomState) {
			ev.applyTo(s)
		}, e.clock.Now())
		e.refresh = false
	case ev.Kind == EventTimeUpdate:
		if !e.state.isDriver() || !e.state.Local().IsPlaying {
			return
		}
		e.position = ev.Position
		e.refresh = true
	default:
		e.logger.Warn("unknown playback event", "kind", ev.Kind)
		return
	}

	e.pending = true
	if e.timer == nil {
		e.timer = e.clock.AfterFunc(e.window, e.flush)
	}
}

func (e *Emitter) flush() {
	e.mu.Lock()
	e.timer = nil
	if e.closed || !e.pending {
		e.mu.Unlock()
		return
	}

	// a peer may have taken over since the events were recorded
	if !e.state.isDriver() {
		e.pending, e.refresh = false, false
		e.mu.Unlock()
		return
	}

	var s protocol.RoomState
	if e.refresh {
		position := e.position
		s = e.state.stamp(func(s *protocol.RoomState) {
			s.CurrentTime = position
		}, e.clock.Now())
	} else {
		s = e.state.Local()
	}
	e.pending, e.refresh = false, false
	e.mu.Unlock()

	if err := e.sender.SendState(s); err != nil {
		e.logger.Info("state not sent", "error", err, "version", s.Version)
		return
	}

	e.logger.Debug("state sent", "version", s.Version)
}

// Close cancels the pending send. Events after Close are ignored.
func (e *Emitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
