package client

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/playsync/internal/protocol"
)

const DefaultDriftTolerance = 0.75

// Correction is what the media element must do to match the room.
type Correction struct {
	Seek         bool
	Position     float64
	IsPlaying    bool
	PlaybackRate float64
}

type Outcome int

const (
	OutcomeDiscarded Outcome = iota
	// own state came back; version adopted, media untouched
	OutcomeAdopted
	OutcomeCorrected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeAdopted:
		return "adopted"
	case OutcomeCorrected:
		return "corrected"
	}
	return "unknown"
}

type corrector interface {
	CurrentTime() float64
	Apply(Correction) error
}

// Reconciler holds the client's mirror of the room state and decides which
// incoming states reach the media element.
type Reconciler struct {
	mu        sync.Mutex
	local     protocol.RoomState
	sessionId string

	tolerance float64
	player    corrector
	clock     clockwork.Clock
	logger    *slog.Logger
}

func NewReconciler(roomId string, player corrector, tolerance float64, clock clockwork.Clock, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		local:     protocol.NewRoomState(roomId),
		tolerance: tolerance,
		player:    player,
		clock:     clock,
		logger:    logger,
	}
}

func (r *Reconciler) Local() protocol.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.local
}

func (r *Reconciler) SessionId() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessionId
}

func (r *Reconciler) SetSessionId(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessionId = id
}

// Apply merges a peer state received at receivedAt. A zero receivedAt
// disables position extrapolation.
func (r *Reconciler) Apply(incoming protocol.RoomState, receivedAt time.Time) Outcome {
	r.mu.Lock()
	if !incoming.NewerThan(r.local) {
		r.mu.Unlock()
		r.logger.Debug("stale state discarded",
			"version", incoming.Version,
			"local_version", r.local.Version,
		)
		return OutcomeDiscarded
	}

	if r.sessionId != "" && incoming.LastUpdatedBy == r.sessionId {
		r.local.Version = incoming.Version
		r.local.LastUpdatedBy = incoming.LastUpdatedBy
		r.mu.Unlock()
		return OutcomeAdopted
	}

	r.local = incoming
	r.mu.Unlock()

	r.correct(incoming, receivedAt)

	return OutcomeCorrected
}

// Resync replaces local state with a join snapshot. The room may have been
// recreated since we last saw it, so the version check does not apply.
func (r *Reconciler) Resync(state protocol.RoomState) Outcome {
	r.mu.Lock()
	r.local = state
	r.mu.Unlock()

	r.correct(state, time.Time{})

	return OutcomeCorrected
}

func (r *Reconciler) correct(state protocol.RoomState, receivedAt time.Time) {
	target := state.CurrentTime
	if state.IsPlaying && !receivedAt.IsZero() {
		target += r.clock.Since(receivedAt).Seconds() * state.PlaybackRate
	}

	drift := math.Abs(r.player.CurrentTime() - target)
	c := Correction{
		Seek:         drift > r.tolerance,
		Position:     target,
		IsPlaying:    state.IsPlaying,
		PlaybackRate: state.PlaybackRate,
	}

	if err := r.player.Apply(c); err != nil {
		r.logger.Warn("failed to apply correction", "error", err, "version", state.Version)
		return
	}

	r.logger.Debug("state applied",
		"version", state.Version,
		"drift", drift,
		"seek", c.Seek,
	)
}

// stamp applies a local change as a new authored state. The version is
// max(local+1, now in ms) so it is never shadowed by a late lower version.
func (r *Reconciler) stamp(mutate func(*protocol.RoomState), now time.Time) protocol.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.local
	mutate(&s)
	s.Version = max(r.local.Version+1, now.UnixMilli())
	s.LastUpdatedBy = r.sessionId
	r.local = s

	return s
}

// isDriver reports whether this client authored the current state.
func (r *Reconciler) isDriver() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessionId != "" && r.local.LastUpdatedBy == r.sessionId
}
