package client

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/playsync/internal/protocol"
)

// SimulatedMedia is a MediaElement that only keeps time. Position advances
// with the clock while playing.
type SimulatedMedia struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	position float64
	playing  bool
	rate     float64
	since    time.Time
}

func NewSimulatedMedia(clock clockwork.Clock) *SimulatedMedia {
	return &SimulatedMedia{
		clock: clock,
		rate:  protocol.DefaultPlaybackRate,
		since: clock.Now(),
	}
}

func (m *SimulatedMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.currentTimeLocked()
}

func (m *SimulatedMedia) currentTimeLocked() float64 {
	if !m.playing {
		return m.position
	}

	return m.position + m.clock.Since(m.since).Seconds()*m.rate
}

func (m *SimulatedMedia) freezeLocked() {
	m.position = m.currentTimeLocked()
	m.since = m.clock.Now()
}

func (m *SimulatedMedia) Seek(position float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.position = max(position, 0)
	m.since = m.clock.Now()

	return nil
}

func (m *SimulatedMedia) SetPlaying(playing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freezeLocked()
	m.playing = playing

	return nil
}

func (m *SimulatedMedia) SetRate(rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.freezeLocked()
	m.rate = rate

	return nil
}

func (m *SimulatedMedia) IsPlaying() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.playing
}

func (m *SimulatedMedia) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rate
}
