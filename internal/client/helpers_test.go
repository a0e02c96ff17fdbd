package client

import (
	"errors"
	"sync"

	"github.com/sharetube/playsync/internal/protocol"
)

type fakeMedia struct {
	mu           sync.Mutex
	position     float64
	seeks        []float64
	playingCalls []bool
	rateCalls    []float64
	err          error
}

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *fakeMedia) Seek(position float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, position)
	m.position = position
	return m.err
}

func (m *fakeMedia) SetPlaying(playing bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playingCalls = append(m.playingCalls, playing)
	return m.err
}

func (m *fakeMedia) SetRate(rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateCalls = append(m.rateCalls, rate)
	return m.err
}

func (m *fakeMedia) calls() (seeks []float64, playing []bool, rates []float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.seeks...),
		append([]bool(nil), m.playingCalls...),
		append([]float64(nil), m.rateCalls...)
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []protocol.RoomState
	attempts int
	err      error
}

func (s *fakeSender) SendState(state protocol.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, state)
	return nil
}

func (s *fakeSender) getAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeSender) getSent() []protocol.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.RoomState(nil), s.sent...)
}

var errMedia = errors.New("media unavailable")

func protocolStateFixture() protocol.RoomState {
	return protocol.NewRoomState("R")
}
