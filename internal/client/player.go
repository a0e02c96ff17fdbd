package client

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/sharetube/playsync/internal/protocol"
)

// MediaElement is the decoder/renderer the client drives. Implementations
// report their own state changes back through Client.HandleMediaEvent.
type MediaElement interface {
	CurrentTime() float64
	Seek(position float64) error
	SetPlaying(playing bool) error
	SetRate(rate float64) error
}

type EventKind string

const (
	EventPlay       EventKind = "play"
	EventPause      EventKind = "pause"
	EventSeek       EventKind = "seek"
	EventRateChange EventKind = "ratechange"
	EventTimeUpdate EventKind = "timeupdate"
)

func (k EventKind) hard() bool {
	switch k {
	case EventPlay, EventPause, EventSeek, EventRateChange:
		return true
	}
	return false
}

// Event is a local playback event. Position is the media time when it fired.
type Event struct {
	Kind     EventKind
	Position float64
	Rate     float64
}

func (ev Event) applyTo(s *protocol.RoomState) {
	s.CurrentTime = ev.Position
	switch ev.Kind {
	case EventPlay:
		s.IsPlaying = true
	case EventPause:
		s.IsPlaying = false
	case EventRateChange:
		if ev.Rate > 0 {
			s.PlaybackRate = ev.Rate
		}
	}
}

const seekEchoTolerance = 0.25

// Player drives the media element and filters out the events the element
// raises in response to our own corrections.
type Player struct {
	mu      sync.Mutex
	media   MediaElement
	playing bool
	rate    float64

	expectSeek    *float64
	expectPlaying *bool
	expectRate    *float64

	logger *slog.Logger
}

func NewPlayer(media MediaElement, logger *slog.Logger) *Player {
	return &Player{
		media:  media,
		rate:   protocol.DefaultPlaybackRate,
		logger: logger,
	}
}

func (p *Player) CurrentTime() float64 {
	return p.media.CurrentTime()
}

// Apply issues only the operations that change something. Media calls are
// made without holding the lock since elements may report events inline.
func (p *Player) Apply(c Correction) error {
	p.mu.Lock()
	setPlaying := c.IsPlaying != p.playing
	setRate := c.PlaybackRate > 0 && c.PlaybackRate != p.rate

	if c.Seek {
		position := c.Position
		p.expectSeek = &position
	}
	if setPlaying {
		playing := c.IsPlaying
		p.expectPlaying = &playing
		p.playing = playing
	}
	if setRate {
		rate := c.PlaybackRate
		p.expectRate = &rate
		p.rate = rate
	}
	p.mu.Unlock()

	var errs []error
	if c.Seek {
		if err := p.media.Seek(c.Position); err != nil {
			errs = append(errs, fmt.Errorf("seek: %w", err))
		}
	}
	if setRate {
		if err := p.media.SetRate(c.PlaybackRate); err != nil {
			errs = append(errs, fmt.Errorf("set rate: %w", err))
		}
	}
	if setPlaying {
		if err := p.media.SetPlaying(c.IsPlaying); err != nil {
			errs = append(errs, fmt.Errorf("set playing: %w", err))
		}
	}

	return errors.Join(errs...)
}

// HandleEvent turns a raw media event into an emitter event. It reports
// false for events that echo a correction we issued.
func (p *Player) HandleEvent(ev Event) (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case EventPlay, EventPause:
		playing := ev.Kind == EventPlay
		if p.expectPlaying != nil && *p.expectPlaying == playing {
			p.expectPlaying = nil
			return Event{}, false
		}
		p.expectPlaying = nil
		if playing == p.playing {
			return Event{}, false
		}
		p.playing = playing
	case EventSeek:
		if p.expectSeek != nil && math.Abs(*p.expectSeek-ev.Position) <= seekEchoTolerance {
			p.expectSeek = nil
			return Event{}, false
		}
		p.expectSeek = nil
	case EventRateChange:
		if p.expectRate != nil && *p.expectRate == ev.Rate {
			p.expectRate = nil
			return Event{}, false
		}
		p.expectRate = nil
		if ev.Rate <= 0 || ev.Rate == p.rate {
			return Event{}, false
		}
		p.rate = ev.Rate
	case EventTimeUpdate:
	default:
		p.logger.Debug("ignoring media event", "kind", ev.Kind)
		return Event{}, false
	}

	return ev, true
}
