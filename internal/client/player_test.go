package client

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayer_ApplyIssuesOnlyChanges(t *testing.T) {
	media := &fakeMedia{}
	p := NewPlayer(media, slog.Default())

	require.NoError(t, p.Apply(Correction{Seek: false, IsPlaying: false, PlaybackRate: 1}))
	seeks, playing, rates := media.calls()
	assert.Empty(t, seeks)
	assert.Empty(t, playing)
	assert.Empty(t, rates)

	require.NoError(t, p.Apply(Correction{Seek: true, Position: 30, IsPlaying: true, PlaybackRate: 2}))
	require.NoError(t, p.Apply(Correction{Seek: false, Position: 31, IsPlaying: true, PlaybackRate: 2}))

	seeks, playing, rates = media.calls()
	assert.Equal(t, []float64{30}, seeks)
	assert.Equal(t, []bool{true}, playing)
	assert.Equal(t, []float64{2}, rates)
}

func TestPlayer_ApplyJoinsErrors(t *testing.T) {
	media := &fakeMedia{err: errMedia}
	p := NewPlayer(media, slog.Default())

	err := p.Apply(Correction{Seek: true, Position: 5, IsPlaying: true, PlaybackRate: 1.5})

	require.Error(t, err)
	assert.ErrorIs(t, err, errMedia)
	assert.Contains(t, err.Error(), "seek")
	assert.Contains(t, err.Error(), "set rate")
	assert.Contains(t, err.Error(), "set playing")
}

func TestPlayer_HandleEventSuppressesCorrectionEchoes(t *testing.T) {
	p := NewPlayer(&fakeMedia{}, slog.Default())

	require.NoError(t, p.Apply(Correction{Seek: true, Position: 50, IsPlaying: true, PlaybackRate: 1.5}))

	tests := []struct {
		name   string
		event  Event
		wantOk bool
	}{
		{name: "seek echo", event: Event{Kind: EventSeek, Position: 50.1}, wantOk: false},
		{name: "play echo", event: Event{Kind: EventPlay, Position: 50.1}, wantOk: false},
		{name: "rate echo", event: Event{Kind: EventRateChange, Position: 50.1, Rate: 1.5}, wantOk: false},
		{name: "time update", event: Event{Kind: EventTimeUpdate, Position: 51}, wantOk: true},
		{name: "user seek", event: Event{Kind: EventSeek, Position: 50.1}, wantOk: true},
		{name: "user pause", event: Event{Kind: EventPause, Position: 52}, wantOk: true},
		{name: "repeated pause", event: Event{Kind: EventPause, Position: 52}, wantOk: false},
		{name: "user rate", event: Event{Kind: EventRateChange, Position: 52, Rate: 1}, wantOk: true},
		{name: "unknown", event: Event{Kind: "volumechange"}, wantOk: false},
	}

	// cases run in order; each one depends on the expectations left by the previous
	for _, tt := range tests {
		ev, ok := p.HandleEvent(tt.event)
		assert.Equal(t, tt.wantOk, ok, tt.name)
		if ok {
			assert.Equal(t, tt.event, ev, tt.name)
		}
	}
}

func TestPlayer_SeekEchoOutsideToleranceIsUserSeek(t *testing.T) {
	p := NewPlayer(&fakeMedia{}, slog.Default())
	require.NoError(t, p.Apply(Correction{Seek: true, Position: 50, PlaybackRate: 1}))

	_, ok := p.HandleEvent(Event{Kind: EventSeek, Position: 80})
	assert.True(t, ok)

	// the expectation is consumed either way
	_, ok = p.HandleEvent(Event{Kind: EventSeek, Position: 50})
	assert.True(t, ok)
}

func TestEvent_ApplyTo(t *testing.T) {
	s := protocolStateFixture()

	Event{Kind: EventPlay, Position: 3}.applyTo(&s)
	assert.True(t, s.IsPlaying)
	assert.Equal(t, 3.0, s.CurrentTime)

	Event{Kind: EventRateChange, Position: 4, Rate: 0}.applyTo(&s)
	assert.Equal(t, 1.0, s.PlaybackRate, "non positive rates are ignored")

	Event{Kind: EventRateChange, Position: 4, Rate: 2}.applyTo(&s)
	assert.Equal(t, 2.0, s.PlaybackRate)

	Event{Kind: EventPause, Position: 5}.applyTo(&s)
	assert.False(t, s.IsPlaying)
	assert.Equal(t, 5.0, s.CurrentTime)
}
