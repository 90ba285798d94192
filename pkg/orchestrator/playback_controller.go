package orchestrator

import (
	"sync"
	"time"
)

// PlaybackController owns the audio output device for one segment at a
// time. Implementations must guarantee that no two segments ever overlap
// and that onDone fires exactly once per accepted Play.
type PlaybackController interface {
	// Play begins playback of audio for turnID and returns immediately.
	// onDone fires exactly once, either on natural completion or on a
	// subsequent Stop(). turnID lets an implementation tie device-level
	// state (e.g. an echo-suppression reference buffer) to the turn whose
	// segment is currently playing, so a barge-in that starts a new turn
	// can't have stale audio from the old one bleed into it.
	Play(turnID int64, audio []byte, onDone func()) error
	// Stop halts playback and resets the output device. Idempotent.
	Stop()
	// IsPlaying reports whether a segment is currently playing.
	IsPlaying() bool
}

// InMemoryPlaybackController is a PlaybackController fake used by tests and
// by any host that has no physical audio device. It "plays" a buffer by
// invoking onDone as soon as the driving goroutine is scheduled (or, if a
// PlayDuration function is set, after the delay it returns for the audio
// payload), which is enough to exercise P1/P2 without real hardware.
type InMemoryPlaybackController struct {
	mu      sync.Mutex
	playing bool
	stopCh  chan struct{}

	// PlayDuration, if set, computes how long a simulated Play should take
	// before firing onDone. Defaults to returning 0 (fires on the next
	// scheduler tick).
	PlayDuration func(audio []byte) int64 // milliseconds

	// Recorded for test assertions.
	PlayedSegments [][]byte
	PlayedTurnIDs  []int64
}

// NewInMemoryPlaybackController returns a ready-to-use fake controller.
func NewInMemoryPlaybackController() *InMemoryPlaybackController {
	return &InMemoryPlaybackController{}
}

func (p *InMemoryPlaybackController) Play(turnID int64, audio []byte, onDone func()) error {
	p.mu.Lock()
	if p.playing {
		p.mu.Unlock()
		p.Stop()
		p.mu.Lock()
	}
	p.playing = true
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.PlayedSegments = append(p.PlayedSegments, audio)
	p.PlayedTurnIDs = append(p.PlayedTurnIDs, turnID)
	p.mu.Unlock()

	var once sync.Once
	fire := func() {
		once.Do(func() {
			p.mu.Lock()
			if p.stopCh == stopCh {
				p.playing = false
				p.stopCh = nil
			}
			p.mu.Unlock()
			if onDone != nil {
				onDone()
			}
		})
	}

	go func() {
		delayMS := int64(0)
		if p.PlayDuration != nil {
			delayMS = p.PlayDuration(audio)
		}
		if delayMS <= 0 {
			select {
			case <-stopCh:
			default:
			}
			fire()
			return
		}
		select {
		case <-time.After(time.Duration(delayMS) * time.Millisecond):
			fire()
		case <-stopCh:
			fire()
		}
	}()

	return nil
}

func (p *InMemoryPlaybackController) Stop() {
	p.mu.Lock()
	stopCh := p.stopCh
	p.mu.Unlock()
	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
}

func (p *InMemoryPlaybackController) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
