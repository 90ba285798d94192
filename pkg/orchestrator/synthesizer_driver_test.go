package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(tts TTSProvider, playback PlaybackController, registry *TurnRegistry, transcript *Transcript) *SynthesizerDriver {
	cfg := DefaultConfig()
	cfg.TTSMaxRetries = 2
	cfg.TTSRetryBaseDelay = time.Millisecond
	return NewSynthesizerDriver(tts, playback, nil, registry, transcript, cfg, nil, nil, nil, nil)
}

func TestSynthesizerDriver_PlaysEachSegmentAndRecordsTranscript(t *testing.T) {
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}
	playback := NewInMemoryPlaybackController()
	registry := NewTurnRegistry()
	transcript := NewTranscript()
	turn := registry.Open()

	d := newTestDriver(tts, playback, registry, transcript)
	d.Run(context.Background(), turn, "First part. [pause:0.01s] Second part.", VoiceF1, LanguageEn)

	entries := transcript.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "First part.", entries[0].Text)
	assert.Equal(t, "Second part.", entries[1].Text)
	assert.Equal(t, 2, len(playback.PlayedSegments))
}

func TestSynthesizerDriver_StopsAtNextSegmentOnceTurnGoesStale(t *testing.T) {
	tts := &MockTTSProvider{synthesizeResult: []byte{0x01}}
	playback := NewInMemoryPlaybackController()
	registry := NewTurnRegistry()
	transcript := NewTranscript()
	turn := registry.Open()

	d := newTestDriver(tts, playback, registry, transcript)

	// Invalidate the turn before Run ever checks staleness.
	registry.Open()

	d.Run(context.Background(), turn, "First. [pause:1s] Second.", VoiceF1, LanguageEn)

	assert.Empty(t, transcript.Entries())
	assert.Empty(t, playback.PlayedSegments)
}

func TestSynthesizerDriver_RetriesTTSThenSkipsSegment(t *testing.T) {
	var calls int32
	tts := &countingTTS{
		fn: func() ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			return nil, assert.AnError
		},
	}
	playback := NewInMemoryPlaybackController()
	registry := NewTurnRegistry()
	transcript := NewTranscript()
	turn := registry.Open()

	d := newTestDriver(tts, playback, registry, transcript)
	d.Run(context.Background(), turn, "Only segment, no pause token.", VoiceF1, LanguageEn)

	// TTSMaxRetries=2 means 3 total attempts (1 initial + 2 retries).
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Empty(t, playback.PlayedSegments)
}

// countingTTS is a TTSProvider whose Synthesize result is fully controlled
// by fn, used to exercise the Synthesizer Driver's retry accounting without
// depending on MockTTSProvider's fixed single-error field.
type countingTTS struct {
	fn func() ([]byte, error)
}

func (c *countingTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return c.fn()
}

func (c *countingTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	return nil
}

func (c *countingTTS) Abort() error { return nil }

func (c *countingTTS) Name() string { return "counting-tts" }
