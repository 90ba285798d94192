package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSTT returns a fixed transcription per distinct audio payload,
// so a scenario can drive several blobs through one runtime without the
// fixed single-result MockSTTProvider.
type scriptedSTT struct {
	mu      sync.Mutex
	byAudio map[string]string
}

func (s *scriptedSTT) Transcribe(ctx context.Context, audio []byte, lang Language) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byAudio[string(audio)], nil
}

func (s *scriptedSTT) Name() string { return "scripted-stt" }

// scriptedLLM replies based on the last user message, optionally blocking
// for delay (or until released) to simulate a slow Generator call.
type scriptedLLM struct {
	mu       sync.Mutex
	byPrompt map[string]string
	delay    time.Duration
	release  chan struct{}
	calls    int32
}

func (l *scriptedLLM) Complete(ctx context.Context, messages []Message) (string, error) {
	atomic.AddInt32(&l.calls, 1)
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	} else if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	last := messages[len(messages)-1].Content
	if resp, ok := l.byPrompt[last]; ok {
		return resp, nil
	}
	return "default reply", nil
}

func (l *scriptedLLM) Name() string { return "scripted-llm" }

// echoTTS synthesizes by returning the spoken text as raw bytes, so an
// InMemoryPlaybackController's PlayDuration hook can key behavior off which
// segment is being played.
type echoTTS struct{}

func (echoTTS) Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	return []byte(text), nil
}
func (echoTTS) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	return onChunk([]byte(text))
}
func (echoTTS) Abort() error { return nil }
func (echoTTS) Name() string { return "echo-tts" }

func waitForEvent(t *testing.T, events <-chan OrchestratorEvent, want EventType, timeout time.Duration) OrchestratorEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-events:
			if evt.Type == want {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func drainUntilClosed(t *testing.T, events <-chan OrchestratorEvent, timeout time.Duration) []OrchestratorEvent {
	t.Helper()
	var seen []OrchestratorEvent
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-events:
			seen = append(seen, evt)
			if evt.Type == TurnClosed {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for TurnClosed, saw %d events", len(seen))
		}
	}
}

func TestScenario_HappyPath(t *testing.T) {
	stt := &scriptedSTT{byAudio: map[string]string{"b1": "hello"}}
	llm := &scriptedLLM{byPrompt: map[string]string{"hello": "Hi there. [pause:0.05s] How are you?"}}
	playback := NewInMemoryPlaybackController()

	cfg := DefaultConfig()
	cfg.SilenceWindow = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := NewSessionRuntime(ctx, SessionRuntimeDeps{
		Session:  NewConversationSession("s1"),
		STT:      stt,
		LLM:      llm,
		TTS:      echoTTS{},
		Playback: playback,
		Config:   cfg,
	})
	defer rt.Close()

	events := rt.Events()
	rt.SubmitAudio(CapturedBlob{Audio: []byte("b1")})
	drainUntilClosed(t, events, 2*time.Second)

	entries := rt.Transcript().Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, SpeakerUser, entries[0].Speaker)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, SpeakerAgent, entries[1].Speaker)
	assert.Equal(t, "Hi there.", entries[1].Text)
	assert.Equal(t, SpeakerAgent, entries[2].Speaker)
	assert.Equal(t, "How are you?", entries[2].Text)

	assert.Equal(t, int64(1), rt.registry.Current())
	assert.False(t, playback.IsPlaying())
}

func TestScenario_WordBasedBargeIn(t *testing.T) {
	stt := &scriptedSTT{byAudio: map[string]string{
		"b1": "hello",
		"b2": "wait, actually",
	}}
	llm := &scriptedLLM{byPrompt: map[string]string{
		"hello": "Hi there. [pause:0.05s] How are you?",
	}}
	playback := NewInMemoryPlaybackController()
	playback.PlayDuration = func(audio []byte) int64 {
		if string(audio) == "How are you?" {
			return 300
		}
		return 0
	}

	cfg := DefaultConfig()
	cfg.SilenceWindow = time.Hour
	cfg.MinInterruptChars = 8

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := NewSessionRuntime(ctx, SessionRuntimeDeps{
		Session:  NewConversationSession("s2"),
		STT:      stt,
		LLM:      llm,
		TTS:      echoTTS{},
		Playback: playback,
		Config:   cfg,
	})
	defer rt.Close()

	events := rt.Events()
	rt.SubmitAudio(CapturedBlob{Audio: []byte("b1")})

	require.Eventually(t, func() bool {
		return playback.IsPlaying()
	}, time.Second, 5*time.Millisecond, "expected second segment to start playing")

	rt.SubmitAudio(CapturedBlob{Audio: []byte("b2")})

	invalidated := waitForEvent(t, events, TurnInvalidated, 2*time.Second)
	assert.NotZero(t, invalidated.TurnID)

	require.Eventually(t, func() bool {
		for _, e := range rt.Transcript().Entries() {
			if e.Speaker == SpeakerUser && e.Text == "wait, actually" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected barge-in utterance to reach the transcript")

	for _, e := range rt.Transcript().Entries() {
		if e.TurnID == invalidated.TurnID {
			assert.NotEqual(t, SpeakerAgent, e.Speaker, "a self-invalidated barge-in turn must not generate a reply")
		}
	}
}

func TestScenario_TypingProtectsSpeech(t *testing.T) {
	stt := &scriptedSTT{byAudio: map[string]string{
		"b1": "hello",
		"b2": "wait, actually",
	}}
	llm := &scriptedLLM{byPrompt: map[string]string{
		"hello":          "Hi there. [pause:0.05s] How are you?",
		"wait, actually": "Sure, go ahead.",
	}}
	playback := NewInMemoryPlaybackController()
	playback.PlayDuration = func(audio []byte) int64 {
		if string(audio) == "How are you?" {
			return 300
		}
		return 0
	}

	cfg := DefaultConfig()
	cfg.SilenceWindow = time.Hour
	cfg.MinInterruptChars = 8

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := NewSessionRuntime(ctx, SessionRuntimeDeps{
		Session:  NewConversationSession("s3"),
		STT:      stt,
		LLM:      llm,
		TTS:      echoTTS{},
		Playback: playback,
		Config:   cfg,
	})
	defer rt.Close()

	rt.SetUserTyping(true)

	events := rt.Events()
	rt.SubmitAudio(CapturedBlob{Audio: []byte("b1")})

	require.Eventually(t, func() bool {
		return playback.IsPlaying()
	}, time.Second, 5*time.Millisecond)

	rt.SubmitAudio(CapturedBlob{Audio: []byte("b2")})

	// The typing-protected blob still gets its own full exchange: no
	// TurnInvalidated is emitted for it, and it earns an agent reply.
	var sawAgentReplyToB2 bool
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case evt := <-events:
			if evt.Type == TurnInvalidated {
				t.Fatalf("typing should have suppressed barge-in invalidation")
			}
			if evt.Type == BotResponse {
				if resp, ok := evt.Data.(string); ok && resp == "Sure, go ahead." {
					sawAgentReplyToB2 = true
					break loop
				}
			}
		case <-deadline:
			break loop
		}
	}
	assert.True(t, sawAgentReplyToB2, "typing-protected utterance should still receive a generated reply")
}

func TestScenario_StaleReplyDiscarded(t *testing.T) {
	llm := &scriptedLLM{
		byPrompt: map[string]string{"first question": "stale reply"},
		release:  make(chan struct{}),
	}
	playback := NewInMemoryPlaybackController()

	cfg := DefaultConfig()
	cfg.SilenceWindow = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := NewConversationSession("s4")
	rt := NewSessionRuntime(ctx, SessionRuntimeDeps{
		Session:  session,
		STT:      &scriptedSTT{byAudio: map[string]string{}},
		LLM:      llm,
		TTS:      echoTTS{},
		Playback: playback,
		Config:   cfg,
	})
	defer rt.Close()

	rt.SubmitText("first question")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&llm.calls) >= 1
	}, time.Second, 5*time.Millisecond)

	// Bump the turn counter out from under the in-flight Generate call.
	rt.registry.Open()

	close(llm.release)
	time.Sleep(50 * time.Millisecond)

	for _, e := range rt.Transcript().Entries() {
		assert.NotEqual(t, "stale reply", e.Text)
	}
	assert.Empty(t, playback.PlayedSegments)
}

func TestScenario_KeepAliveFiresAfterSilence(t *testing.T) {
	llm := &scriptedLLM{byPrompt: map[string]string{}}
	playback := NewInMemoryPlaybackController()

	cfg := DefaultConfig()
	cfg.SilenceWindow = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := NewSessionRuntime(ctx, SessionRuntimeDeps{
		Session:  NewConversationSession("s6"),
		STT:      &scriptedSTT{byAudio: map[string]string{}},
		LLM:      llm,
		TTS:      echoTTS{},
		Playback: playback,
		Config:   cfg,
	})
	defer rt.Close()
	rt.keepAlive.Arm()

	events := rt.Events()
	opened := waitForEvent(t, events, TurnOpened, 2*time.Second)
	assert.NotZero(t, opened.TurnID)
	drainUntilClosed(t, events, 2*time.Second)

	require.Eventually(t, func() bool {
		return rt.Transcript().Len() >= 1
	}, time.Second, 5*time.Millisecond)
}
