package orchestrator

import (
	"context"
	"sync"
	"time"
)

// Logger is the structured logging interface every component logs through.
// Production builds back it with zap (pkg/telemetry); tests use NoOpLogger.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything; used as the default when no Logger is supplied.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// STTProvider transcribes one Captured Blob in a single blocking call.
// There is no streaming variant: the Capture Queue already decouples
// real-time capture from ASR latency, so a second streaming path would
// duplicate that decoupling.
type STTProvider interface {
	Transcribe(ctx context.Context, audio []byte, lang Language) (string, error)
	Name() string
}

// LLMProvider is the Generator Service collaborator.
type LLMProvider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	Name() string
}

// TTSProvider is the TTS Service collaborator. Abort tears down a
// provider's streaming connection; the Synthesizer Driver does not call it,
// so a TTS call already in progress when its turn goes stale runs to
// completion and the driver stops at the next segment boundary.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Abort() error
	Name() string
}

// VADEventType enumerates the signals a VADProvider can emit.
type VADEventType string

const (
	VADSpeechStart VADEventType = "SPEECH_START"
	VADSpeechEnd   VADEventType = "SPEECH_END"
	VADSilence     VADEventType = "SILENCE"
)

// VADEvent is one signal emitted by a VADProvider.Process call. Discard is
// only meaningful on a VADSpeechEnd: it marks a confirmed segment that ran
// shorter than the detector's minimum speech duration, so the caller should
// drop the buffered audio as a noise blip rather than emit a Captured Blob.
type VADEvent struct {
	Type      VADEventType
	Timestamp int64
	Discard   bool
}

// EventType enumerates the structured, turn-scoped events published on a
// session's event stream: a supplemental signal for UI/telemetry
// consumers, replacing ad hoc console logging.
type EventType string

const (
	UserSpeaking      EventType = "USER_SPEAKING"
	UserStopped       EventType = "USER_STOPPED"
	TranscriptPartial EventType = "TRANSCRIPT_PARTIAL"
	TranscriptFinal   EventType = "TRANSCRIPT_FINAL"
	BotThinking       EventType = "BOT_THINKING"
	BotResponse       EventType = "BOT_RESPONSE"
	BotSpeaking       EventType = "BOT_SPEAKING"
	Interrupted       EventType = "INTERRUPTED"
	AudioChunk        EventType = "AUDIO_CHUNK"
	ErrorEvent        EventType = "ERROR"
	TurnOpened        EventType = "TURN_OPENED"
	TurnClosed        EventType = "TURN_CLOSED"
	TurnInvalidated   EventType = "TURN_INVALIDATED"
)

// OrchestratorEvent is one entry on a session's event stream.
type OrchestratorEvent struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Voice identifies a TTS voice/persona reference.
type Voice string

const (
	VoiceF1 Voice = "F1"
	VoiceF2 Voice = "F2"
	VoiceF3 Voice = "F3"
	VoiceF4 Voice = "F4"
	VoiceF5 Voice = "F5"
	VoiceM1 Voice = "M1"
	VoiceM2 Voice = "M2"
	VoiceM3 Voice = "M3"
	VoiceM4 Voice = "M4"
	VoiceM5 Voice = "M5"
)

// Language identifies the spoken language used for ASR/TTS/Generator calls.
type Language string

const (
	LanguageEn Language = "en"
	LanguageEs Language = "es"
	LanguageFr Language = "fr"
	LanguageDe Language = "de"
	LanguageIt Language = "it"
	LanguagePt Language = "pt"
	LanguageJa Language = "ja"
	LanguageZh Language = "zh"
)

// Message is one entry of the context bag passed to the Generator Service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds every runtime tunable: audio format, timeouts, the barge-in
// threshold, the Capture Queue bound, the Keep-Alive silence window and the
// TTS retry policy. Concrete values load from YAML (see config.go) with
// this struct's zero-safe defaults as the floor.
type Config struct {
	SampleRate         int
	Channels           int
	BytesPerSamp       int
	MaxContextMessages int
	VoiceStyle         Voice
	Language           Language

	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	// MinInterruptChars is the minimum transcribed character count during
	// active playback that triggers barge-in.
	MinInterruptChars int
	// MinWordsToInterrupt is loaded from YAML and carried here, but the
	// barge-in check does not read it: only MinInterruptChars gates
	// barge-in.
	MinWordsToInterrupt int

	// CaptureQueueBound is N in the Capture Queue's coalesce policy.
	CaptureQueueBound int

	// SilenceWindow is the Keep-Alive Scheduler's idle threshold.
	SilenceWindow time.Duration

	// TTSMaxRetries and TTSRetryBaseDelay parameterize the Synthesizer
	// Driver's bounded exponential-backoff TTS retry.
	TTSMaxRetries     int
	TTSRetryBaseDelay time.Duration

	// PauseMargin is added to the Synthesizer Driver's estimated playback
	// duration budget before it calls VAD.SuppressFor.
	PauseMargin time.Duration

	// VADStartThreshold and VADStopThreshold are the RMS levels that confirm
	// speech has begun and, once speaking, that a drop counts toward silence.
	// StopThreshold is normally the lower of the two, giving the detector
	// hysteresis against breaths and soft consonants near the boundary.
	VADStartThreshold float64
	VADStopThreshold  float64

	// VADMaxGap is how long a continuous sub-stopThreshold stretch has to
	// run before a speech segment is considered over.
	VADMaxGap time.Duration

	// VADMinSpeechDuration discards a confirmed segment shorter than this as
	// a noise blip rather than treating it as an utterance.
	VADMinSpeechDuration time.Duration

	// GeneratorRateLimit and GeneratorRateBurst bound how often SessionRuntime
	// calls the Generator Service per second, independent of the provider's
	// own HTTP-level rate limiting (keep-alive turns and rapid back-to-back
	// barge-ins can otherwise both be holding replies in flight at once).
	GeneratorRateLimit float64
	GeneratorRateBurst int
}

// DefaultConfig returns sensible defaults for every tunable above.
func DefaultConfig() Config {
	return Config{
		SampleRate:         44100,
		Channels:           1,
		BytesPerSamp:       2,
		MaxContextMessages: 20,
		VoiceStyle:         VoiceF1,
		Language:           LanguageEn,

		STTTimeout: 30 * time.Second,
		LLMTimeout: 60 * time.Second,
		TTSTimeout: 30 * time.Second,

		MinInterruptChars:   8,
		MinWordsToInterrupt: 1,
		CaptureQueueBound:   2,
		SilenceWindow:       30 * time.Second,

		TTSMaxRetries:     2,
		TTSRetryBaseDelay: 200 * time.Millisecond,

		PauseMargin: 300 * time.Millisecond,

		VADStartThreshold:    0.02,
		VADStopThreshold:     0.012,
		VADMaxGap:            800 * time.Millisecond,
		VADMinSpeechDuration: 150 * time.Millisecond,

		GeneratorRateLimit: 2,
		GeneratorRateBurst: 2,
	}
}

// ConversationSession holds the LLM context window and active voice/language
// for one session. It is independent of turn/playback state, which lives in
// SessionRuntime (session_runtime.go).
type ConversationSession struct {
	mu              sync.RWMutex
	ID              string
	Context         []Message
	LastUser        string
	LastAssistant   string
	MaxMessages     int
	CurrentVoice    Voice
	CurrentLanguage Language
}

// NewConversationSession creates a session context keyed by id (typically a
// UUID minted by the composition root).
func NewConversationSession(id string) *ConversationSession {
	return &ConversationSession{
		ID:              id,
		Context:         []Message{},
		MaxMessages:     20,
		CurrentVoice:    VoiceF1,
		CurrentLanguage: LanguageEn,
	}
}

func (s *ConversationSession) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context = append(s.Context, Message{Role: role, Content: content})
	if len(s.Context) > s.MaxMessages {
		s.Context = s.Context[len(s.Context)-s.MaxMessages:]
	}
	if role == "user" {
		s.LastUser = content
	} else if role == "assistant" {
		s.LastAssistant = content
	}
}

func (s *ConversationSession) ClearContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Context = []Message{}
	s.LastUser = ""
	s.LastAssistant = ""
}

func (s *ConversationSession) GetContextCopy() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contextCopy := make([]Message, len(s.Context))
	copy(contextCopy, s.Context)
	return contextCopy
}

func (s *ConversationSession) GetCurrentVoice() Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentVoice
}

func (s *ConversationSession) GetCurrentLanguage() Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.CurrentLanguage
}

func (s *ConversationSession) LastTopic() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.LastAssistant != "" {
		return s.LastAssistant
	}
	return s.LastUser
}
