package orchestrator

import (
	"context"
	"sync"
)

// Orchestrator bundles the four external collaborators (ASR/Generator/TTS/
// VAD) and the shared Config, and acts as the composition root's factory for
// sessions and SessionRuntimes. It does not run a turn pipeline itself —
// that responsibility belongs to SessionRuntime, so that per-session state
// (Turn Registry, Capture Queue, transcript) stays scoped to one session
// instead of being smeared across a single shared struct.
type Orchestrator struct {
	stt    STTProvider
	llm    LLMProvider
	tts    TTSProvider
	vad    VADProvider
	config Config
	logger Logger
	mu     sync.RWMutex
}

func New(stt STTProvider, llm LLMProvider, tts TTSProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, nil, config, &NoOpLogger{})
}

func NewWithVAD(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config) *Orchestrator {
	return NewWithLogger(stt, llm, tts, vad, config, &NoOpLogger{})
}

func NewWithLogger(stt STTProvider, llm LLMProvider, tts TTSProvider, vad VADProvider, config Config, logger Logger) *Orchestrator {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Orchestrator{
		stt:    stt,
		llm:    llm,
		tts:    tts,
		vad:    vad,
		config: config,
		logger: logger,
	}
}

// NewSessionRuntime builds a SessionRuntime wired to this Orchestrator's
// providers, VAD, and config, for the given session and Playback Controller.
// tracer and metrics may be nil (they default to no-ops).
func (o *Orchestrator) NewSessionRuntime(ctx context.Context, session *ConversationSession, playback PlaybackController, tracer Tracer, metrics MetricsSink) *SessionRuntime {
	o.mu.RLock()
	cfg := o.config
	o.mu.RUnlock()

	var vad VADProvider
	if o.vad != nil {
		vad = o.vad.Clone()
	}

	return NewSessionRuntime(ctx, SessionRuntimeDeps{
		Session:  session,
		STT:      o.stt,
		LLM:      o.llm,
		TTS:      o.tts,
		VAD:      vad,
		Playback: playback,
		Config:   cfg,
		Logger:   o.logger,
		Tracer:   tracer,
		Metrics:  metrics,
	})
}

func (o *Orchestrator) UpdateConfig(cfg Config) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.config = cfg
}

func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

func (o *Orchestrator) GetProviders() map[string]string {
	return map[string]string{
		"stt": o.stt.Name(),
		"llm": o.llm.Name(),
		"tts": o.tts.Name(),
	}
}

func (o *Orchestrator) NewSessionWithDefaults(userID string) *ConversationSession {
	session := NewConversationSession(userID)
	session.MaxMessages = o.config.MaxContextMessages
	session.CurrentVoice = o.config.VoiceStyle
	session.CurrentLanguage = o.config.Language
	return session
}

func (o *Orchestrator) SetSystemPrompt(session *ConversationSession, prompt string) {
	session.AddMessage("system", prompt)
}

func (o *Orchestrator) SetVoice(session *ConversationSession, voice Voice) {
	session.CurrentVoice = voice
}

func (o *Orchestrator) SetLanguage(session *ConversationSession, lang Language) {
	session.CurrentLanguage = lang
}

func (o *Orchestrator) ResetSession(session *ConversationSession) {
	session.ClearContext()
}
