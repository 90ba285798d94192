package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SessionRuntime drives the turn lifecycle for one live session: it pops
// Captured Blobs off the Capture Queue, runs them through ASR, applies the
// barge-in and staleness rules, calls the Generator, and hands the reply to
// a SynthesizerDriver. The scattered per-stream speaking/thinking/
// interrupting flags a naive implementation accumulates are collapsed here
// into the single TurnRegistry counter.
type SessionRuntime struct {
	session *ConversationSession

	stt STTProvider
	llm LLMProvider
	tts TTSProvider
	vad VADProvider

	registry   *TurnRegistry
	queue      *CaptureQueue
	transcript *Transcript
	playback   PlaybackController
	driver     *SynthesizerDriver
	keepAlive  *KeepAliveScheduler
	genLimiter *rate.Limiter

	cfg    Config
	logger Logger
	tracer Tracer
	metric MetricsSink

	events chan OrchestratorEvent

	userTyping atomic.Bool
	generating atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	closeOnce sync.Once
}

// SessionRuntimeDeps groups the external collaborators a runtime needs.
// Playback is supplied by the caller (a malgo-backed device controller in
// cmd/agent, an InMemoryPlaybackController in tests).
type SessionRuntimeDeps struct {
	Session  *ConversationSession
	STT      STTProvider
	LLM      LLMProvider
	TTS      TTSProvider
	VAD      VADProvider
	Playback PlaybackController
	Config   Config
	Logger   Logger
	Tracer   Tracer
	Metrics  MetricsSink
}

// NewSessionRuntime builds a runtime and starts its main loop goroutine. The
// caller owns ctx's lifetime; cancelling it (or calling Close) stops the
// loop and releases the Capture Queue.
func NewSessionRuntime(ctx context.Context, deps SessionRuntimeDeps) *SessionRuntime {
	if deps.Logger == nil {
		deps.Logger = &NoOpLogger{}
	}
	if deps.Tracer == nil {
		deps.Tracer = NoOpTracer{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NoOpMetrics{}
	}
	if deps.STT == nil || deps.LLM == nil || deps.TTS == nil || deps.Playback == nil {
		deps.Logger.Error("session runtime missing a required collaborator", "error", ErrNilProvider)
	}

	runCtx, cancel := context.WithCancel(ctx)

	sr := &SessionRuntime{
		session:    deps.Session,
		stt:        deps.STT,
		llm:        deps.LLM,
		tts:        deps.TTS,
		vad:        deps.VAD,
		registry:   NewTurnRegistry(),
		queue:      NewCaptureQueue(deps.Config.CaptureQueueBound),
		transcript: NewTranscript(),
		playback:   deps.Playback,
		cfg:        deps.Config,
		logger:     deps.Logger,
		tracer:     deps.Tracer,
		metric:     deps.Metrics,
		events:     make(chan OrchestratorEvent, 64),
		genLimiter: rate.NewLimiter(rate.Limit(deps.Config.GeneratorRateLimit), deps.Config.GeneratorRateBurst),
		ctx:        runCtx,
		cancel:     cancel,
	}

	sr.driver = NewSynthesizerDriver(deps.TTS, deps.Playback, deps.VAD, sr.registry, sr.transcript, deps.Config, deps.Logger, deps.Metrics, sr.emit, func(turnID int64, err error) {
		sr.handleSessionExpiry(turnID, err)
	})
	sr.keepAlive = NewKeepAliveScheduler(deps.Config.SilenceWindow, sr.isIdle, sr.fireKeepAlive)

	sr.eg = &errgroup.Group{}
	sr.eg.Go(func() error {
		sr.loop()
		return nil
	})

	return sr
}

// Events exposes the session's structured event stream. It is a
// supplemental, best-effort signal for UI/telemetry consumers, never a
// control path for turn logic itself.
func (sr *SessionRuntime) Events() <-chan OrchestratorEvent {
	return sr.events
}

// Transcript returns the running transcript for this session.
func (sr *SessionRuntime) Transcript() *Transcript {
	return sr.transcript
}

// SetUserTyping records whether the user currently has unsent text in a
// composer. Text entry suppresses audio-based barge-in: a user who is
// actively typing has already signalled intent through the composer, so a
// stray transcribed fragment should not also interrupt playback.
func (sr *SessionRuntime) SetUserTyping(typing bool) {
	sr.userTyping.Store(typing)
}

// SubmitAudio enqueues one Captured Blob for processing. It never blocks:
// the Capture Queue coalesces on overflow.
func (sr *SessionRuntime) SubmitAudio(blob CapturedBlob) {
	sr.queue.Push(blob)
	sr.metric.CaptureQueueDepth(sr.queue.Len())
	sr.keepAlive.Arm()
}

// SubmitText injects a user-authored message directly, skipping ASR and
// going straight to the Generator exchange. A text submission always
// invalidates an in-flight speaking turn — typed text is unambiguous user
// intent, so there is no character-count or typing-suppression gate here as
// there is for the audio barge-in path.
func (sr *SessionRuntime) SubmitText(text string) {
	sr.eg.Go(func() error {
		sr.runTurnFromText(text, false)
		return nil
	})
	sr.keepAlive.Arm()
}

// Close stops the main loop, the keep-alive timer, and any in-flight
// playback, and releases the Capture Queue's blocked Pop.
func (sr *SessionRuntime) Close() {
	sr.closeOnce.Do(func() {
		sr.keepAlive.Stop()
		sr.cancel()
		sr.queue.Close()
		sr.playback.Stop()
		sr.eg.Wait() //nolint:errcheck // goroutines here never return a non-nil error
		close(sr.events)
	})
}

func (sr *SessionRuntime) isIdle() bool {
	return !sr.playback.IsPlaying() && !sr.generating.Load()
}

// logStale records that myTurn was found stale at one of the exchange's
// graceful stopping points. This is the one expected, routine "error" in the
// whole taxonomy — ErrInvalidated must never reach the user, only the logs.
func (sr *SessionRuntime) logStale(myTurn int64) {
	sr.logger.Debug("turn superseded", "turnID", myTurn, "error", ErrInvalidated)
}

// handleSessionExpiry checks whether err indicates a collaborator rejected
// the session's credentials and, if so, tears the whole session down.
// ErrSessionExpired is the only error that triggers this: every other
// collaborator failure closes just the one turn and leaves the session
// running for the next Captured Blob or text submission. Teardown runs on
// its own goroutine because Close blocks until every in-flight turn
// goroutine (including this one) returns.
func (sr *SessionRuntime) handleSessionExpiry(turnID int64, err error) bool {
	if !errors.Is(err, ErrSessionExpired) {
		return false
	}
	sr.logger.Error("session expired, tearing down", "turnID", turnID, "error", err)
	sr.emit(ErrorEvent, turnID, ErrSessionExpired.Error())
	go sr.Close()
	return true
}

func (sr *SessionRuntime) fireKeepAlive() {
	topic := sr.session.LastTopic()
	sr.runTurnFromText(proactiveFollowUp(topic), true)
}

// proactiveFollowUp builds the Generator-bound seed message for a keep-alive
// turn: a system-style nudge referencing the last topic, not a verbatim
// repeat of it.
func proactiveFollowUp(topic string) string {
	if strings.TrimSpace(topic) == "" {
		return "[keep-alive] The user has gone quiet. Check in briefly."
	}
	return "[keep-alive] The user has gone quiet after: \"" + topic + "\". Offer a brief, relevant follow-up."
}

// loop is the Capture Queue consumer. Each popped blob's turn attempt runs
// on its own goroutine rather than blocking the Pop loop: a reply's
// synthesis/playback can take seconds, and a later blob must still reach
// ASR and the barge-in check while that earlier turn is still speaking. The
// Turn Registry's staleness check, not serialized processing, is what keeps
// at most one turn's effects observable.
func (sr *SessionRuntime) loop() {
	for {
		blob, ok := sr.queue.Pop()
		if !ok {
			return
		}
		select {
		case <-sr.ctx.Done():
			return
		default:
		}
		sr.eg.Go(func() error {
			sr.runTurnFromAudio(blob)
			return nil
		})
	}
}

// runTurnFromAudio opens a turn, transcribes one Captured Blob, applies the
// barge-in check, and hands off to runExchange for the Generator/TTS tail.
func (sr *SessionRuntime) runTurnFromAudio(blob CapturedBlob) {
	if sr.ctx.Err() != nil {
		sr.logger.Debug("turn skipped", "error", fmt.Errorf("%w: %v", ErrContextCancelled, sr.ctx.Err()))
		return
	}

	myTurn := sr.registry.Open()
	sr.metric.TurnOpened()
	sr.emit(TurnOpened, myTurn, nil)

	stageCtx, endSpan := sr.tracer.StartStageSpan(sr.ctx, sr.session.ID, myTurn, "transcribe")
	callCtx, cancel := context.WithTimeout(stageCtx, sr.cfg.STTTimeout)
	start := time.Now()
	text, err := sr.stt.Transcribe(callCtx, blob.Audio, blob.Language)
	cancel()
	sr.metric.StageLatency("transcribe", time.Since(start))
	endSpan(err)

	if err != nil {
		if sr.handleSessionExpiry(myTurn, err) {
			return
		}
		if errors.Is(err, ErrTranscriptionFailed) {
			sr.metric.StageFailure("transcribe")
		}
		sr.logger.Warn("transcription failed", "turnID", myTurn, "error", err)
		sr.emit(ErrorEvent, myTurn, "I didn't catch that — could you say it again?")
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		// Step 3: empty transcription closes the turn silently — no barge-in,
		// no transcript entry, no generation.
		sr.logger.Debug("turn closed", "turnID", myTurn, "error", ErrEmptyTranscription)
		return
	}
	sr.emit(TranscriptFinal, myTurn, text)

	// Step 4: barge-in check. Audio-triggered interruption requires both a
	// minimum transcribed length and that the user isn't actively typing
	// (typing already signals intent through SubmitText instead).
	if sr.playback.IsPlaying() && len([]rune(text)) >= sr.cfg.MinInterruptChars && !sr.userTyping.Load() {
		sr.registry.Open()
		if sr.vad != nil {
			sr.vad.Resume()
		}
		sr.metric.TurnInvalidated()
		sr.emit(TurnInvalidated, myTurn, nil)
	}

	sr.runExchange(myTurn, text)
}

// runTurnFromText is the text-entry variant of runTurnFromAudio: ASR is
// skipped and any active playback is unconditionally invalidated.
func (sr *SessionRuntime) runTurnFromText(text string, proactive bool) {
	if sr.ctx.Err() != nil {
		sr.logger.Debug("turn skipped", "error", fmt.Errorf("%w: %v", ErrContextCancelled, sr.ctx.Err()))
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	myTurn := sr.registry.Open()
	sr.metric.TurnOpened()
	sr.emit(TurnOpened, myTurn, nil)

	if sr.playback.IsPlaying() {
		sr.registry.Open()
		if sr.vad != nil {
			sr.vad.Resume()
		}
		sr.metric.TurnInvalidated()
		sr.emit(TurnInvalidated, myTurn, nil)
	}

	if !proactive {
		sr.emit(TranscriptFinal, myTurn, text)
	}

	sr.runExchange(myTurn, text)
}

// runExchange is the shared tail shared by both entry points: transcript
// append, Generator call, and hand-off to the Synthesizer Driver. myTurn may
// already be stale on entry (a barge-in blob that invalidated itself, or a
// second barge-in arriving back to back); that case is recorded in the
// transcript and returns without generating a reply.
func (sr *SessionRuntime) runExchange(myTurn int64, userText string) {
	if sr.registry.IsStale(myTurn) {
		sr.logStale(myTurn)
		sr.transcript.Append(TranscriptEntry{Speaker: SpeakerUser, Text: userText, TurnID: myTurn})
		return
	}

	sr.transcript.Append(TranscriptEntry{Speaker: SpeakerUser, Text: userText, TurnID: myTurn})
	sr.session.AddMessage("user", userText)

	// Graceful stopping point (i): before the Generator call.
	if sr.registry.IsStale(myTurn) {
		sr.logStale(myTurn)
		return
	}

	sr.generating.Store(true)
	sr.emit(BotThinking, myTurn, nil)

	stageCtx, endSpan := sr.tracer.StartStageSpan(sr.ctx, sr.session.ID, myTurn, "generate")
	callCtx, cancel := context.WithTimeout(stageCtx, sr.cfg.LLMTimeout)

	if err := sr.genLimiter.Wait(callCtx); err != nil {
		cancel()
		sr.generating.Store(false)
		endSpan(err)
		sr.logger.Warn("generator rate limit wait aborted", "turnID", myTurn, "error", err)
		sr.emit(ErrorEvent, myTurn, "I didn't catch that — could you say it again?")
		return
	}

	start := time.Now()
	reply, err := sr.llm.Complete(callCtx, sr.session.GetContextCopy())
	cancel()
	sr.metric.StageLatency("generate", time.Since(start))
	endSpan(err)
	sr.generating.Store(false)

	if err != nil {
		if sr.handleSessionExpiry(myTurn, err) {
			return
		}
		if errors.Is(err, ErrGenerationFailed) {
			sr.metric.StageFailure("generate")
		}
		sr.logger.Warn("generation failed", "turnID", myTurn, "error", err)
		sr.emit(ErrorEvent, myTurn, "I didn't catch that — could you say it again?")
		return
	}

	// Graceful stopping point (ii): after the Generator call, before
	// committing the reply or dispatching synthesis.
	if sr.registry.IsStale(myTurn) {
		sr.logStale(myTurn)
		sr.emit(TurnInvalidated, myTurn, nil)
		return
	}

	sr.session.AddMessage("assistant", reply)
	sr.emit(BotResponse, myTurn, reply)

	sr.driver.Run(sr.ctx, myTurn, reply, sr.session.GetCurrentVoice(), sr.session.GetCurrentLanguage())

	if sr.registry.IsStale(myTurn) {
		sr.logStale(myTurn)
		sr.emit(TurnInvalidated, myTurn, nil)
		return
	}

	sr.metric.TurnClosed()
	sr.emit(TurnClosed, myTurn, nil)
	sr.keepAlive.Arm()
}

func (sr *SessionRuntime) emit(t EventType, turnID int64, data interface{}) {
	evt := OrchestratorEvent{Type: t, SessionID: sr.session.ID, TurnID: turnID, Data: data}
	select {
	case sr.events <- evt:
	default:
		// Event stream is best-effort telemetry, never a backpressure path
		// for the turn loop itself; drop under a slow/absent consumer.
		sr.logger.Debug("event stream full, dropping event", "type", t)
	}
}
