package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SynthesizerDriver converts one agent reply string into sequentially
// played audio and matching transcript entries. It is handed a turn id and
// owns per-segment synthesis scheduling exclusively for that turn; it never
// opens or closes turns itself.
type SynthesizerDriver struct {
	tts            TTSProvider
	playback       PlaybackController
	vad            VADProvider
	registry       *TurnRegistry
	transcript     *Transcript
	cfg            Config
	logger         Logger
	metric         MetricsSink
	emit           func(EventType, int64, interface{})
	sessionExpired func(turnID int64, err error)
}

// NewSynthesizerDriver wires the driver's collaborators. emit publishes
// structured events to the session's event stream; it may be nil, as may
// metric. sessionExpired is invoked whenever a TTS call reports
// ErrSessionExpired; it may be nil, in which case the driver just logs and
// skips the affected segment.
func NewSynthesizerDriver(tts TTSProvider, playback PlaybackController, vad VADProvider, registry *TurnRegistry, transcript *Transcript, cfg Config, logger Logger, metric MetricsSink, emit func(EventType, int64, interface{}), sessionExpired func(turnID int64, err error)) *SynthesizerDriver {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metric == nil {
		metric = NoOpMetrics{}
	}
	if emit == nil {
		emit = func(EventType, int64, interface{}) {}
	}
	if sessionExpired == nil {
		sessionExpired = func(int64, error) {}
	}
	return &SynthesizerDriver{
		tts:            tts,
		playback:       playback,
		vad:            vad,
		registry:       registry,
		transcript:     transcript,
		cfg:            cfg,
		logger:         logger,
		metric:         metric,
		emit:           emit,
		sessionExpired: sessionExpired,
	}
}

// Run executes the segment loop for reply under turnID: suppress the VAD
// for the estimated playback duration, then synthesize and play each
// segment in order, honoring pause tokens between them. It blocks until the
// loop exits, normally or via staleness.
func (d *SynthesizerDriver) Run(ctx context.Context, turnID int64, reply string, voice Voice, lang Language) {
	segments := SplitSegments(reply)

	if d.vad != nil {
		budget := estimateDurationBudget(segments) + d.cfg.PauseMargin
		d.vad.SuppressFor(budget)
	}

	defer func() {
		if d.vad != nil {
			d.vad.Resume()
		}
	}()

	for i, seg := range segments {
		if d.registry.IsStale(turnID) {
			break
		}

		if seg.IsPauseOnly() {
			if !d.sleepInterruptible(ctx, turnID, pauseDuration(segments, i)) {
				break
			}
			if d.registry.IsStale(turnID) {
				break
			}
			continue
		}

		d.transcript.Append(TranscriptEntry{
			Speaker:      SpeakerAgent,
			Text:         seg.Text,
			TurnID:       turnID,
			SegmentIndex: seg.Index,
		})

		audio, err := d.synthesizeWithRetry(ctx, seg.Text, voice, lang)
		if err != nil {
			if errors.Is(err, ErrSessionExpired) {
				d.sessionExpired(turnID, err)
				return
			}
			d.metric.StageFailure("synthesize")
			d.logger.Warn("segment synthesis failed after retries, skipping", "turnID", turnID, "segment", seg.Index, "error", err)
			d.emit(ErrorEvent, turnID, "I didn't catch that — could you say it again?")
			continue
		}

		if err := d.playAndWait(turnID, audio); err != nil {
			d.metric.StageFailure("play")
			d.logger.Warn("segment playback failed, skipping", "turnID", turnID, "segment", seg.Index, "error", err)
		}

		if seg.PauseAfter > 0 {
			var nextText string
			if i+1 < len(segments) {
				nextText = segments[i+1].Text
			}
			pause := AdjustPause(seg.PauseAfter, seg.Text, nextText)
			if !d.sleepInterruptible(ctx, turnID, time.Duration(pause*float64(time.Second))) {
				break
			}
		}

		if d.registry.IsStale(turnID) {
			break
		}
	}
}

// pauseDuration returns the context-adjusted pause for the pause-only
// segment at index i, using the previous and next spoken segments as
// context for AdjustPause.
func pauseDuration(segments []Segment, i int) time.Duration {
	var prevText, nextText string
	if i > 0 {
		prevText = segments[i-1].Text
	}
	if i+1 < len(segments) {
		nextText = segments[i+1].Text
	}
	adjusted := AdjustPause(segments[i].PauseAfter, prevText, nextText)
	return time.Duration(adjusted * float64(time.Second))
}

// estimateDurationBudget estimates total playback time from segment text
// length and declared pause durations, used to pick the VAD suppression
// window. The text-length estimate uses a generous speaking rate so the
// suppression window errs on the side of staying open too long rather than
// re-enabling the mic mid-sentence.
func estimateDurationBudget(segments []Segment) time.Duration {
	const runesPerSecond = 15.0 // conservative speaking rate
	var total time.Duration
	for _, seg := range segments {
		runes := len([]rune(seg.Text))
		total += time.Duration(float64(runes)/runesPerSecond*float64(time.Second))
		total += time.Duration(seg.PauseAfter * float64(time.Second))
	}
	return total
}

// sleepInterruptible sleeps for d, re-checking IsStale on wake and waking
// early if the turn goes stale mid-sleep or ctx is cancelled — a graceful
// stopping point between segments. Returns false if the sleep was cut short
// by staleness or cancellation.
func (d *SynthesizerDriver) sleepInterruptible(ctx context.Context, turnID int64, dur time.Duration) bool {
	if dur <= 0 {
		return !d.registry.IsStale(turnID)
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(dur)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if d.registry.IsStale(turnID) {
				return false
			}
			if time.Now().After(deadline) {
				return true
			}
		}
	}
}

// synthesizeWithRetry requests synthesis with bounded exponential backoff.
// ASR and the Generator get a single attempt each; only TTS retries, and
// only here. A final failure is wrapped in ErrSynthesisFailed unless the
// provider already reported something more specific (ErrSessionExpired).
func (d *SynthesizerDriver) synthesizeWithRetry(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error) {
	spoken := StripPauseTokens(text)

	attempt := 0
	op := func() ([]byte, error) {
		if attempt > 0 {
			d.metric.TTSRetry()
		}
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.TTSTimeout)
		defer cancel()
		audio, err := d.tts.Synthesize(callCtx, spoken, voice, lang)
		if err != nil {
			return nil, err
		}
		return audio, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.TTSRetryBaseDelay

	audio, err := backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(d.cfg.TTSMaxRetries+1)),
		backoff.WithBackOff(bo),
	)
	if err != nil && !errors.Is(err, ErrSessionExpired) && !errors.Is(err, ErrSynthesisFailed) {
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}
	return audio, err
}

// playAndWait passes audio to the Playback Controller and blocks until
// onDone fires. It does not itself re-check staleness before returning;
// callers do that at the next loop iteration.
func (d *SynthesizerDriver) playAndWait(turnID int64, audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	var wg sync.WaitGroup
	wg.Add(1)
	d.emit(BotSpeaking, turnID, nil)
	err := d.playback.Play(turnID, audio, func() {
		wg.Done()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPlaybackFailed, err)
	}
	wg.Wait()
	return nil
}
