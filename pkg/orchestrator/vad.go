package orchestrator

import (
	"math"
	"sync"
	"time"
)

// VADProvider converts a continuous microphone stream into discrete
// speech-start/speech-end signals. Device acquisition (Start/Stop) is a
// separate concern owned by pkg/audio.MicListener, which wraps a
// VADProvider; this interface is purely about signal processing so it can
// be cloned per-session and unit tested without any audio hardware.
type VADProvider interface {
	Process(chunk []byte) (*VADEvent, error)
	Reset()
	Clone() VADProvider
	Name() string

	// SuppressFor disables speech detection and new-blob emission for
	// duration; re-entrant (a later call extending further into the future
	// wins). While suppressed, frames are still consumed (Process still
	// runs) but no VADEvent is ever returned.
	SuppressFor(duration time.Duration)
	// Resume cancels any outstanding suppression immediately.
	Resume()
}

// RMSVAD is a simple Root Mean Square based Voice Activity Detector. It's
// useful as a lightweight, no-dependency default.
//
// Speech start/end uses two separate thresholds rather than one: startThreshold
// gates the transition into speech, stopThreshold (the lower of the two) gates
// the transition back out. A single shared threshold makes the detector
// chatter at the boundary — a breath or a soft consonant dips just below it
// and the segment splits in two. With a gap between the thresholds, once a
// segment is confirmed it only ends when the signal drops convincingly below
// speaking level.
type RMSVAD struct {
	mu sync.Mutex

	startThreshold float64
	stopThreshold  float64
	maxGap         time.Duration
	isSpeaking     bool
	silenceStart   time.Time

	// Hysteresis and confirmed speech detection
	consecutiveFrames int
	minConfirmed      int
	lastRMS           float64

	speechStartedAt   time.Time
	minSpeechDuration time.Duration

	suppressedUntil time.Time
}

// NewRMSVAD creates a new RMS-based VAD. startThreshold must confirm speech
// has begun; stopThreshold (normally lower, to give the detector hysteresis)
// must be undercut for maxGap continuously before a segment is considered
// over. A confirmed segment shorter than minSpeechDuration end to end is
// reported with Discard set, so callers can drop noise blips (a cough, a
// door, a mic bump) instead of treating them as an utterance.
func NewRMSVAD(startThreshold, stopThreshold float64, maxGap, minSpeechDuration time.Duration) *RMSVAD {
	return &RMSVAD{
		startThreshold:    startThreshold,
		stopThreshold:     stopThreshold,
		maxGap:            maxGap,
		minSpeechDuration: minSpeechDuration,
		minConfirmed:      7, // ~70-100ms of continuous sound to trigger snappier barge-in
	}
}

// SetMinConfirmed sets the number of consecutive frames needed to confirm speech start.
func (v *RMSVAD) SetMinConfirmed(count int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.minConfirmed = count
}

// MinConfirmed returns the number of consecutive frames required to confirm speech start.
func (v *RMSVAD) MinConfirmed() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.minConfirmed
}

// SetStartThreshold updates the RMS level that confirms speech has begun.
func (v *RMSVAD) SetStartThreshold(threshold float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.startThreshold = threshold
}

// StartThreshold returns the current speech-start RMS threshold.
func (v *RMSVAD) StartThreshold() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.startThreshold
}

// SetStopThreshold updates the RMS level below which an in-progress segment
// starts accumulating silence toward maxGap.
func (v *RMSVAD) SetStopThreshold(threshold float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopThreshold = threshold
}

// StopThreshold returns the current speech-end RMS threshold.
func (v *RMSVAD) StopThreshold() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopThreshold
}

// SetMinSpeechDuration updates the floor below which a confirmed segment is
// reported as a discardable noise blip rather than a real utterance.
func (v *RMSVAD) SetMinSpeechDuration(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.minSpeechDuration = d
}

// MinSpeechDuration returns the current noise-rejection floor.
func (v *RMSVAD) MinSpeechDuration() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.minSpeechDuration
}

// LastRMS returns the RMS of the last processed chunk.
func (v *RMSVAD) LastRMS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastRMS
}

// IsSpeaking returns true if speech is currently detected.
func (v *RMSVAD) IsSpeaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.isSpeaking
}

// SuppressFor implements the VADProvider contract; re-entrant extension only
// (a shorter suppression request never shortens an existing one).
func (v *RMSVAD) SuppressFor(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	until := time.Now().Add(d)
	if until.After(v.suppressedUntil) {
		v.suppressedUntil = until
	}
}

// Resume cancels any outstanding suppression immediately.
func (v *RMSVAD) Resume() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.suppressedUntil = time.Time{}
}

func (v *RMSVAD) suppressed() bool {
	return time.Now().Before(v.suppressedUntil)
}

func (v *RMSVAD) Process(chunk []byte) (*VADEvent, error) {
	rms := v.calculateRMS(chunk)
	now := time.Now()

	v.mu.Lock()
	v.lastRMS = rms
	suppressed := v.suppressed()

	// While already speaking, the lower stopThreshold is in force: a dip
	// between stopThreshold and startThreshold never counts as silence.
	active := v.startThreshold
	if v.isSpeaking {
		active = v.stopThreshold
	}

	if rms > active {
		v.consecutiveFrames++
		if !v.isSpeaking {
			if v.consecutiveFrames >= v.minConfirmed {
				v.isSpeaking = true
				v.speechStartedAt = now
				v.mu.Unlock()
				if suppressed {
					return nil, nil
				}
				return &VADEvent{Type: VADSpeechStart, Timestamp: now.UnixMilli()}, nil
			}
			v.mu.Unlock()
			return nil, nil
		}
		v.silenceStart = time.Time{}
		v.mu.Unlock()
		return nil, nil
	}

	v.consecutiveFrames = 0

	if v.isSpeaking {
		if v.silenceStart.IsZero() {
			v.silenceStart = now
		}
		if now.Sub(v.silenceStart) >= v.maxGap {
			v.isSpeaking = false
			duration := now.Sub(v.speechStartedAt)
			v.silenceStart = time.Time{}
			v.mu.Unlock()
			if suppressed {
				return nil, nil
			}
			return &VADEvent{Type: VADSpeechEnd, Timestamp: now.UnixMilli(), Discard: duration < v.minSpeechDuration}, nil
		}
	}
	v.mu.Unlock()

	if suppressed {
		return nil, nil
	}
	return &VADEvent{Type: VADSilence, Timestamp: now.UnixMilli()}, nil
}

func (v *RMSVAD) Name() string {
	return "rms_vad"
}

func (v *RMSVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isSpeaking = false
	v.silenceStart = time.Time{}
	v.consecutiveFrames = 0
}

func (v *RMSVAD) Clone() VADProvider {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &RMSVAD{
		startThreshold:    v.startThreshold,
		stopThreshold:     v.stopThreshold,
		maxGap:            v.maxGap,
		minConfirmed:      v.minConfirmed,
		minSpeechDuration: v.minSpeechDuration,
	}
}

func (v *RMSVAD) calculateRMS(chunk []byte) float64 {
	if len(chunk) == 0 {
		return 0
	}

	var sum float64
	// Assuming 16-bit PCM (2 bytes per sample)
	for i := 0; i < len(chunk)-1; i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}

	return math.Sqrt(sum / float64(len(chunk)/2))
}
