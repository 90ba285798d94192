package orchestrator

import "errors"

// Sentinel errors forming the error taxonomy of the runtime. Callers branch
// on these with errors.Is/errors.As, never by matching message text.
var (
	ErrEmptyTranscription = errors.New("transcription returned empty text")

	ErrTranscriptionFailed = errors.New("speech-to-text transcription failed")

	ErrNilProvider = errors.New("required provider is nil")

	ErrContextCancelled = errors.New("operation cancelled by context")

	// ErrPermissionDenied is reported when the VAD cannot acquire the microphone.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceBusy is reported when the audio device is held by another process.
	ErrDeviceBusy = errors.New("audio device busy")

	// ErrNotSupported is reported when the host audio subsystem lacks a required capability.
	ErrNotSupported = errors.New("audio device not supported")

	// ErrGenerationFailed wraps a Generator Service failure (error or timeout).
	ErrGenerationFailed = errors.New("generation failed")

	// ErrSynthesisFailed wraps a TTS Service failure after retry exhaustion.
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrPlaybackFailed wraps an output-device failure while playing a segment.
	ErrPlaybackFailed = errors.New("audio playback failed")

	// ErrSessionExpired is reported when any collaborator rejects the session's credentials.
	ErrSessionExpired = errors.New("session expired")

	// ErrInvalidated is the one "error" that is entirely expected: a turn was
	// superseded by a newer turn before it completed. It must never be
	// surfaced to the user.
	ErrInvalidated = errors.New("turn invalidated")
)
