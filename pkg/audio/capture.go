package audio

import (
	"fmt"
	"strings"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/vocalrelay/turnloop/pkg/orchestrator"
)

// classifyDeviceError maps a malgo acquisition failure to the sentinel that
// best describes it, so callers can branch with errors.Is instead of
// matching driver-specific message text themselves. malgo surfaces
// permission and missing-capability failures as plain error strings rather
// than typed errors, so this is a best-effort classification; anything
// unrecognized falls back to ErrDeviceBusy, the general "could not acquire
// this device right now" case.
func classifyDeviceError(stage string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		return fmt.Errorf("%w: %s: %v", orchestrator.ErrPermissionDenied, stage, err)
	case strings.Contains(msg, "not supported") || strings.Contains(msg, "no devices") || strings.Contains(msg, "unsupported"):
		return fmt.Errorf("%w: %s: %v", orchestrator.ErrNotSupported, stage, err)
	default:
		return fmt.Errorf("%w: %s: %v", orchestrator.ErrDeviceBusy, stage, err)
	}
}

// MicListener owns the capture half of the duplex audio device: the VAD
// exclusively owns the microphone stream through this type. It wraps a malgo
// capture-only device, feeds every frame through a VADProvider and an
// optional EchoSuppressor, and assembles the audio between a SPEECH_START and
// its matching SPEECH_END into one CapturedBlob handed to onBlob. This is the
// device-ownership half of the VAD contract split described in
// pkg/orchestrator/vad.go's doc comment; VADProvider itself stays pure signal
// processing and is unit-testable without a MicListener.
type MicListener struct {
	vad     orchestrator.VADProvider
	echo    *EchoSuppressor
	lang    orchestrator.Language
	onBlob  func(orchestrator.CapturedBlob)
	onEvent func(orchestrator.EventType, interface{})

	sampleRate int
	channels   int

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	buf      []byte
	speaking bool
}

// NewMicListener constructs a listener. onBlob and onEvent may be nil.
func NewMicListener(cfg orchestrator.Config, vad orchestrator.VADProvider, echo *EchoSuppressor, onBlob func(orchestrator.CapturedBlob), onEvent func(orchestrator.EventType, interface{})) *MicListener {
	if onBlob == nil {
		onBlob = func(orchestrator.CapturedBlob) {}
	}
	if onEvent == nil {
		onEvent = func(orchestrator.EventType, interface{}) {}
	}
	return &MicListener{
		vad:        vad,
		echo:       echo,
		lang:       cfg.Language,
		onBlob:     onBlob,
		onEvent:    onEvent,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
	}
}

// Start acquires the capture device and begins streaming frames into the
// VAD. Acquisition failures are classified into ErrPermissionDenied,
// ErrNotSupported, or ErrDeviceBusy so callers can distinguish device
// contention from a denied microphone permission or an unsupported host
// capture capability.
func (m *MicListener) Start() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return classifyDeviceError("malgo context init", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.channels)
	deviceConfig.SampleRate = uint32(m.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: m.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return classifyDeviceError("malgo device init", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return classifyDeviceError("malgo device start", err)
	}

	m.mctx = mctx
	m.device = device
	return nil
}

// Stop releases the capture device. Safe to call once Start has succeeded.
func (m *MicListener) Stop() {
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.mctx != nil {
		m.mctx.Uninit()
		m.mctx = nil
	}
}

// onSamples is the malgo data callback for the capture-only device; pOutput
// is always nil here.
func (m *MicListener) onSamples(_ []byte, pInput []byte, _ uint32) {
	if len(pInput) == 0 {
		return
	}

	if m.echo != nil && m.echo.IsEcho(pInput) {
		// Treat suspected echo as silence for VAD purposes rather than
		// dropping the frame outright, so hysteresis timing stays intact.
		pInput = make([]byte, len(pInput))
	}

	evt, err := m.vad.Process(pInput)
	if err != nil || evt == nil {
		if m.speaking {
			m.buf = append(m.buf, pInput...)
		}
		return
	}

	switch evt.Type {
	case orchestrator.VADSpeechStart:
		m.speaking = true
		m.buf = m.buf[:0]
		m.buf = append(m.buf, pInput...)
		m.onEvent(orchestrator.UserSpeaking, nil)
	case orchestrator.VADSpeechEnd:
		m.buf = append(m.buf, pInput...)
		m.speaking = false
		m.onEvent(orchestrator.UserStopped, nil)
		if evt.Discard {
			// Confirmed segment never reached minSpeechDuration: a cough, a
			// mic bump, a door — drop it rather than opening a turn.
			m.buf = m.buf[:0]
			return
		}
		if len(m.buf) > 0 {
			blob := orchestrator.CapturedBlob{
				Audio:      append([]byte(nil), m.buf...),
				Language:   m.lang,
				CapturedAt: time.Now().UnixMilli(),
			}
			m.buf = m.buf[:0]
			m.onBlob(blob)
		}
	case orchestrator.VADSilence:
		if m.speaking {
			m.buf = append(m.buf, pInput...)
		}
	}
}
