package audio

import (
	"sync"

	"github.com/gen2brain/malgo"
)

// DeviceController is a malgo-backed orchestrator.PlaybackController. It owns
// a playback-only duplex half, draining a byte queue into the device's output
// callback and firing onDone exactly once the queue empties or Stop is
// called. Play always replaces whatever was queued, so at most one segment
// is ever active.
type DeviceController struct {
	mu      sync.Mutex
	queue   []byte
	playing bool
	onDone  func()
	fired   bool

	echo *EchoSuppressor

	mctx   *malgo.AllocatedContext
	device *malgo.Device
}

// NewDeviceController acquires a playback-only device at the given format
// and starts it immediately; it runs continuously, emitting silence whenever
// the queue is empty. echo may be nil.
func NewDeviceController(sampleRate, channels int, echo *EchoSuppressor) (*DeviceController, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("malgo context init", err)
	}

	c := &DeviceController{echo: echo}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: c.onSamples,
	})
	if err != nil {
		mctx.Uninit()
		return nil, classifyDeviceError("malgo device init", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		return nil, classifyDeviceError("malgo device start", err)
	}

	c.mctx = mctx
	c.device = device
	return c, nil
}

// Close releases the playback device entirely; distinct from Stop, which
// only halts the current segment and leaves the device running.
func (c *DeviceController) Close() {
	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.mctx != nil {
		c.mctx.Uninit()
		c.mctx = nil
	}
}

func (c *DeviceController) Play(turnID int64, audio []byte, onDone func()) error {
	if c.echo != nil {
		c.echo.ResetForTurn(turnID)
	}

	c.mu.Lock()
	if c.playing && !c.fired && c.onDone != nil {
		prevDone := c.onDone
		c.fired = true
		c.mu.Unlock()
		prevDone()
		c.mu.Lock()
	}
	c.queue = append([]byte(nil), audio...)
	c.playing = len(audio) > 0
	c.onDone = onDone
	c.fired = false
	c.mu.Unlock()

	if len(audio) == 0 && onDone != nil {
		onDone()
	}
	return nil
}

func (c *DeviceController) Stop() {
	c.mu.Lock()
	c.queue = nil
	done := c.onDone
	shouldFire := c.playing && !c.fired
	c.playing = false
	c.fired = true
	c.mu.Unlock()
	if shouldFire && done != nil {
		done()
	}
}

func (c *DeviceController) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playing
}

// onSamples is the malgo data callback for the playback-only device; pInput
// is always nil here.
func (c *DeviceController) onSamples(pOutput []byte, _ []byte, _ uint32) {
	c.mu.Lock()
	n := copy(pOutput, c.queue)
	c.queue = c.queue[n:]
	for i := n; i < len(pOutput); i++ {
		pOutput[i] = 0
	}
	var fire func()
	if n > 0 && len(c.queue) == 0 && c.playing && !c.fired {
		c.playing = false
		c.fired = true
		fire = c.onDone
	}
	c.mu.Unlock()

	if n > 0 && c.echo != nil {
		c.echo.RecordPlayedAudio(pOutput[:n])
	}
	if fire != nil {
		fire()
	}
}
