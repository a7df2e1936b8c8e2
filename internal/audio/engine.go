// Package audio owns the microphone: device selection, the live capture
// loop, and the amplitude levels streamed while a capture is running.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"golang.org/x/time/rate"
)

var (
	// ErrNoDevice means no capture device exists at all.
	ErrNoDevice = errors.New("no capture device available")
	// ErrDeviceUnavailable means the requested device id does not exist.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrDeviceDisconnected means the device vanished mid-capture and the
	// one-shot fallback to the default device also failed.
	ErrDeviceDisconnected = errors.New("capture device disconnected")
)

// Config holds capture parameters.
type Config struct {
	// PreferredDevice selects a device by fingerprint or name; empty means
	// the system default.
	PreferredDevice string
	SampleRate      uint32
	// LevelsPerSecond caps amplitude emission toward UI consumers.
	LevelsPerSecond int
	// FrameQueue bounds the hardware-callback bridge, in chunks.
	FrameQueue int
	// Backends overrides the default backend probe order. Tests use the
	// null backend to run without hardware.
	Backends []malgo.Backend
}

func (c *Config) fill() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.LevelsPerSecond <= 0 {
		c.LevelsPerSecond = 30
	}
	if c.FrameQueue <= 0 {
		c.FrameQueue = 64
	}
}

// Engine owns the audio context and at most one capture at a time.
// All samples are mono float32 and stay in memory.
type Engine struct {
	log        *slog.Logger
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	levelRate  int
	frameQueue int

	mu        sync.Mutex
	preferred string
	sess      *capture
}

// capture is the per-session state. The pump goroutine is the only writer
// of buf until done is closed.
type capture struct {
	device    *malgo.Device
	capturing atomic.Bool
	frames    chan []float32
	levels    *LevelStream
	failures  chan error
	done      chan struct{}
	dropped   atomic.Uint64
	buf       []float32
	fellBack  bool
	teardown  sync.Once
}

// New initializes the audio backend. Call Close when done.
func New(cfg Config, log *slog.Logger) (*Engine, error) {
	cfg.fill()
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, err := malgo.InitContext(cfg.Backends, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing audio context: %w", err)
	}
	return &Engine{
		log:        log,
		ctx:        ctx,
		sampleRate: cfg.SampleRate,
		levelRate:  cfg.LevelsPerSecond,
		frameQueue: cfg.FrameQueue,
		preferred:  cfg.PreferredDevice,
	}, nil
}

// Start opens the preferred (or default) device and begins buffering.
// It returns the live amplitude feed, closed when the capture ends, and a
// channel that reports a mid-capture abort after the device-loss fallback
// has been exhausted.
func (e *Engine) Start() (<-chan float64, <-chan error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil {
		return nil, nil, fmt.Errorf("capture already in progress")
	}

	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, nil, fmt.Errorf("enumerating capture devices: %w", err)
	}
	if len(infos) == 0 {
		return nil, nil, ErrNoDevice
	}

	info := defaultDevice(infos)
	if e.preferred != "" {
		if m := matchDevice(infos, e.preferred); m != nil {
			info = m
		} else {
			e.log.Warn("preferred capture device missing, using default", "preferred", e.preferred)
		}
	}
	if info == nil {
		return nil, nil, ErrNoDevice
	}

	s := &capture{
		frames:   make(chan []float32, e.frameQueue),
		levels:   newLevelStream(e.frameQueue),
		failures: make(chan error, 1),
		done:     make(chan struct{}),
	}
	s.capturing.Store(true)

	limiter := rate.NewLimiter(rate.Limit(e.levelRate), 1)
	go s.pump(limiter)

	dev, err := e.openDevice(s, &info.ID)
	if err != nil {
		s.capturing.Store(false)
		close(s.frames)
		<-s.done
		return nil, nil, fmt.Errorf("opening capture device: %w", err)
	}
	s.device = dev
	e.sess = s

	e.log.Debug("capture started", "device", info.Name(), "sample_rate", e.sampleRate)
	return s.levels.Levels(), s.failures, nil
}

// Stop finalizes the running capture and returns the buffered samples.
// Safe to call when nothing is being captured; the returned buffer is then
// empty but never nil.
func (e *Engine) Stop() Buffer {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil {
		return emptyBuffer(e.sampleRate)
	}
	samples := e.teardownLocked(s)
	if n := s.dropped.Load(); n > 0 {
		e.log.Warn("capture dropped audio chunks", "count", n)
	}

	out := make([]float32, len(samples))
	copy(out, samples)
	s.buf = nil
	return Buffer{Samples: out, SampleRate: e.sampleRate}
}

// Cancel runs the same teardown as Stop but discards the buffer.
// Idempotent; calling it with no capture running is a no-op.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.sess
	if s == nil {
		return
	}
	e.teardownLocked(s)
	s.buf = nil
}

// Capturing reports whether a capture is currently running.
func (e *Engine) Capturing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.capturing.Load()
}

// Close cancels any running capture and releases the audio context.
func (e *Engine) Close() error {
	e.Cancel()
	if e.ctx != nil {
		if err := e.ctx.Uninit(); err != nil {
			return fmt.Errorf("uninitializing audio context: %w", err)
		}
		e.ctx.Free()
		e.ctx = nil
	}
	return nil
}

// teardownLocked releases the device and closes the session streams exactly
// once, then waits for the pump to drain. The capturing flag is cleared
// before any channel is closed so late hardware callbacks observe it and
// drop their data instead of writing to a closed stream.
func (e *Engine) teardownLocked(s *capture) []float32 {
	s.teardown.Do(func() {
		s.capturing.Store(false)
		if s.device != nil {
			s.device.Uninit()
			s.device = nil
		}
		close(s.frames)
	})
	<-s.done
	if e.sess == s {
		e.sess = nil
	}
	return s.buf
}

// openDevice initializes and starts a capture device whose callbacks feed s.
func (e *Engine) openDevice(s *capture, id *malgo.DeviceID) (*malgo.Device, error) {
	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = e.sampleRate
	if id != nil {
		devCfg.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		// Runs on the hardware thread: check the flag, convert, hand off
		// through the bounded channel, never block.
		Data: func(_, data []byte, frameCount uint32) {
			if !s.capturing.Load() {
				return
			}
			chunk := bytesToFloat32(data, frameCount)
			select {
			case s.frames <- chunk:
			default:
				s.dropped.Add(1)
			}
		},
		// Fires for deliberate teardown too; the cleared flag tells the
		// two apart.
		Stop: func() {
			if !s.capturing.Load() {
				return
			}
			go e.recoverDevice(s)
		},
	}

	dev, err := malgo.InitDevice(e.ctx.Context, devCfg, callbacks)
	if err != nil {
		return nil, err
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, err
	}
	return dev, nil
}

// recoverDevice handles a device that stopped while capturing was still set:
// one automatic fallback to the system default device, after which any
// further loss aborts the capture through the failure channel.
func (e *Engine) recoverDevice(s *capture) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != s || !s.capturing.Load() {
		return
	}
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.fellBack {
		e.failLocked(s, ErrDeviceDisconnected)
		return
	}
	s.fellBack = true

	infos, err := e.ctx.Devices(malgo.Capture)
	if err != nil || len(infos) == 0 {
		e.failLocked(s, ErrDeviceDisconnected)
		return
	}
	info := defaultDevice(infos)
	if info == nil {
		e.failLocked(s, ErrDeviceDisconnected)
		return
	}
	dev, err := e.openDevice(s, &info.ID)
	if err != nil {
		e.failLocked(s, ErrDeviceDisconnected)
		return
	}
	s.device = dev
	e.log.Warn("capture device lost, fell back to default", "device", info.Name())
}

// failLocked reports an unrecoverable capture failure and tears the session
// down, discarding the buffer. The owner observes the failure channel and
// needs no further engine call, though Stop and Cancel stay safe.
func (e *Engine) failLocked(s *capture, err error) {
	select {
	case s.failures <- err:
	default:
	}
	e.teardownLocked(s)
	s.buf = nil
	e.log.Error("capture aborted", "error", err)
}

// pump drains the hardware bridge into the session buffer and feeds the
// level stream. It is the sole writer of s.buf.
func (s *capture) pump(limiter *rate.Limiter) {
	defer close(s.done)
	for chunk := range s.frames {
		s.buf = append(s.buf, chunk...)
		if limiter.Allow() {
			s.levels.offer(chunkLevel(chunk))
		}
	}
	s.levels.close()
}
