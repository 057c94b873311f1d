package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ToneConfig configures a ToneSource.
type ToneConfig struct {
	SampleRate int     // Sample rate (default: 48000)
	Channels   int     // Number of channels (default: 1)
	FrameSize  int     // Samples per buffer (default: 960 = 20ms at 48kHz)
	Frequency  float64 // Tone frequency in Hz (default: 440)
	Amplitude  float64 // Amplitude 0.0-1.0; 0 produces silence
}

// ToneSource generates an S16 sine wave.
type ToneSource struct {
	config ToneConfig
	data   []byte
	phase  float64

	running  atomic.Bool
	cancel   context.CancelFunc
	doneCh   chan struct{}
	callback AudioSamplesCallback
	mu       sync.RWMutex
}

// NewToneSource creates a tone source.
func NewToneSource(config ToneConfig) *ToneSource {
	if config.SampleRate <= 0 {
		config.SampleRate = 48000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.FrameSize <= 0 {
		config.FrameSize = config.SampleRate / 50
	}
	if config.Frequency <= 0 {
		config.Frequency = 440
	}
	config.Amplitude = clamp(config.Amplitude, 0, 1)

	return &ToneSource{
		config: config,
		data:   make([]byte, config.FrameSize*config.Channels*2),
	}
}

// Start begins generating samples.
func (s *ToneSource) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return fmt.Errorf("source already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.doneCh = make(chan struct{})
	go s.generateLoop(ctx, s.doneCh)
	return nil
}

// Stop stops generating and waits for the goroutine to exit.
func (s *ToneSource) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	<-s.doneCh
	return nil
}

// SetCallback sets the push-mode callback.
func (s *ToneSource) SetCallback(cb AudioSamplesCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

func (s *ToneSource) SampleRate() int { return s.config.SampleRate }
func (s *ToneSource) Channels() int   { return s.config.Channels }

func (s *ToneSource) generateLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	frameDuration := time.Duration(s.config.FrameSize) * time.Second / time.Duration(s.config.SampleRate)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.generate()
			samples := &AudioSamples{
				Data:        s.data,
				SampleRate:  s.config.SampleRate,
				Channels:    s.config.Channels,
				SampleCount: s.config.FrameSize,
				Format:      AudioFormatS16,
				Timestamp:   time.Since(start).Nanoseconds(),
			}

			s.mu.RLock()
			cb := s.callback
			s.mu.RUnlock()
			if cb != nil {
				cb(samples)
			}
		}
	}
}

func (s *ToneSource) generate() {
	step := 2 * math.Pi * s.config.Frequency / float64(s.config.SampleRate)
	amplitude := s.config.Amplitude * 32767

	idx := 0
	for i := 0; i < s.config.FrameSize; i++ {
		v := int16(amplitude * math.Sin(s.phase))
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		for c := 0; c < s.config.Channels; c++ {
			binary.LittleEndian.PutUint16(s.data[idx:], uint16(v))
			idx += 2
		}
	}
}
