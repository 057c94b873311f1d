//go:build cgo && !noaudio

package capture

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gen2brain/malgo"
)

// Microphone capture parameters. Opus-friendly: 48 kHz mono S16 in 20 ms
// periods.
const (
	malgoSampleRate   = 48000
	malgoChannels     = 1
	malgoPeriodSizeMS = 20
)

// MalgoProvider lists audio devices and captures microphones through
// miniaudio. It has no cameras.
type MalgoProvider struct {
	log slog.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoProvider initializes a miniaudio context.
func NewMalgoProvider(log slog.Logger) (*MalgoProvider, error) {
	if log == nil {
		log = slog.Disabled
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &MalgoProvider{log: log, ctx: ctx}, nil
}

// Close frees the miniaudio context.
func (p *MalgoProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil
	}
	err := p.ctx.Uninit()
	p.ctx.Free()
	p.ctx = nil
	return err
}

// encodeMalgoID encodes a malgo device id as printable text. Trailing zero
// bytes are dropped.
func encodeMalgoID(id malgo.DeviceID) string {
	return hex.EncodeToString(bytes.TrimRight(id[:], "\x00"))
}

// decodeMalgoID reverses encodeMalgoID. An empty id yields nil, which picks
// the system default device.
func decodeMalgoID(s string) (*malgo.DeviceID, error) {
	if s == "" {
		return nil, nil
	}
	id := new(malgo.DeviceID)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) > len(id) {
		return nil, fmt.Errorf("invalid audio device id %q", s)
	}
	copy(id[:], b)
	return id, nil
}

func (p *MalgoProvider) list(typ malgo.DeviceType, kind DeviceKind) ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return nil, ErrNoProvider
	}

	devices, err := p.ctx.Devices(typ)
	if err != nil {
		return nil, err
	}

	res := make([]DeviceInfo, 0, len(devices))
	seen := make(map[string]struct{}, len(devices))
	for _, dev := range devices {
		full, err := p.ctx.DeviceInfo(typ, dev.ID, malgo.Shared)
		if err != nil {
			p.log.Warnf("Unable to get audio device info: %v", err)
			continue
		}

		// Avoid duplicate device IDs.
		id := encodeMalgoID(full.ID)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		info := DeviceInfo{DeviceID: id, Kind: kind, Label: full.Name()}
		// The default device goes first so it is picked when no id is given.
		if full.IsDefault == 1 {
			res = append([]DeviceInfo{info}, res...)
		} else {
			res = append(res, info)
		}
	}
	return res, nil
}

func (p *MalgoProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

func (p *MalgoProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return p.list(malgo.Capture, DeviceKindAudioInput)
}

func (p *MalgoProvider) ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return p.list(malgo.Playback, DeviceKindAudioOutput)
}

func (p *MalgoProvider) OpenVideoDevice(ctx context.Context, deviceID string, c *VideoConstraints) (VideoTrack, error) {
	return nil, fmt.Errorf("malgo has no cameras: %w", ErrNoDevice)
}

func (p *MalgoProvider) OpenAudioDevice(ctx context.Context, deviceID string, c *AudioConstraints) (AudioTrack, error) {
	id, err := decodeMalgoID(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrNoDevice)
	}
	if c != nil && c.SampleRate != 0 && c.SampleRate != malgoSampleRate {
		return nil, fmt.Errorf("sample rate %d: %w", c.SampleRate, ErrConstraintNotSatisfied)
	}
	if c != nil && c.ChannelCount > malgoChannels {
		return nil, fmt.Errorf("%d channels: %w", c.ChannelCount, ErrConstraintNotSatisfied)
	}

	label := deviceID
	if devices, err := p.ListAudioInputDevices(ctx); err == nil {
		for _, d := range devices {
			if d.DeviceID == deviceID {
				label = d.Label
			}
		}
	}

	src := &malgoSource{provider: p, id: id, log: p.log}
	track := NewSourceAudioTrack(generateTrackID(RTPCodecTypeAudio), label, src, AudioTrackSettings{
		SampleRate:   malgoSampleRate,
		ChannelCount: malgoChannels,
		DeviceID:     deviceID,
	})
	if err := src.Start(ctx); err != nil {
		return nil, err
	}
	return track, nil
}

// malgoSource is an AudioSource over one miniaudio capture device.
type malgoSource struct {
	provider *MalgoProvider
	id       *malgo.DeviceID
	log      slog.Logger

	mu       sync.Mutex
	device   *malgo.Device
	callback AudioSamplesCallback
	start    time.Time
}

func (s *malgoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		return fmt.Errorf("source already running")
	}

	s.provider.mu.Lock()
	actx := s.provider.ctx
	s.provider.mu.Unlock()
	if actx == nil {
		return ErrNoProvider
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = malgoSampleRate
	cfg.PeriodSizeInMilliseconds = malgoPeriodSizeMS
	if s.id != nil {
		cfg.Capture.DeviceID = s.id.Pointer()
	}
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = malgoChannels
	cfg.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(actx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		// miniaudio reports a refused microphone as a failed device init.
		return fmt.Errorf("open microphone: %v: %w", err, ErrPermissionDenied)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start microphone: %w", err)
	}
	s.device = device
	s.start = time.Now()
	s.log.Debugf("Microphone capture started")
	return nil
}

func (s *malgoSource) onData(_, in []byte, frameCount uint32) {
	s.mu.Lock()
	cb := s.callback
	start := s.start
	s.mu.Unlock()
	if cb == nil || len(in) == 0 {
		return
	}
	data := make([]byte, len(in))
	copy(data, in)
	cb(&AudioSamples{
		Data:        data,
		SampleRate:  malgoSampleRate,
		Channels:    malgoChannels,
		SampleCount: int(frameCount),
		Format:      AudioFormatS16,
		Timestamp:   time.Since(start).Nanoseconds(),
	})
}

func (s *malgoSource) Stop() error {
	s.mu.Lock()
	device := s.device
	s.device = nil
	s.mu.Unlock()
	if device == nil {
		return nil
	}
	err := device.Stop()
	device.Uninit()
	return err
}

func (s *malgoSource) SetCallback(cb AudioSamplesCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

func (s *malgoSource) SampleRate() int { return malgoSampleRate }
func (s *malgoSource) Channels() int   { return malgoChannels }

func init() {
	platformAudioProvider = func() DeviceProvider {
		p, err := NewMalgoProvider(nil)
		if err != nil {
			return nil
		}
		return p
	}
}
