package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SyntheticCamera describes a generated camera.
type SyntheticCamera struct {
	ID    string
	Label string
	// Sizes lists the resolutions the camera can deliver; empty means every
	// preset.
	Sizes   []Preset
	Pattern PatternType
	FPS     int
}

// SyntheticMicrophone describes a generated microphone.
type SyntheticMicrophone struct {
	ID         string
	Label      string
	SampleRate int
	Channels   int
	Frequency  float64
	Amplitude  float64
}

// SyntheticProvider is a DeviceProvider whose devices generate test media.
// It stands in for real hardware in tests and demos.
type SyntheticProvider struct {
	mu          sync.RWMutex
	cameras     []SyntheticCamera
	mics        []SyntheticMicrophone
	speakers    []DeviceInfo
	deny        bool
	openDelay   time.Duration
	listErr     map[DeviceKind]error
	openedVideo int
	openedAudio int
}

// NewSyntheticProvider returns a provider with one camera supporting every
// preset, one microphone playing a 440 Hz tone and one speaker.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{
		cameras: []SyntheticCamera{{
			ID:      "synthetic-camera-0",
			Label:   "Synthetic Camera",
			Pattern: PatternMovingBox,
		}},
		mics: []SyntheticMicrophone{{
			ID:        "synthetic-mic-0",
			Label:     "Synthetic Microphone",
			Amplitude: 0.3,
		}},
		speakers: []DeviceInfo{{
			DeviceID: "synthetic-speaker-0",
			Label:    "Synthetic Speaker",
			Kind:     DeviceKindAudioOutput,
		}},
		listErr: make(map[DeviceKind]error),
	}
}

// SetCameras replaces the camera list.
func (p *SyntheticProvider) SetCameras(cams ...SyntheticCamera) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cameras = cams
}

// SetMicrophones replaces the microphone list.
func (p *SyntheticProvider) SetMicrophones(mics ...SyntheticMicrophone) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mics = mics
}

// SetSpeakers replaces the speaker list.
func (p *SyntheticProvider) SetSpeakers(speakers ...DeviceInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speakers = speakers
}

// DenyPermission makes every open fail with ErrPermissionDenied.
func (p *SyntheticProvider) DenyPermission(deny bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deny = deny
}

// SetOpenDelay delays every open by d.
func (p *SyntheticProvider) SetOpenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.openDelay = d
}

// FailList makes listing devices of kind fail with err. A nil err clears it.
func (p *SyntheticProvider) FailList(kind DeviceKind, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.listErr, kind)
		return
	}
	p.listErr[kind] = err
}

// Opened returns how many video and audio tracks have been opened.
func (p *SyntheticProvider) Opened() (video, audio int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.openedVideo, p.openedAudio
}

func (p *SyntheticProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.listErr[DeviceKindVideoInput]; err != nil {
		return nil, err
	}
	res := make([]DeviceInfo, 0, len(p.cameras))
	for _, c := range p.cameras {
		res = append(res, DeviceInfo{DeviceID: c.ID, GroupID: c.ID, Kind: DeviceKindVideoInput, Label: c.Label})
	}
	return res, nil
}

func (p *SyntheticProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.listErr[DeviceKindAudioInput]; err != nil {
		return nil, err
	}
	res := make([]DeviceInfo, 0, len(p.mics))
	for _, m := range p.mics {
		res = append(res, DeviceInfo{DeviceID: m.ID, GroupID: m.ID, Kind: DeviceKindAudioInput, Label: m.Label})
	}
	return res, nil
}

func (p *SyntheticProvider) ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.listErr[DeviceKindAudioOutput]; err != nil {
		return nil, err
	}
	res := make([]DeviceInfo, len(p.speakers))
	copy(res, p.speakers)
	return res, nil
}

// wait applies the open delay and the permission switch.
func (p *SyntheticProvider) wait(ctx context.Context) error {
	p.mu.RLock()
	delay, deny := p.openDelay, p.deny
	p.mu.RUnlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if deny {
		return ErrPermissionDenied
	}
	return nil
}

func (p *SyntheticProvider) OpenVideoDevice(ctx context.Context, deviceID string, c *VideoConstraints) (VideoTrack, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	var cam *SyntheticCamera
	for i := range p.cameras {
		if p.cameras[i].ID == deviceID {
			cam = &p.cameras[i]
			break
		}
	}
	if cam == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("camera %q: %w", deviceID, ErrNoDevice)
	}
	camera := *cam
	p.mu.Unlock()

	width, height := PresetVGA.Width(), PresetVGA.Height()
	if c != nil && c.Width > 0 && c.Height > 0 {
		width, height = c.Width, c.Height
	}
	if !camera.supports(width, height) {
		return nil, fmt.Errorf("%s cannot capture %dx%d: %w", camera.Label, width, height, ErrConstraintNotSatisfied)
	}
	fps := camera.FPS
	if c != nil && c.FrameRate > 0 {
		fps = c.FrameRate
	}
	if fps <= 0 {
		fps = 30
	}

	src := NewTestPatternSource(TestPatternConfig{
		Width:   width,
		Height:  height,
		FPS:     fps,
		Pattern: camera.Pattern,
	})
	track := NewSourceVideoTrack(generateTrackID(RTPCodecTypeVideo), camera.Label, src, VideoTrackSettings{
		Width:     width,
		Height:    height,
		FrameRate: fps,
		DeviceID:  camera.ID,
	})
	if err := src.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start %s: %w", camera.Label, err)
	}

	p.mu.Lock()
	p.openedVideo++
	p.mu.Unlock()
	return track, nil
}

func (c SyntheticCamera) supports(width, height int) bool {
	if len(c.Sizes) == 0 {
		for _, p := range Presets() {
			if p.Width() == width && p.Height() == height {
				return true
			}
		}
		return false
	}
	for _, p := range c.Sizes {
		if p.Width() == width && p.Height() == height {
			return true
		}
	}
	return false
}

func (p *SyntheticProvider) OpenAudioDevice(ctx context.Context, deviceID string, c *AudioConstraints) (AudioTrack, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	var mic *SyntheticMicrophone
	for i := range p.mics {
		if p.mics[i].ID == deviceID {
			mic = &p.mics[i]
			break
		}
	}
	if mic == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("microphone %q: %w", deviceID, ErrNoDevice)
	}
	m := *mic
	p.mu.Unlock()

	cfg := ToneConfig{
		SampleRate: m.SampleRate,
		Channels:   m.Channels,
		Frequency:  m.Frequency,
		Amplitude:  m.Amplitude,
	}
	if c != nil && c.SampleRate > 0 {
		cfg.SampleRate = c.SampleRate
	}
	if c != nil && c.ChannelCount > 0 {
		cfg.Channels = c.ChannelCount
	}
	src := NewToneSource(cfg)
	track := NewSourceAudioTrack(generateTrackID(RTPCodecTypeAudio), m.Label, src, AudioTrackSettings{
		SampleRate:   src.SampleRate(),
		ChannelCount: src.Channels(),
		DeviceID:     m.ID,
	})
	if err := src.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start %s: %w", m.Label, err)
	}

	p.mu.Lock()
	p.openedAudio++
	p.mu.Unlock()
	return track, nil
}
