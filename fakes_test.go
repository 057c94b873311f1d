package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePlatform is a PlatformRecorder driven by the test.
type fakePlatform struct {
	mimeType string
	startErr error
	autoStop bool

	mu      sync.Mutex
	onData  func([]byte)
	onStop  func()
	onError func(error)
	started bool
	stops   int
}

func (p *fakePlatform) Start(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *fakePlatform) Stop() {
	p.mu.Lock()
	p.stops++
	auto := p.autoStop
	p.mu.Unlock()
	if auto {
		go p.fireStop()
	}
}

func (p *fakePlatform) MimeType() string { return p.mimeType }

func (p *fakePlatform) OnDataAvailable(f func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onData = f
}

func (p *fakePlatform) OnStop(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onStop = f
}

func (p *fakePlatform) OnError(f func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = f
}

func (p *fakePlatform) emit(data []byte) {
	p.mu.Lock()
	f := p.onData
	p.mu.Unlock()
	f(data)
}

func (p *fakePlatform) fireStop() {
	p.mu.Lock()
	f := p.onStop
	p.mu.Unlock()
	f()
}

func (p *fakePlatform) fireError(err error) {
	p.mu.Lock()
	f := p.onError
	p.mu.Unlock()
	f(err)
}

func (p *fakePlatform) stopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// fakeBackend supports a fixed set of MIME types and hands out fakePlatforms.
type fakeBackend struct {
	supported map[string]bool
	newErr    error
	startErr  error
	autoStop  bool
	// delay holds NewRecorder open to widen races between starts.
	delay time.Duration

	mu        sync.Mutex
	platforms []*fakePlatform
	opts      []RecorderOptions
}

func newFakeBackend(types ...string) *fakeBackend {
	b := &fakeBackend{supported: make(map[string]bool), autoStop: true}
	for _, t := range types {
		b.supported[t] = true
	}
	return b
}

func (b *fakeBackend) IsTypeSupported(mimeType string) bool {
	return b.supported[mimeType]
}

func (b *fakeBackend) NewRecorder(stream MediaStream, opts RecorderOptions) (PlatformRecorder, error) {
	if b.newErr != nil {
		return nil, b.newErr
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	mimeType := opts.MimeType
	if mimeType == "" {
		mimeType = "video/x-default"
	}
	p := &fakePlatform{mimeType: mimeType, startErr: b.startErr, autoStop: b.autoStop}
	b.mu.Lock()
	b.platforms = append(b.platforms, p)
	b.opts = append(b.opts, opts)
	b.mu.Unlock()
	return p, nil
}

func (b *fakeBackend) last() *fakePlatform {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.platforms) == 0 {
		return nil
	}
	return b.platforms[len(b.platforms)-1]
}

// fakeVideoEncoder emits a small frame per input, the first one a keyframe.
type fakeVideoEncoder struct {
	codec VideoCodec
	fps   int
	count int
}

func (e *fakeVideoEncoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	ft := FrameTypeDelta
	if e.count == 0 {
		ft = FrameTypeKey
	}
	out := &EncodedFrame{
		Data:      []byte{0x9d, 0x01, 0x2a, byte(e.count)},
		FrameType: ft,
		Timestamp: time.Duration(e.count) * time.Second / time.Duration(e.fps),
	}
	e.count++
	return out, nil
}

func (e *fakeVideoEncoder) RequestKeyframe()  { e.count = 0 }
func (e *fakeVideoEncoder) Codec() VideoCodec { return e.codec }
func (e *fakeVideoEncoder) Close() error      { return nil }

// fakeAudioEncoder emits one packet per input buffer.
type fakeAudioEncoder struct {
	rate    int
	samples int
}

func (e *fakeAudioEncoder) Encode(s *AudioSamples) ([]*EncodedAudio, error) {
	p := &EncodedAudio{
		Data:      []byte{0xfc, 0xff, 0xfe},
		Timestamp: time.Duration(e.samples) * time.Second / time.Duration(e.rate),
		Samples:   s.SampleCount,
	}
	e.samples += s.SampleCount
	return []*EncodedAudio{p}, nil
}

func (e *fakeAudioEncoder) Codec() AudioCodec { return AudioCodecOpus }
func (e *fakeAudioEncoder) Close() error      { return nil }

// fakeEncoderSet registers fake encoders for the given video codecs and Opus.
func fakeEncoderSet(opus bool, video ...VideoCodec) *EncoderSet {
	s := NewEncoderSet()
	for _, c := range video {
		s.RegisterVideoEncoder(c, func(cfg VideoEncoderConfig) (VideoEncoder, error) {
			return &fakeVideoEncoder{codec: cfg.Codec, fps: cfg.FPS}, nil
		})
	}
	if opus {
		s.RegisterAudioEncoder(AudioCodecOpus, func(cfg AudioEncoderConfig) (AudioEncoder, error) {
			return &fakeAudioEncoder{rate: cfg.SampleRate}, nil
		})
	}
	return s
}

// syntheticStream opens a stream from a fresh SyntheticProvider and stops it
// when the test ends.
func syntheticStream(t *testing.T, c Constraints) MediaStream {
	t.Helper()
	a := NewAcquirer(NewSyntheticProvider(), nil)
	s, err := a.Acquire(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// idleAudioStream returns a stream with one live audio track whose source
// never produces samples.
func idleAudioStream() MediaStream {
	s := NewMediaStream("idle")
	s.AddTrack(NewSourceAudioTrack("audio-idle", "idle", NewToneSource(ToneConfig{}), AudioTrackSettings{
		SampleRate:   48000,
		ChannelCount: 1,
	}))
	return s
}

// idleVideoStream returns a stream with one live video track whose source
// never produces frames.
func idleVideoStream() MediaStream {
	s := NewMediaStream("idle-video")
	src := NewTestPatternSource(TestPatternConfig{Width: 320, Height: 240})
	s.AddTrack(NewSourceVideoTrack("video-idle", "idle", src, VideoTrackSettings{
		Width:     320,
		Height:    240,
		FrameRate: 30,
	}))
	return s
}
