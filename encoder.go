package capture

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Common errors
var (
	ErrBufferTooSmall    = errors.New("buffer too small")
	ErrCodecNotSupported = errors.New("codec not supported")
)

// VideoEncoderConfig configures a video encoder.
type VideoEncoderConfig struct {
	Codec      VideoCodec
	Width      int
	Height     int
	FPS        int // Target framerate
	BitrateBps int // Target bitrate in bits per second
	Threads    int // Encoder threads (0 = auto)
}

// DefaultVideoEncoderConfig returns a default encoder configuration.
func DefaultVideoEncoderConfig(codec VideoCodec, width, height int) VideoEncoderConfig {
	return VideoEncoderConfig{
		Codec:      codec,
		Width:      width,
		Height:     height,
		FPS:        30,
		BitrateBps: 1500000, // 1.5 Mbps
	}
}

// VideoEncoder encodes raw video frames to a compressed bitstream.
type VideoEncoder interface {
	io.Closer

	// Encode encodes a video frame.
	// Returns nil if the encoder is buffering and no output is ready.
	// The returned EncodedFrame data is valid until the next Encode() call.
	Encode(frame *VideoFrame) (*EncodedFrame, error)

	// RequestKeyframe forces the next frame to be a keyframe.
	RequestKeyframe()

	// Codec returns the codec type.
	Codec() VideoCodec
}

// AudioEncoderConfig configures an audio encoder.
type AudioEncoderConfig struct {
	Codec       AudioCodec
	SampleRate  int // Sample rate (e.g., 48000)
	Channels    int // Number of channels (1 or 2)
	BitrateBps  int // Target bitrate in bps
	FrameSizeMs int // Frame size in milliseconds
}

// DefaultAudioEncoderConfig returns a default audio encoder configuration.
func DefaultAudioEncoderConfig(codec AudioCodec) AudioEncoderConfig {
	return AudioEncoderConfig{
		Codec:       codec,
		SampleRate:  48000,
		Channels:    1,
		BitrateBps:  32000,
		FrameSizeMs: 20,
	}
}

// AudioEncoder encodes raw audio samples. Input of any length is accepted;
// the encoder buffers it and returns every complete packet it produced.
type AudioEncoder interface {
	io.Closer
	Encode(samples *AudioSamples) ([]*EncodedAudio, error)
	Codec() AudioCodec
}

// VideoEncoderFactory creates a video encoder.
type VideoEncoderFactory func(VideoEncoderConfig) (VideoEncoder, error)

// AudioEncoderFactory creates an audio encoder.
type AudioEncoderFactory func(AudioEncoderConfig) (AudioEncoder, error)

// builtin encoders compiled into this build, registered by init functions of
// the codec files. Read-only once init has run.
var (
	builtinVideoEncoders = map[VideoCodec]VideoEncoderFactory{}
	builtinAudioEncoders = map[AudioCodec]AudioEncoderFactory{}
)

// EncoderSet maps codecs to encoder factories.
type EncoderSet struct {
	mu    sync.RWMutex
	video map[VideoCodec]VideoEncoderFactory
	audio map[AudioCodec]AudioEncoderFactory
}

// NewEncoderSet returns an empty set.
func NewEncoderSet() *EncoderSet {
	return &EncoderSet{
		video: make(map[VideoCodec]VideoEncoderFactory),
		audio: make(map[AudioCodec]AudioEncoderFactory),
	}
}

// DefaultEncoderSet returns a set holding the encoders built into this binary.
func DefaultEncoderSet() *EncoderSet {
	s := NewEncoderSet()
	for c, f := range builtinVideoEncoders {
		s.video[c] = f
	}
	for c, f := range builtinAudioEncoders {
		s.audio[c] = f
	}
	return s
}

// RegisterVideoEncoder adds or replaces the factory for codec.
func (s *EncoderSet) RegisterVideoEncoder(codec VideoCodec, factory VideoEncoderFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.video[codec] = factory
}

// RegisterAudioEncoder adds or replaces the factory for codec.
func (s *EncoderSet) RegisterAudioEncoder(codec AudioCodec, factory AudioEncoderFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio[codec] = factory
}

// HasVideo reports whether codec can be encoded.
func (s *EncoderSet) HasVideo(codec VideoCodec) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.video[codec]
	return ok
}

// HasAudio reports whether codec can be encoded.
func (s *EncoderSet) HasAudio(codec AudioCodec) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.audio[codec]
	return ok
}

// VideoCodecs lists the registered video codecs, highest first.
func (s *EncoderSet) VideoCodecs() []VideoCodec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]VideoCodec, 0, len(s.video))
	for c := range s.video {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] > res[j] })
	return res
}

// AudioCodecs lists the registered audio codecs.
func (s *EncoderSet) AudioCodecs() []AudioCodec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]AudioCodec, 0, len(s.audio))
	for c := range s.audio {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// NewVideoEncoder creates a video encoder.
func (s *EncoderSet) NewVideoEncoder(config VideoEncoderConfig) (VideoEncoder, error) {
	s.mu.RLock()
	factory, ok := s.video[config.Codec]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, config.Codec)
	}
	return factory(config)
}

// NewAudioEncoder creates an audio encoder.
func (s *EncoderSet) NewAudioEncoder(config AudioEncoderConfig) (AudioEncoder, error) {
	s.mu.RLock()
	factory, ok := s.audio[config.Codec]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, config.Codec)
	}
	return factory(config)
}
