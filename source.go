package capture

import (
	"context"
	"errors"
)

// ErrNotSupported is returned when an optional operation is not supported.
var ErrNotSupported = errors.New("operation not supported")

// SourceType identifies the type of media source.
type SourceType int

const (
	SourceTypeUnknown   SourceType = iota
	SourceTypeCamera               // Camera capture (platform-specific)
	SourceTypeMic                  // Microphone capture (platform-specific)
	SourceTypeSynthetic            // Generated test pattern or tone
)

func (s SourceType) String() string {
	switch s {
	case SourceTypeCamera:
		return "Camera"
	case SourceTypeMic:
		return "Mic"
	case SourceTypeSynthetic:
		return "Synthetic"
	default:
		return "Unknown"
	}
}

// SourceConfig describes a video source's configuration.
type SourceConfig struct {
	Width      int         // Frame width in pixels
	Height     int         // Frame height in pixels
	FPS        int         // Frames per second
	Format     PixelFormat // Pixel format
	SourceType SourceType  // Type of source
}

// VideoFrameCallback is called when a frame is available (push mode).
type VideoFrameCallback func(frame *VideoFrame)

// VideoSource produces raw video frames.
type VideoSource interface {
	// Start begins capture/generation.
	Start(ctx context.Context) error

	// Stop halts capture/generation. Stopping a stopped source is a no-op.
	Stop() error

	// SetCallback sets the frame callback; nil disables delivery.
	SetCallback(cb VideoFrameCallback)

	// Config returns the source configuration.
	Config() SourceConfig
}

// AudioSamplesCallback is called when audio samples are available (push mode).
type AudioSamplesCallback func(samples *AudioSamples)

// AudioSource produces raw audio samples.
type AudioSource interface {
	// Start begins capture/generation.
	Start(ctx context.Context) error

	// Stop halts capture/generation. Stopping a stopped source is a no-op.
	Stop() error

	// SetCallback sets the sample callback; nil disables delivery.
	SetCallback(cb AudioSamplesCallback)

	// SampleRate returns the audio sample rate.
	SampleRate() int

	// Channels returns the number of audio channels.
	Channels() int
}
