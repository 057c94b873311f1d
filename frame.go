// Core frame and sample types used across the capture package.
package capture

import (
	"encoding/binary"
	"math"
	"time"
)

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatI420 PixelFormat = iota // YUV 4:2:0 planar (Y + U + V)
	PixelFormatNV12                    // YUV 4:2:0 semi-planar (Y + interleaved UV)
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	default:
		return "Unknown"
	}
}

// AudioFormat represents audio sample formats.
type AudioFormat int

const (
	AudioFormatS16 AudioFormat = iota // Signed 16-bit little-endian PCM
	AudioFormatF32                    // 32-bit little-endian float
)

func (a AudioFormat) String() string {
	switch a {
	case AudioFormatS16:
		return "S16"
	case AudioFormatF32:
		return "F32"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the number of bytes per sample for this format.
func (a AudioFormat) BytesPerSample() int {
	switch a {
	case AudioFormatS16:
		return 2
	case AudioFormatF32:
		return 4
	default:
		return 0
	}
}

// VideoFrame represents a raw video frame.
// The Data slices may point to memory owned by the source (e.g. a native
// capture buffer); use Clone to keep a frame past its callback.
type VideoFrame struct {
	Data      [][]byte    // Plane data
	Stride    []int       // Stride for each plane in bytes
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Format    PixelFormat // Pixel format
	Timestamp int64       // Capture timestamp in nanoseconds
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Format:    f.Format,
		Timestamp: f.Timestamp,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// I420Size returns the total buffer size needed for an I420 frame.
func I420Size(width, height int) int {
	ySize := width * height
	uvSize := (width / 2) * (height / 2)
	return ySize + uvSize*2
}

// AudioSamples represents raw interleaved audio samples.
type AudioSamples struct {
	Data        []byte      // Sample data
	SampleRate  int         // Sample rate (e.g., 48000)
	Channels    int         // Number of channels (1 = mono, 2 = stereo)
	SampleCount int         // Number of samples (per channel)
	Format      AudioFormat // Sample format
	Timestamp   int64       // Capture timestamp in nanoseconds
}

// Clone creates a deep copy of the audio samples.
func (s *AudioSamples) Clone() *AudioSamples {
	clone := *s
	if s.Data != nil {
		clone.Data = make([]byte, len(s.Data))
		copy(clone.Data, s.Data)
	}
	return &clone
}

// Float returns sample i (interleaved index) normalized to [-1, 1].
func (s *AudioSamples) Float(i int) float64 {
	switch s.Format {
	case AudioFormatS16:
		v := int16(binary.LittleEndian.Uint16(s.Data[i*2:]))
		return float64(v) / 32768
	case AudioFormatF32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(s.Data[i*4:])))
	default:
		return 0
	}
}

// Len returns the number of interleaved samples in Data.
func (s *AudioSamples) Len() int {
	bps := s.Format.BytesPerSample()
	if bps == 0 {
		return 0
	}
	return len(s.Data) / bps
}

// Int16 appends the samples converted to S16 to dst.
func (s *AudioSamples) Int16(dst []int16) []int16 {
	n := s.Len()
	for i := 0; i < n; i++ {
		if s.Format == AudioFormatS16 {
			dst = append(dst, int16(binary.LittleEndian.Uint16(s.Data[i*2:])))
			continue
		}
		v := s.Float(i)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst = append(dst, int16(v*32767))
	}
	return dst
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // I-frame, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds encoded video data.
type EncodedFrame struct {
	Data      []byte        // Encoded bitstream data
	FrameType FrameType     // Key or delta frame
	Timestamp time.Duration // Offset from the first frame of the recording
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}

// EncodedAudio holds one encoded audio packet.
type EncodedAudio struct {
	Data      []byte        // Encoded data (e.g., one Opus packet)
	Timestamp time.Duration // Offset from the first sample of the recording
	Samples   int           // Duration in samples per channel
}
