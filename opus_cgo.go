//go:build cgo && !noopus

package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/companyzero/gopus"
)

// maxOpusPacket bounds one encoded Opus packet.
const maxOpusPacket = 4000

// OpusEncoder implements AudioEncoder on libopus through gopus.
type OpusEncoder struct {
	enc        *gopus.Encoder
	sampleRate int
	channels   int
	frameSize  int // samples per channel per packet

	mu      sync.Mutex
	pending []int16
	out     []byte
	encoded int // samples per channel already turned into packets
}

// NewOpusEncoder creates a new Opus encoder.
func NewOpusEncoder(config AudioEncoderConfig) (*OpusEncoder, error) {
	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	channels := config.Channels
	if channels <= 0 {
		channels = 1
	}
	if channels > 2 {
		return nil, fmt.Errorf("Opus supports max 2 channels, got %d", channels)
	}
	frameMs := config.FrameSizeMs
	if frameMs <= 0 {
		frameMs = 20
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("create Opus encoder: %w", err)
	}
	if config.BitrateBps > 0 {
		enc.SetBitrate(config.BitrateBps)
	}

	return &OpusEncoder{
		enc:        enc,
		sampleRate: sampleRate,
		channels:   channels,
		frameSize:  sampleRate / 1000 * frameMs,
		out:        make([]byte, maxOpusPacket),
	}, nil
}

// Encode buffers samples and returns one packet per complete frame.
func (e *OpusEncoder) Encode(samples *AudioSamples) ([]*EncodedAudio, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enc == nil {
		return nil, fmt.Errorf("encoder closed")
	}
	if samples.SampleRate != 0 && samples.SampleRate != e.sampleRate {
		return nil, fmt.Errorf("sample rate %d does not match encoder rate %d",
			samples.SampleRate, e.sampleRate)
	}
	if samples.Channels != 0 && samples.Channels != e.channels {
		return nil, fmt.Errorf("%d channels do not match encoder channels %d",
			samples.Channels, e.channels)
	}

	e.pending = samples.Int16(e.pending)

	step := e.frameSize * e.channels
	var packets []*EncodedAudio
	for len(e.pending) >= step {
		encoded, err := e.enc.Encode(e.pending[:step], e.frameSize, e.out)
		if err != nil {
			return packets, fmt.Errorf("opus encode: %w", err)
		}
		data := make([]byte, len(encoded))
		copy(data, encoded)

		packets = append(packets, &EncodedAudio{
			Data:      data,
			Timestamp: time.Duration(e.encoded) * time.Second / time.Duration(e.sampleRate),
			Samples:   e.frameSize,
		})
		e.encoded += e.frameSize
		e.pending = append(e.pending[:0], e.pending[step:]...)
	}
	return packets, nil
}

// Codec implements AudioEncoder.
func (e *OpusEncoder) Codec() AudioCodec { return AudioCodecOpus }

// Close releases the encoder. Buffered samples shorter than a frame are
// discarded.
func (e *OpusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc = nil
	e.pending = nil
	return nil
}

func init() {
	builtinAudioEncoders[AudioCodecOpus] = func(config AudioEncoderConfig) (AudioEncoder, error) {
		return NewOpusEncoder(config)
	}
}
