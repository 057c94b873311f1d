package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

var errMuxerClosed = errors.New("muxer closed")

// chunkBuffer collects muxed bytes until the recorder takes them.
type chunkBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	return b.buf.Write(p)
}

// Take returns the bytes written since the last call. It returns an empty
// non-nil slice when nothing was written.
func (b *chunkBuffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	b.buf.Reset()
	return out
}

// Close marks the buffer finished. Bytes already written can still be taken.
func (b *chunkBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// containerMuxer writes encoded media into a container.
type containerMuxer interface {
	WriteVideo(frame *EncodedFrame, at time.Duration) error
	WriteAudio(packet *EncodedAudio, at time.Duration) error
	Close() error
}

// muxerTracks describes the tracks a muxer is created with. A zero codec
// means the track is absent.
type muxerTracks struct {
	videoCodec VideoCodec
	width      int
	height     int
	fps        int
	audioCodec AudioCodec
	sampleRate int
	channels   int
}

func newContainerMuxer(c Container, w io.WriteCloser, tracks muxerTracks) (containerMuxer, error) {
	switch c {
	case ContainerWebM:
		return newWebMMuxer(w, tracks)
	case ContainerOgg:
		return newOggMuxer(w, tracks)
	default:
		return nil, fmt.Errorf("%w: container %s", ErrCodecNotSupported, c)
	}
}

// webmFlushTimeout bounds how long Close waits for ebml-go to finish the
// file.
const webmFlushTimeout = 2 * time.Second

// closeNotifier closes done once the wrapped writer has been closed.
type closeNotifier struct {
	io.WriteCloser
	once sync.Once
	done chan struct{}
}

func (c *closeNotifier) Close() error {
	err := c.WriteCloser.Close()
	c.once.Do(func() { close(c.done) })
	return err
}

// webmMuxer writes SimpleBlocks through ebml-go. ebml-go writes from its
// own goroutine and closes the sink after the last track writer closes.
type webmMuxer struct {
	video  webm.BlockWriteCloser
	audio  webm.BlockWriteCloser
	sink   *closeNotifier
	closed bool
}

func newWebMMuxer(w io.WriteCloser, tracks muxerTracks) (*webmMuxer, error) {
	var entries []webm.TrackEntry
	videoIdx, audioIdx := -1, -1

	if tracks.videoCodec != VideoCodecUnknown {
		entry := webm.TrackEntry{
			Name:        "Video",
			TrackNumber: uint64(len(entries) + 1),
			TrackUID:    rand.Uint64(),
			CodecID:     tracks.videoCodec.WebMCodecID(),
			TrackType:   1,
			Video: &webm.Video{
				PixelWidth:  uint64(tracks.width),
				PixelHeight: uint64(tracks.height),
			},
		}
		if tracks.fps > 0 {
			entry.DefaultDuration = uint64(time.Second / time.Duration(tracks.fps))
		}
		videoIdx = len(entries)
		entries = append(entries, entry)
	}
	if tracks.audioCodec != AudioCodecUnknown {
		audioIdx = len(entries)
		entries = append(entries, webm.TrackEntry{
			Name:         "Audio",
			TrackNumber:  uint64(len(entries) + 1),
			TrackUID:     rand.Uint64(),
			CodecID:      tracks.audioCodec.WebMCodecID(),
			CodecPrivate: opusHead(tracks.sampleRate, tracks.channels),
			TrackType:    2,
			Audio: &webm.Audio{
				SamplingFrequency: float64(tracks.sampleRate),
				Channels:          uint64(tracks.channels),
			},
		})
	}
	if len(entries) == 0 {
		return nil, errors.New("webm: no tracks")
	}

	sink := &closeNotifier{WriteCloser: w, done: make(chan struct{})}
	writers, err := webm.NewSimpleBlockWriter(sink, entries)
	if err != nil {
		return nil, fmt.Errorf("webm: %w", err)
	}
	m := &webmMuxer{sink: sink}
	if videoIdx >= 0 {
		m.video = writers[videoIdx]
	}
	if audioIdx >= 0 {
		m.audio = writers[audioIdx]
	}
	return m, nil
}

func (m *webmMuxer) WriteVideo(frame *EncodedFrame, at time.Duration) error {
	if m.closed {
		return errMuxerClosed
	}
	if m.video == nil {
		return nil
	}
	_, err := m.video.Write(frame.IsKeyframe(), at.Milliseconds(), frame.Data)
	return err
}

func (m *webmMuxer) WriteAudio(packet *EncodedAudio, at time.Duration) error {
	if m.closed {
		return errMuxerClosed
	}
	if m.audio == nil {
		return nil
	}
	_, err := m.audio.Write(true, at.Milliseconds(), packet.Data)
	return err
}

func (m *webmMuxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var firstErr error
	for _, w := range []webm.BlockWriteCloser{m.video, m.audio} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t := time.NewTimer(webmFlushTimeout)
	defer t.Stop()
	select {
	case <-m.sink.done:
	case <-t.C:
		if firstErr == nil {
			firstErr = errors.New("webm: timed out finishing the file")
		}
	}
	return firstErr
}

// opusHead builds the Opus identification header used as WebM CodecPrivate.
func opusHead(sampleRate, channels int) []byte {
	h := make([]byte, 19)
	copy(h, "OpusHead")
	h[8] = 1 // version
	h[9] = byte(channels)
	binary.LittleEndian.PutUint16(h[10:], 0) // pre-skip
	binary.LittleEndian.PutUint32(h[12:], uint32(sampleRate))
	binary.LittleEndian.PutUint16(h[16:], 0) // output gain
	h[18] = 0                                // channel mapping family
	return h
}

// oggMuxer writes Opus packets into Ogg pages with pion's oggwriter. The
// writer derives granule positions from RTP timestamps, so each packet is
// wrapped in an RTP packet on the 48 kHz Opus clock.
type oggMuxer struct {
	w      *oggwriter.OggWriter
	ssrc   uint32
	seq    uint16
	closed bool
}

func newOggMuxer(w io.WriteCloser, tracks muxerTracks) (*oggMuxer, error) {
	if tracks.audioCodec != AudioCodecOpus {
		return nil, fmt.Errorf("%w: ogg needs an Opus track", ErrCodecNotSupported)
	}
	if tracks.videoCodec != VideoCodecUnknown {
		return nil, fmt.Errorf("%w: ogg cannot carry %s video", ErrCodecNotSupported, tracks.videoCodec)
	}
	ow, err := oggwriter.NewWith(w, uint32(tracks.sampleRate), uint16(tracks.channels))
	if err != nil {
		return nil, fmt.Errorf("ogg: %w", err)
	}
	return &oggMuxer{w: ow, ssrc: rand.Uint32()}, nil
}

func (m *oggMuxer) WriteVideo(*EncodedFrame, time.Duration) error { return nil }

func (m *oggMuxer) WriteAudio(packet *EncodedAudio, at time.Duration) error {
	if m.closed {
		return errMuxerClosed
	}
	m.seq++
	return m.w.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    111,
			SequenceNumber: m.seq,
			Timestamp:      uint32(at * time.Duration(AudioCodecOpus.ClockRate()) / time.Second),
			SSRC:           m.ssrc,
		},
		Payload: packet.Data,
	})
}

func (m *oggMuxer) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.w.Close()
}
