package capture

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// Re-export pion's RTPCodecType for convenience
type RTPCodecType = webrtc.RTPCodecType

const (
	RTPCodecTypeUnknown = webrtc.RTPCodecTypeUnknown
	RTPCodecTypeAudio   = webrtc.RTPCodecTypeAudio
	RTPCodecTypeVideo   = webrtc.RTPCodecTypeVideo
)

// TrackState represents the state of a track.
type TrackState int

const (
	TrackStateLive  TrackState = iota // Track is active and producing media
	TrackStateEnded                   // Track has been stopped
)

func (s TrackState) String() string {
	switch s {
	case TrackStateLive:
		return "live"
	case TrackStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MediaStreamTrack represents a single audio or video track.
// This is similar to the browser's MediaStreamTrack interface.
type MediaStreamTrack interface {
	io.Closer

	// ID returns the unique identifier for this track.
	ID() string

	// Kind returns the track kind (audio or video) - compatible with pion.
	Kind() RTPCodecType

	// Label returns a human-readable label for the track source.
	Label() string

	// State returns the current track state.
	State() TrackState

	// Enabled returns whether the track forwards media to its sinks.
	Enabled() bool

	// SetEnabled sets the enabled state.
	SetEnabled(enabled bool)

	// Stop ends the track and releases its source. Stopping an ended track
	// is a no-op.
	Stop()

	// OnEnded sets a callback for when the track ends.
	OnEnded(callback func())
}

// VideoTrack is a MediaStreamTrack that produces video frames.
type VideoTrack interface {
	MediaStreamTrack

	// OnFrame adds a frame sink. The returned function removes it.
	// Frames are only valid for the duration of the callback.
	OnFrame(callback VideoFrameCallback) (remove func())

	// Settings returns the actual video settings.
	Settings() VideoTrackSettings
}

// VideoTrackSettings describes the actual video track settings.
type VideoTrackSettings struct {
	Width     int
	Height    int
	FrameRate int
	DeviceID  string
}

// AudioTrack is a MediaStreamTrack that produces audio samples.
type AudioTrack interface {
	MediaStreamTrack

	// OnSamples adds a sample sink. The returned function removes it.
	OnSamples(callback AudioSamplesCallback) (remove func())

	// Settings returns the actual audio settings.
	Settings() AudioTrackSettings
}

// AudioTrackSettings describes the actual audio track settings.
type AudioTrackSettings struct {
	SampleRate   int
	ChannelCount int
	DeviceID     string
}

// MediaStream is a collection of tracks (like browser's MediaStream).
type MediaStream interface {
	io.Closer

	// ID returns the unique identifier for this stream.
	ID() string

	// Active returns whether any track in the stream is live.
	Active() bool

	// GetTracks returns all tracks in the stream.
	GetTracks() []MediaStreamTrack

	// GetVideoTracks returns all video tracks.
	GetVideoTracks() []VideoTrack

	// GetAudioTracks returns all audio tracks.
	GetAudioTracks() []AudioTrack

	// GetTrackByID returns a track by its ID, or nil.
	GetTrackByID(id string) MediaStreamTrack

	// AddTrack adds a track to the stream.
	AddTrack(track MediaStreamTrack)

	// RemoveTrack removes a track from the stream without stopping it.
	RemoveTrack(track MediaStreamTrack) bool
}

// BaseTrack provides common functionality for tracks.
type BaseTrack struct {
	id      string
	label   string
	kind    RTPCodecType
	state   atomic.Int32
	enabled atomic.Bool
	endedCb func()
	onStop  func()
	mu      sync.RWMutex
}

// NewBaseTrack creates a new live base track. onStop, if set, runs once when
// the track is stopped and should release the underlying source.
func NewBaseTrack(id, label string, kind RTPCodecType, onStop func()) *BaseTrack {
	t := &BaseTrack{
		id:     id,
		label:  label,
		kind:   kind,
		onStop: onStop,
	}
	t.state.Store(int32(TrackStateLive))
	t.enabled.Store(true)
	return t
}

func (t *BaseTrack) ID() string         { return t.id }
func (t *BaseTrack) Kind() RTPCodecType { return t.kind }
func (t *BaseTrack) Label() string      { return t.label }

func (t *BaseTrack) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *BaseTrack) Enabled() bool     { return t.enabled.Load() }
func (t *BaseTrack) SetEnabled(e bool) { t.enabled.Store(e) }

// Stop implements MediaStreamTrack.
func (t *BaseTrack) Stop() {
	if TrackState(t.state.Swap(int32(TrackStateEnded))) == TrackStateEnded {
		return
	}
	if t.onStop != nil {
		t.onStop()
	}

	t.mu.RLock()
	cb := t.endedCb
	t.mu.RUnlock()
	if cb != nil {
		go cb()
	}
}

// Close implements io.Closer.
func (t *BaseTrack) Close() error {
	t.Stop()
	return nil
}

func (t *BaseTrack) OnEnded(callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endedCb = callback
}

// sinkList is a set of callbacks fed by one producer.
type sinkList[T any] struct {
	mu    sync.RWMutex
	next  int
	sinks map[int]func(T)
}

func (l *sinkList[T]) add(cb func(T)) func() {
	l.mu.Lock()
	if l.sinks == nil {
		l.sinks = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.sinks[id] = cb
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.sinks, id)
			l.mu.Unlock()
		})
	}
}

func (l *sinkList[T]) emit(v T) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, cb := range l.sinks {
		cb(v)
	}
}

func (l *sinkList[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sinks)
}

// SourceVideoTrack is a VideoTrack fed by a VideoSource.
type SourceVideoTrack struct {
	*BaseTrack
	source   VideoSource
	settings VideoTrackSettings
	sinks    sinkList[*VideoFrame]
}

// NewSourceVideoTrack wraps source in a live track. The source is expected
// to be started by the caller; stopping the track stops the source.
func NewSourceVideoTrack(id, label string, source VideoSource, settings VideoTrackSettings) *SourceVideoTrack {
	t := &SourceVideoTrack{source: source, settings: settings}
	t.BaseTrack = NewBaseTrack(id, label, RTPCodecTypeVideo, func() {
		source.SetCallback(nil)
		_ = source.Stop()
	})
	source.SetCallback(t.deliver)
	return t
}

func (t *SourceVideoTrack) deliver(frame *VideoFrame) {
	if t.State() != TrackStateLive || !t.Enabled() {
		return
	}
	t.sinks.emit(frame)
}

func (t *SourceVideoTrack) OnFrame(callback VideoFrameCallback) func() {
	return t.sinks.add(callback)
}

func (t *SourceVideoTrack) Settings() VideoTrackSettings { return t.settings }

// SourceAudioTrack is an AudioTrack fed by an AudioSource.
type SourceAudioTrack struct {
	*BaseTrack
	source   AudioSource
	settings AudioTrackSettings
	sinks    sinkList[*AudioSamples]
}

// NewSourceAudioTrack wraps source in a live track.
func NewSourceAudioTrack(id, label string, source AudioSource, settings AudioTrackSettings) *SourceAudioTrack {
	t := &SourceAudioTrack{source: source, settings: settings}
	t.BaseTrack = NewBaseTrack(id, label, RTPCodecTypeAudio, func() {
		source.SetCallback(nil)
		_ = source.Stop()
	})
	source.SetCallback(t.deliver)
	return t
}

func (t *SourceAudioTrack) deliver(samples *AudioSamples) {
	if t.State() != TrackStateLive || !t.Enabled() {
		return
	}
	t.sinks.emit(samples)
}

func (t *SourceAudioTrack) OnSamples(callback AudioSamplesCallback) func() {
	return t.sinks.add(callback)
}

func (t *SourceAudioTrack) Settings() AudioTrackSettings { return t.settings }

// SimpleMediaStream is a basic MediaStream implementation.
type SimpleMediaStream struct {
	id     string
	tracks []MediaStreamTrack
	mu     sync.RWMutex
}

// NewMediaStream creates a new media stream.
func NewMediaStream(id string) *SimpleMediaStream {
	return &SimpleMediaStream{
		id:     id,
		tracks: make([]MediaStreamTrack, 0),
	}
}

func (s *SimpleMediaStream) ID() string { return s.id }

func (s *SimpleMediaStream) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.State() == TrackStateLive {
			return true
		}
	}
	return false
}

func (s *SimpleMediaStream) GetTracks() []MediaStreamTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]MediaStreamTrack, len(s.tracks))
	copy(result, s.tracks)
	return result
}

func (s *SimpleMediaStream) GetVideoTracks() []VideoTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []VideoTrack
	for _, t := range s.tracks {
		if vt, ok := t.(VideoTrack); ok {
			result = append(result, vt)
		}
	}
	return result
}

func (s *SimpleMediaStream) GetAudioTracks() []AudioTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []AudioTrack
	for _, t := range s.tracks {
		if at, ok := t.(AudioTrack); ok {
			result = append(result, at)
		}
	}
	return result
}

func (s *SimpleMediaStream) GetTrackByID(id string) MediaStreamTrack {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

func (s *SimpleMediaStream) AddTrack(track MediaStreamTrack) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
}

func (s *SimpleMediaStream) RemoveTrack(track MediaStreamTrack) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tracks {
		if t.ID() == track.ID() {
			s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
			return true
		}
	}
	return false
}

// Close stops every track and empties the stream.
func (s *SimpleMediaStream) Close() error {
	s.mu.Lock()
	tracks := s.tracks
	s.tracks = nil
	s.mu.Unlock()

	var lastErr error
	for _, t := range tracks {
		if err := t.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// streamKinds reports which media kinds have a live track in stream.
func streamKinds(stream MediaStream) (video, audio bool) {
	for _, t := range stream.GetTracks() {
		if t.State() != TrackStateLive {
			continue
		}
		switch t.Kind() {
		case RTPCodecTypeVideo:
			video = true
		case RTPCodecTypeAudio:
			audio = true
		}
	}
	return video, audio
}

var trackCounter atomic.Uint64

func generateTrackID(kind RTPCodecType) string {
	return fmt.Sprintf("%s-%d", kind, trackCounter.Add(1))
}
