package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

var (
	// ErrInvalidConstraints is returned when neither audio nor video is requested.
	ErrInvalidConstraints = errors.New("constraints request neither audio nor video")

	// ErrSuperseded is returned by an acquisition that resolved after a newer
	// request (or a stop) for the same kind. Its tracks have been stopped.
	ErrSuperseded = errors.New("acquisition superseded by a newer request")
)

// Acquirer opens streams through a DeviceProvider and holds the current
// stream per media kind. Acquiring a kind that is already held stops the old
// tracks of that kind first.
type Acquirer struct {
	provider DeviceProvider
	log      slog.Logger

	mu        sync.Mutex
	video     MediaStream
	audio     MediaStream
	videoGen  uint64
	audioGen  uint64
	lastVideo Constraints
}

// NewAcquirer creates an acquirer over provider.
func NewAcquirer(provider DeviceProvider, log slog.Logger) *Acquirer {
	if log == nil {
		log = slog.Disabled
	}
	return &Acquirer{provider: provider, log: log}
}

// Acquire opens the requested kinds and makes the result current. The
// returned error wraps ErrPermissionDenied, ErrConstraintNotSatisfied,
// ErrNoDevice or ErrNoProvider; no handle of a failed kind is held afterwards.
func (a *Acquirer) Acquire(ctx context.Context, c Constraints) (MediaStream, error) {
	if !c.Audio && c.Video == nil {
		return nil, ErrInvalidConstraints
	}
	if a.provider == nil {
		return nil, ErrNoProvider
	}

	a.mu.Lock()
	var videoGen, audioGen uint64
	var old []MediaStream
	if c.Video != nil {
		a.videoGen++
		videoGen = a.videoGen
		if a.video != nil {
			old = append(old, a.video)
			a.video = nil
		}
	}
	if c.Audio {
		a.audioGen++
		audioGen = a.audioGen
		if a.audio != nil {
			old = append(old, a.audio)
			a.audio = nil
		}
	}
	a.mu.Unlock()

	// Stop-then-acquire: release the previous handles of the requested kinds
	// before opening devices again.
	for _, s := range old {
		stopKinds(s, c.Video != nil, c.Audio)
	}

	stream, err := a.open(ctx, c)

	a.mu.Lock()
	defer a.mu.Unlock()

	if (c.Video != nil && videoGen != a.videoGen) || (c.Audio && audioGen != a.audioGen) {
		if stream != nil {
			_ = stream.Close()
		}
		a.log.Debugf("Discarding stale acquisition result")
		return nil, ErrSuperseded
	}
	if err != nil {
		a.logError(c, err)
		return nil, err
	}

	if c.Video != nil {
		a.video = stream
		a.lastVideo = c
	}
	if c.Audio {
		a.audio = stream
	}
	a.log.Infof("Acquired stream %s (%d tracks)", stream.ID(), len(stream.GetTracks()))
	return stream, nil
}

// StartVideo acquires a video-only stream at preset.
func (a *Acquirer) StartVideo(ctx context.Context, p Preset) (MediaStream, error) {
	return a.Acquire(ctx, VideoOnly(p))
}

// StartAudio acquires an audio-only stream.
func (a *Acquirer) StartAudio(ctx context.Context) (MediaStream, error) {
	return a.Acquire(ctx, AudioOnly())
}

func (a *Acquirer) open(ctx context.Context, c Constraints) (MediaStream, error) {
	stream := NewMediaStream(uuid.NewString())

	if c.Video != nil {
		if !c.Video.valid() {
			return nil, fmt.Errorf("video preset %d: %w", *c.Video, ErrConstraintNotSatisfied)
		}
		deviceID, err := a.pickDevice(ctx, c.VideoDeviceID, a.provider.ListVideoDevices)
		if err != nil {
			return nil, fmt.Errorf("video: %w", err)
		}
		track, err := a.provider.OpenVideoDevice(ctx, deviceID, &VideoConstraints{
			DeviceID: deviceID,
			Width:    c.Video.Width(),
			Height:   c.Video.Height(),
		})
		if err != nil {
			return nil, fmt.Errorf("open video device %q: %w", deviceID, err)
		}
		stream.AddTrack(track)
	}

	if c.Audio {
		deviceID, err := a.pickDevice(ctx, c.AudioDeviceID, a.provider.ListAudioInputDevices)
		if err == nil {
			var track AudioTrack
			track, err = a.provider.OpenAudioDevice(ctx, deviceID, &AudioConstraints{DeviceID: deviceID})
			if err == nil {
				stream.AddTrack(track)
			} else {
				err = fmt.Errorf("open audio device %q: %w", deviceID, err)
			}
		} else {
			err = fmt.Errorf("audio: %w", err)
		}
		if err != nil {
			// Release the tracks opened so far.
			_ = stream.Close()
			return nil, err
		}
	}

	return stream, nil
}

func (a *Acquirer) pickDevice(ctx context.Context, want string, list func(context.Context) ([]DeviceInfo, error)) (string, error) {
	devices, err := list(ctx)
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", ErrNoDevice
	}
	if want == "" {
		return devices[0].DeviceID, nil
	}
	for _, d := range devices {
		if d.DeviceID == want {
			return want, nil
		}
	}
	return "", fmt.Errorf("%q: %w", want, ErrNoDevice)
}

func (a *Acquirer) logError(c Constraints, err error) {
	switch {
	case errors.Is(err, ErrConstraintNotSatisfied) && c.Video != nil:
		a.log.Errorf("Resolution %dx%d is not supported by the device: %v",
			c.Video.Width(), c.Video.Height(), err)
	case errors.Is(err, ErrPermissionDenied):
		a.log.Errorf("No permission to use the camera or microphone: %v", err)
	default:
		a.log.Errorf("Unable to acquire media stream: %v", err)
	}
}

// stopKinds stops the tracks of the selected kinds in s.
func stopKinds(s MediaStream, video, audio bool) {
	if video {
		for _, t := range s.GetVideoTracks() {
			t.Stop()
		}
	}
	if audio {
		for _, t := range s.GetAudioTracks() {
			t.Stop()
		}
	}
}

// StopVideo stops the current video tracks and forgets the video handle.
// A pending video acquisition will resolve as superseded.
func (a *Acquirer) StopVideo() {
	a.mu.Lock()
	s := a.video
	a.video = nil
	a.videoGen++
	a.mu.Unlock()
	if s != nil {
		stopKinds(s, true, false)
	}
}

// StopAudio stops the current audio tracks and forgets the audio handle.
func (a *Acquirer) StopAudio() {
	a.mu.Lock()
	s := a.audio
	a.audio = nil
	a.audioGen++
	a.mu.Unlock()
	if s != nil {
		stopKinds(s, false, true)
	}
}

// Stop stops every current track.
func (a *Acquirer) Stop() {
	a.StopVideo()
	a.StopAudio()
}

// VideoStream returns the current video handle, or nil.
func (a *Acquirer) VideoStream() MediaStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.video
}

// AudioStream returns the current audio handle, or nil.
func (a *Acquirer) AudioStream() MediaStream {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.audio
}

// IsCurrent reports whether s is still one of the held handles.
func (a *Acquirer) IsCurrent(s MediaStream) bool {
	if s == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return s == a.video || s == a.audio
}

// LastVideoConstraints returns the constraints of the current video handle.
func (a *Acquirer) LastVideoConstraints() (Constraints, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastVideo, a.video != nil
}

// handles returns the current video and audio handles. After a combined
// acquire they may be the same stream.
func (a *Acquirer) handles() (video, audio MediaStream) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.video, a.audio
}

// Tracks returns the video tracks of the video handle followed by the audio
// tracks of the audio handle.
func (a *Acquirer) Tracks() []MediaStreamTrack {
	var res []MediaStreamTrack
	for _, t := range a.VideoTracks() {
		res = append(res, t)
	}
	for _, t := range a.AudioTracks() {
		res = append(res, t)
	}
	return res
}

// VideoTracks returns the video tracks of the current video handle. Video
// tracks left on a shared stream that is now only the audio handle are not
// included.
func (a *Acquirer) VideoTracks() []VideoTrack {
	video, _ := a.handles()
	if video == nil {
		return nil
	}
	return video.GetVideoTracks()
}

// AudioTracks returns the audio tracks of the current audio handle.
func (a *Acquirer) AudioTracks() []AudioTrack {
	_, audio := a.handles()
	if audio == nil {
		return nil
	}
	return audio.GetAudioTracks()
}

// TrackByID finds a track of the held handles, or returns nil.
func (a *Acquirer) TrackByID(id string) MediaStreamTrack {
	for _, t := range a.Tracks() {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// RemoveTrack removes track from the handle that owns its kind. The track
// keeps running; callers stop it if they want it released.
func (a *Acquirer) RemoveTrack(track MediaStreamTrack) bool {
	if track == nil {
		return false
	}
	video, audio := a.handles()
	owner := audio
	if track.Kind() == RTPCodecTypeVideo {
		owner = video
	}
	if owner == nil {
		return false
	}
	return owner.RemoveTrack(track)
}

// RemoveVideoTrack removes the first video track of the held handles.
func (a *Acquirer) RemoveVideoTrack() (MediaStreamTrack, bool) {
	tracks := a.VideoTracks()
	if len(tracks) == 0 {
		return nil, false
	}
	return tracks[0], a.RemoveTrack(tracks[0])
}

// RemoveAudioTrack removes the first audio track of the held handles.
func (a *Acquirer) RemoveAudioTrack() (MediaStreamTrack, bool) {
	tracks := a.AudioTracks()
	if len(tracks) == 0 {
		return nil, false
	}
	return tracks[0], a.RemoveTrack(tracks[0])
}

// Stream returns the current handle for kind, or nil.
func (a *Acquirer) Stream(kind RTPCodecType) MediaStream {
	switch kind {
	case RTPCodecTypeVideo:
		return a.VideoStream()
	case RTPCodecTypeAudio:
		return a.AudioStream()
	default:
		return nil
	}
}
