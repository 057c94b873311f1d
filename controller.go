package capture

import (
	"context"
	"image"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// Config configures a Controller. Zero values pick defaults.
type Config struct {
	// Provider supplies devices. Nil uses PlatformProvider.
	Provider DeviceProvider

	// Backend records streams. Nil uses a ContainerBackend over the
	// built-in encoders.
	Backend RecorderBackend

	Log            slog.Logger
	Timeslice      time.Duration
	VolumeInterval time.Duration

	VideoMimeTypes []string
	AudioMimeTypes []string
}

// Controller ties the inventory, the acquirer, the volume meter and the
// recorder together the way the camera UI drives them.
type Controller struct {
	log       slog.Logger
	inventory *Inventory
	acquirer  *Acquirer
	meter     *VolumeMeter
	recorder  *Recorder
}

// NewController creates a controller.
func NewController(cfg Config) *Controller {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	provider := cfg.Provider
	if provider == nil {
		provider = PlatformProvider()
	}
	backend := cfg.Backend
	if backend == nil {
		backend = NewContainerBackend(nil, log)
	}
	return &Controller{
		log:       log,
		inventory: NewInventory(provider, log),
		acquirer:  NewAcquirer(provider, log),
		meter:     NewVolumeMeter(cfg.VolumeInterval, log),
		recorder: NewRecorder(RecorderConfig{
			Backend:        backend,
			Log:            log,
			Timeslice:      cfg.Timeslice,
			VideoMimeTypes: cfg.VideoMimeTypes,
			AudioMimeTypes: cfg.AudioMimeTypes,
		}),
	}
}

func (c *Controller) Inventory() *Inventory { return c.inventory }
func (c *Controller) Acquirer() *Acquirer   { return c.acquirer }
func (c *Controller) Meter() *VolumeMeter   { return c.meter }
func (c *Controller) Recorder() *Recorder   { return c.recorder }

// Devices refreshes and returns the device list.
func (c *Controller) Devices(ctx context.Context) ([]DeviceInfo, error) {
	return c.inventory.Refresh(ctx)
}

// StartVideo replaces the current video stream with one at preset.
func (c *Controller) StartVideo(ctx context.Context, p Preset) (MediaStream, error) {
	return c.acquirer.StartVideo(ctx, p)
}

// StopVideo stops the video tracks.
func (c *Controller) StopVideo() {
	c.acquirer.StopVideo()
}

// StartAudio replaces the current audio stream. A running volume meter is
// moved to the new stream.
func (c *Controller) StartAudio(ctx context.Context) (MediaStream, error) {
	running := c.meter.Running()
	if running {
		c.meter.Detach()
	}
	s, err := c.acquirer.StartAudio(ctx)
	if err != nil {
		return nil, err
	}
	if running {
		if err := c.meter.Start(s); err != nil {
			c.log.Warnf("Unable to restart volume meter: %v", err)
		}
	}
	return s, nil
}

// StartVolume starts the meter on the current audio stream.
func (c *Controller) StartVolume() error {
	s := c.acquirer.AudioStream()
	if s == nil {
		return ErrNoAudioTrack
	}
	return c.meter.Start(s)
}

// StopVolume stops publishing readings.
func (c *Controller) StopVolume() {
	c.meter.Stop()
}

// StopAudio stops the audio tracks and the volume meter.
func (c *Controller) StopAudio() {
	c.meter.Detach()
	c.acquirer.StopAudio()
}

// recordable returns a stream holding the live tracks of the current video
// and audio handles.
func (c *Controller) recordable() MediaStream {
	video, audio := c.acquirer.VideoStream(), c.acquirer.AudioStream()
	switch {
	case audio == nil || audio == video:
		return video
	case video == nil && len(audio.GetVideoTracks()) == 0:
		return audio
	}
	merged := NewMediaStream(uuid.NewString())
	for _, t := range c.acquirer.VideoTracks() {
		merged.AddTrack(t)
	}
	for _, t := range c.acquirer.AudioTracks() {
		merged.AddTrack(t)
	}
	return merged
}

// StartRecording records the current streams, negotiating a video type when
// a camera is live and an audio type otherwise.
func (c *Controller) StartRecording(ctx context.Context) (*Session, error) {
	s := c.recordable()
	if s == nil {
		return nil, ErrNoActiveStream
	}
	return c.recorder.Start(ctx, s)
}

// StartAudioRecording records only the current audio stream.
func (c *Controller) StartAudioRecording(ctx context.Context) (*Session, error) {
	s := c.acquirer.AudioStream()
	if s == nil {
		return nil, ErrNoActiveStream
	}
	audioOnly := NewMediaStream(uuid.NewString())
	for _, t := range s.GetAudioTracks() {
		audioOnly.AddTrack(t)
	}
	return c.recorder.StartType(ctx, audioOnly, c.recorder.Negotiate(c.recorder.AudioMimeTypes()))
}

// StopRecording stops the current session and waits for its last chunk.
func (c *Controller) StopRecording(ctx context.Context) (*Session, error) {
	return c.recorder.StopAndWait(ctx)
}

// Recording returns the current or last session.
func (c *Controller) Recording() *Session {
	return c.recorder.Session()
}

// Snapshot captures the next frame of the current video track.
func (c *Controller) Snapshot(ctx context.Context) (image.Image, error) {
	tracks := c.acquirer.VideoTracks()
	if len(tracks) == 0 {
		return nil, ErrNoActiveStream
	}
	return Snapshot(ctx, tracks[0])
}

// Close stops recording, metering and every track.
func (c *Controller) Close(ctx context.Context) error {
	err := c.recorder.Close(ctx)
	c.meter.Detach()
	c.acquirer.Stop()
	return err
}
