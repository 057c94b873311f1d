package capture

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T, backend RecorderBackend) (*Controller, *SyntheticProvider) {
	t.Helper()
	provider := NewSyntheticProvider()
	c := NewController(Config{
		Provider:       provider,
		Backend:        backend,
		VolumeInterval: 10 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c, provider
}

func TestController_Devices(t *testing.T) {
	c, _ := newTestController(t, newFakeBackend())
	devices, err := c.Devices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 3)
	assert.Len(t, c.Inventory().VideoInputs(), 1)
}

func TestController_NothingAcquired(t *testing.T) {
	c, _ := newTestController(t, newFakeBackend("video/webm"))
	ctx := context.Background()

	_, err := c.StartRecording(ctx)
	require.ErrorIs(t, err, ErrNoActiveStream)
	_, err = c.StartAudioRecording(ctx)
	require.ErrorIs(t, err, ErrNoActiveStream)
	_, err = c.Snapshot(ctx)
	require.ErrorIs(t, err, ErrNoActiveStream)
	require.ErrorIs(t, c.StartVolume(), ErrNoAudioTrack)
	assert.Nil(t, c.Recording())

	// Stopping with nothing held is harmless.
	c.StopVideo()
	c.StopAudio()
	c.StopVolume()
	s, err := c.StopRecording(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestController_RecordCameraAndMicrophone(t *testing.T) {
	backend := newFakeBackend("video/webm;codecs=vp8", "audio/webm;codecs=opus")
	c, _ := newTestController(t, backend)
	ctx := context.Background()

	_, err := c.StartVideo(ctx, PresetVGA)
	require.NoError(t, err)
	_, err = c.StartAudio(ctx)
	require.NoError(t, err)

	s, err := c.StartRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "video/webm;codecs=vp8", s.MimeType())
	assert.Same(t, s, c.Recording())

	backend.mu.Lock()
	opts := backend.opts[0]
	backend.mu.Unlock()
	assert.Equal(t, "video/webm;codecs=vp8", opts.MimeType)

	p := backend.last()
	p.emit([]byte("chunk"))

	stopped, err := c.StopRecording(ctx)
	require.NoError(t, err)
	assert.Same(t, s, stopped)
	assert.Equal(t, SessionStopped, s.State())
	assert.Equal(t, 5, s.Size())
}

func TestController_RecordingMergesKinds(t *testing.T) {
	c, _ := newTestController(t, newFakeBackend())
	ctx := context.Background()

	video, err := c.StartVideo(ctx, PresetQVGA)
	require.NoError(t, err)
	assert.Same(t, video, c.recordable(), "video alone is recorded as is")

	audio, err := c.StartAudio(ctx)
	require.NoError(t, err)
	merged := c.recordable()
	require.NotNil(t, merged)
	assert.Len(t, merged.GetVideoTracks(), 1)
	assert.Len(t, merged.GetAudioTracks(), 1)
	assert.Equal(t, audio.GetAudioTracks()[0].ID(), merged.GetAudioTracks()[0].ID())

	c.StopVideo()
	assert.Same(t, audio, c.recordable())
}

func TestController_RecordingSkipsVideoLeftOnSharedStream(t *testing.T) {
	c, _ := newTestController(t, newFakeBackend("video/webm;codecs=vp8", "audio/webm;codecs=opus"))
	ctx := context.Background()

	_, err := c.Acquirer().Acquire(ctx, Constraints{Audio: true, Video: ptr(PresetQVGA)})
	require.NoError(t, err)
	c.StopVideo()

	rec := c.recordable()
	require.NotNil(t, rec)
	assert.Empty(t, rec.GetVideoTracks())
	assert.Len(t, rec.GetAudioTracks(), 1)

	_, err = c.Snapshot(ctx)
	require.ErrorIs(t, err, ErrNoActiveStream)

	s, err := c.StartRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "audio/webm;codecs=opus", s.MimeType())
	_, err = c.StopRecording(ctx)
	require.NoError(t, err)
}

func TestController_AudioRecording(t *testing.T) {
	backend := newFakeBackend("video/webm;codecs=vp9", "audio/ogg;codecs=opus")
	c, _ := newTestController(t, backend)
	ctx := context.Background()

	_, err := c.StartVideo(ctx, PresetQVGA)
	require.NoError(t, err)
	_, err = c.StartAudio(ctx)
	require.NoError(t, err)

	s, err := c.StartAudioRecording(ctx)
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg;codecs=opus", s.MimeType())

	// Starting again replaces the session.
	next, err := c.StartRecording(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID(), next.ID())
	assert.Equal(t, SessionStopped, s.State())
	assert.Equal(t, "video/webm;codecs=vp9", next.MimeType())
}

func TestController_VolumeFollowsAudioRestart(t *testing.T) {
	c, _ := newTestController(t, newFakeBackend())
	ctx := context.Background()

	first, err := c.StartAudio(ctx)
	require.NoError(t, err)
	require.NoError(t, c.StartVolume())
	assert.True(t, c.Meter().Running())

	second, err := c.StartAudio(ctx)
	require.NoError(t, err)
	assert.True(t, c.Meter().Running())
	assert.Equal(t, TrackStateEnded, first.GetAudioTracks()[0].State())

	sub := c.Meter().Subscribe()
	defer sub.Unsubscribe()
	require.Eventually(t, func() bool {
		select {
		case r := <-sub.C():
			return r.Instant > 0
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, TrackStateLive, second.GetAudioTracks()[0].State())

	c.StopVolume()
	assert.False(t, c.Meter().Running())
	c.StopAudio()
	assert.Nil(t, c.Acquirer().AudioStream())
}

func TestController_Snapshot(t *testing.T) {
	c, _ := newTestController(t, newFakeBackend())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.StartVideo(ctx, PresetQVGA)
	require.NoError(t, err)
	img, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 320, 240), img.Bounds())
}

func TestController_PermissionDenied(t *testing.T) {
	c, provider := newTestController(t, newFakeBackend())
	provider.DenyPermission(true)

	_, err := c.StartVideo(context.Background(), PresetHD)
	require.ErrorIs(t, err, ErrPermissionDenied)
	_, err = c.StartAudio(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, c.Acquirer().Tracks())
}
