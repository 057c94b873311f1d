package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirer_PresetResolution(t *testing.T) {
	for _, p := range Presets() {
		t.Run(p.String(), func(t *testing.T) {
			a := NewAcquirer(NewSyntheticProvider(), nil)
			s, err := a.StartVideo(context.Background(), p)
			require.NoError(t, err)
			defer a.Stop()

			tracks := s.GetVideoTracks()
			require.Len(t, tracks, 1)
			assert.Equal(t, p.Width(), tracks[0].Settings().Width)
			assert.Equal(t, p.Height(), tracks[0].Settings().Height)
			assert.Empty(t, s.GetAudioTracks())
		})
	}
}

func TestAcquirer_UnsupportedResolution(t *testing.T) {
	provider := NewSyntheticProvider()
	provider.SetCameras(SyntheticCamera{ID: "cam", Label: "VGA only", Sizes: []Preset{PresetVGA}})
	a := NewAcquirer(provider, nil)

	s, err := a.StartVideo(context.Background(), PresetHD)
	require.ErrorIs(t, err, ErrConstraintNotSatisfied)
	assert.Nil(t, s)
	assert.Nil(t, a.VideoStream())
	assert.Empty(t, a.Tracks())

	_, err = a.StartVideo(context.Background(), Preset(42))
	require.ErrorIs(t, err, ErrConstraintNotSatisfied)
}

func TestAcquirer_PermissionDenied(t *testing.T) {
	provider := NewSyntheticProvider()
	provider.DenyPermission(true)
	a := NewAcquirer(provider, nil)

	_, err := a.StartAudio(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Nil(t, a.AudioStream())

	provider.DenyPermission(false)
	_, err = a.StartAudio(context.Background())
	require.NoError(t, err)
	a.Stop()
}

func TestAcquirer_Errors(t *testing.T) {
	_, err := NewAcquirer(nil, nil).StartAudio(context.Background())
	require.ErrorIs(t, err, ErrNoProvider)

	a := NewAcquirer(NewSyntheticProvider(), nil)
	_, err = a.Acquire(context.Background(), Constraints{})
	require.ErrorIs(t, err, ErrInvalidConstraints)

	_, err = a.Acquire(context.Background(), Constraints{Audio: true, AudioDeviceID: "nope"})
	require.ErrorIs(t, err, ErrNoDevice)

	empty := NewSyntheticProvider()
	empty.SetCameras()
	_, err = NewAcquirer(empty, nil).StartVideo(context.Background(), PresetVGA)
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestAcquirer_FailedAudioReleasesVideo(t *testing.T) {
	provider := NewSyntheticProvider()
	provider.SetMicrophones()
	a := NewAcquirer(provider, nil)

	_, err := a.Acquire(context.Background(), Constraints{Audio: true, Video: ptr(PresetVGA)})
	require.ErrorIs(t, err, ErrNoDevice)
	assert.Nil(t, a.VideoStream())
	assert.Nil(t, a.AudioStream())
}

func TestAcquirer_StopThenAcquire(t *testing.T) {
	provider := NewSyntheticProvider()
	a := NewAcquirer(provider, nil)
	ctx := context.Background()

	first, err := a.StartVideo(ctx, PresetQVGA)
	require.NoError(t, err)
	firstTrack := first.GetVideoTracks()[0]

	second, err := a.StartVideo(ctx, PresetVGA)
	require.NoError(t, err)
	defer a.Stop()

	assert.Equal(t, TrackStateEnded, firstTrack.State(), "old video track must be stopped")
	assert.False(t, a.IsCurrent(first))
	assert.True(t, a.IsCurrent(second))
	assert.Same(t, second, a.Stream(RTPCodecTypeVideo))

	c, ok := a.LastVideoConstraints()
	require.True(t, ok)
	assert.Equal(t, PresetVGA, *c.Video)

	// Audio is independent of video.
	audio, err := a.StartAudio(ctx)
	require.NoError(t, err)
	assert.Equal(t, TrackStateLive, second.GetVideoTracks()[0].State())
	assert.Len(t, a.Tracks(), 2)
	assert.Same(t, audio, a.AudioStream())
}

func TestAcquirer_StaleResultIsSuperseded(t *testing.T) {
	provider := NewSyntheticProvider()
	provider.SetOpenDelay(100 * time.Millisecond)
	a := NewAcquirer(provider, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := a.StartVideo(context.Background(), PresetVGA)
		errc <- err
	}()

	// Wait until the request is in flight, then stop video.
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.videoGen == 1
	}, time.Second, time.Millisecond)
	a.StopVideo()

	err := <-errc
	require.ErrorIs(t, err, ErrSuperseded)
	assert.Nil(t, a.VideoStream())
	video, _ := provider.Opened()
	assert.Equal(t, 1, video, "the stale track was opened and then stopped")
}

func TestAcquirer_NewerRequestWins(t *testing.T) {
	provider := NewSyntheticProvider()
	provider.SetOpenDelay(50 * time.Millisecond)
	a := NewAcquirer(provider, nil)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := a.StartVideo(ctx, PresetQVGA)
		errc <- err
	}()
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.videoGen == 1
	}, time.Second, time.Millisecond)

	s, err := a.StartVideo(ctx, PresetHD)
	require.NoError(t, err)
	defer a.Stop()
	require.ErrorIs(t, <-errc, ErrSuperseded)

	assert.Same(t, s, a.VideoStream())
	assert.Equal(t, PresetHD.Width(), a.VideoTracks()[0].Settings().Width)
}

func TestAcquirer_ContextCancel(t *testing.T) {
	provider := NewSyntheticProvider()
	provider.SetOpenDelay(time.Second)
	a := NewAcquirer(provider, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := a.StartAudio(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Nil(t, a.AudioStream())
}

func TestAcquirer_TrackAccessors(t *testing.T) {
	a := NewAcquirer(NewSyntheticProvider(), nil)

	// Nothing held: empty results, no errors.
	assert.Empty(t, a.Tracks())
	assert.Empty(t, a.VideoTracks())
	assert.Empty(t, a.AudioTracks())
	assert.Nil(t, a.TrackByID("x"))
	_, ok := a.RemoveVideoTrack()
	assert.False(t, ok)
	_, ok = a.RemoveAudioTrack()
	assert.False(t, ok)
	assert.False(t, a.RemoveTrack(nil))
	a.Stop()

	s, err := a.Acquire(context.Background(), Constraints{Audio: true, Video: ptr(PresetVGA)})
	require.NoError(t, err)
	defer a.Stop()
	assert.Same(t, s, a.VideoStream())
	assert.Same(t, s, a.AudioStream())
	require.Len(t, a.Tracks(), 2, "a combined stream is counted once")

	audio := a.AudioTracks()[0]
	assert.Same(t, audio, a.TrackByID(audio.ID()))

	removed, ok := a.RemoveAudioTrack()
	require.True(t, ok)
	assert.Equal(t, audio.ID(), removed.ID())
	assert.Empty(t, a.AudioTracks())
	assert.Nil(t, a.TrackByID(audio.ID()))
	// Removal does not stop the track.
	assert.Equal(t, TrackStateLive, removed.State())
	removed.Stop()

	video := a.VideoTracks()[0]
	assert.True(t, a.RemoveTrack(video))
	assert.False(t, a.RemoveTrack(video))
	video.Stop()
}

func TestAcquirer_StopEndsTracks(t *testing.T) {
	a := NewAcquirer(NewSyntheticProvider(), nil)
	s, err := a.Acquire(context.Background(), Constraints{Audio: true, Video: ptr(PresetQVGA)})
	require.NoError(t, err)

	a.StopAudio()
	assert.Nil(t, a.AudioStream())
	assert.Equal(t, TrackStateEnded, s.GetAudioTracks()[0].State())
	assert.Equal(t, TrackStateLive, s.GetVideoTracks()[0].State())

	a.StopVideo()
	a.StopVideo()
	assert.False(t, s.Active())
}

func TestAcquirer_SharedStreamReportsCurrentKindsOnly(t *testing.T) {
	ctx := context.Background()
	a := NewAcquirer(NewSyntheticProvider(), nil)
	defer a.Stop()

	combined, err := a.Acquire(ctx, Constraints{Audio: true, Video: ptr(PresetVGA)})
	require.NoError(t, err)
	old := combined.GetVideoTracks()[0]

	next, err := a.StartVideo(ctx, PresetVGA)
	require.NoError(t, err)
	assert.Equal(t, TrackStateEnded, old.State())
	assert.Same(t, combined, a.AudioStream())

	video := a.VideoTracks()
	require.Len(t, video, 1)
	assert.Equal(t, next.GetVideoTracks()[0].ID(), video[0].ID())
	assert.Equal(t, TrackStateLive, video[0].State())
	assert.Len(t, a.Tracks(), 2)
	assert.Nil(t, a.TrackByID(old.ID()))
	// The ended track is not removed through the audio handle.
	assert.False(t, a.RemoveTrack(old))

	removed, ok := a.RemoveVideoTrack()
	require.True(t, ok)
	assert.Equal(t, video[0].ID(), removed.ID())
	removed.Stop()
}

func TestAcquirer_StopVideoOnSharedStream(t *testing.T) {
	a := NewAcquirer(NewSyntheticProvider(), nil)
	defer a.Stop()

	_, err := a.Acquire(context.Background(), Constraints{Audio: true, Video: ptr(PresetVGA)})
	require.NoError(t, err)

	a.StopVideo()
	assert.Empty(t, a.VideoTracks())
	_, ok := a.RemoveVideoTrack()
	assert.False(t, ok)

	audio := a.AudioTracks()
	require.Len(t, audio, 1)
	assert.Equal(t, TrackStateLive, audio[0].State())
	tracks := a.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, RTPCodecTypeAudio, tracks[0].Kind())
}
