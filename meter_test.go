package capture

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func s16Samples(values ...int16) *AudioSamples {
	data := make([]byte, 2*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return &AudioSamples{
		Data:        data,
		SampleRate:  48000,
		Channels:    1,
		SampleCount: len(values),
		Format:      AudioFormatS16,
	}
}

func f32Samples(values ...float32) *AudioSamples {
	data := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(v))
	}
	return &AudioSamples{
		Data:        data,
		SampleRate:  48000,
		Channels:    1,
		SampleCount: len(values),
		Format:      AudioFormatF32,
	}
}

func TestSoundMeter_Process(t *testing.T) {
	var m SoundMeter
	m.Process(s16Samples(16384, -16384, 16384, -16384))
	assert.InDelta(t, 0.5, m.Instant(), 1e-9)
	assert.InDelta(t, 0.025, m.Slow(), 1e-9)
	assert.Zero(t, m.Clip())

	m.Process(s16Samples(16384, -16384))
	assert.InDelta(t, 0.95*0.025+0.05*0.5, m.Slow(), 1e-9)

	m.Process(s16Samples(32767, 0, -32768, 0))
	assert.InDelta(t, 0.5, m.Clip(), 1e-9)

	m.Reset()
	assert.Zero(t, m.Instant())
	assert.Zero(t, m.Slow())
}

func TestSoundMeter_Float32(t *testing.T) {
	var m SoundMeter
	m.Process(f32Samples(0.25, -0.25))
	assert.InDelta(t, 0.25, m.Instant(), 1e-6)
}

func TestSoundMeter_EmptyBufferIgnored(t *testing.T) {
	var m SoundMeter
	m.Process(s16Samples(16384))
	m.Process(&AudioSamples{Format: AudioFormatS16})
	assert.InDelta(t, 0.5, m.Instant(), 1e-9)
}

func TestVolumeMeter_LevelFormula(t *testing.T) {
	tests := []struct {
		instant float64
		want    float64
	}{
		{0, 1},
		{0.5, 175},
		{1, 349},
	}
	for _, tt := range tests {
		v := NewVolumeMeter(0, nil)
		v.meter.instant = tt.instant
		r := v.reading(time.Now())
		assert.InDelta(t, tt.want, r.Level, 1e-9)
		assert.Equal(t, tt.instant, r.Instant)
	}
}

func TestVolumeMeter_NoAudioTrack(t *testing.T) {
	v := NewVolumeMeter(0, nil)
	require.ErrorIs(t, v.Start(nil), ErrNoAudioTrack)
	require.ErrorIs(t, v.Start(idleVideoStream()), ErrNoAudioTrack)
	assert.False(t, v.Running())
}

func TestVolumeMeter_PublishesReadings(t *testing.T) {
	stream := syntheticStream(t, AudioOnly())
	v := NewVolumeMeter(20*time.Millisecond, nil)
	sub := v.Subscribe()
	defer sub.Unsubscribe()

	require.NoError(t, v.Start(stream))
	require.NoError(t, v.Start(stream), "second start is a no-op")
	assert.True(t, v.Running())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-sub.C():
			if r.Instant == 0 {
				continue
			}
			// A 0.3 amplitude sine has an RMS near 0.212.
			assert.InDelta(t, 0.3/math.Sqrt2, r.Instant, 0.02)
			assert.InDelta(t, r.Instant*348+1, r.Level, 1e-9)
			v.Stop()
			v.Stop()
			assert.False(t, v.Running())
			v.Detach()
			return
		case <-deadline:
			t.Fatal("no non-zero reading")
		}
	}
}

func TestVolumeMeter_StopWithoutStart(t *testing.T) {
	v := NewVolumeMeter(0, nil)
	v.Stop()
	v.Detach()
	assert.False(t, v.Running())
}

func TestVolumeMeter_AttachReplacesStream(t *testing.T) {
	a, b := idleAudioStream(), idleAudioStream()
	v := NewVolumeMeter(0, nil)
	require.NoError(t, v.Attach(a))
	require.NoError(t, v.Attach(a))

	track := a.GetAudioTracks()[0].(*SourceAudioTrack)
	assert.Equal(t, 1, track.sinks.len())

	require.NoError(t, v.Attach(b))
	assert.Equal(t, 0, track.sinks.len())
	v.Detach()
}
