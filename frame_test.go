package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoFrame_Clone(t *testing.T) {
	f := i420Frame(4, 4, 1, 2, 3)
	f.Timestamp = 42

	c := f.Clone()
	require.Equal(t, f, c)

	c.Data[0][0] = 99
	c.Stride[0] = 8
	assert.Equal(t, byte(1), f.Data[0][0], "clone must not share plane memory")
	assert.Equal(t, 4, f.Stride[0])
}

func TestI420Size(t *testing.T) {
	assert.Equal(t, 320*240*3/2, I420Size(320, 240))
	assert.Equal(t, 1920*1080*3/2, I420Size(1920, 1080))
}

func TestAudioSamples_Conversions(t *testing.T) {
	s := s16Samples(16384, -32768, 0)
	assert.Equal(t, 3, s.Len())
	assert.InDelta(t, 0.5, s.Float(0), 1e-9)
	assert.InDelta(t, -1, s.Float(1), 1e-9)
	assert.Equal(t, []int16{16384, -32768, 0}, s.Int16(nil))

	f := f32Samples(0.5, 2, -2)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []int16{16383, 32767, -32767}, f.Int16(nil))

	clone := s.Clone()
	clone.Data[0] = 0xff
	assert.NotEqual(t, clone.Data[0], s.Data[0])

	assert.Zero(t, (&AudioSamples{Format: AudioFormat(9), Data: []byte{1, 2}}).Len())
}

func TestFormatStrings(t *testing.T) {
	assert.Equal(t, "I420", PixelFormatI420.String())
	assert.Equal(t, "NV12", PixelFormatNV12.String())
	assert.Equal(t, "S16", AudioFormatS16.String())
	assert.Equal(t, "F32", AudioFormatF32.String())
	assert.Equal(t, "Key", FrameTypeKey.String())
	assert.True(t, (&EncodedFrame{FrameType: FrameTypeKey}).IsKeyframe())
	assert.False(t, (&EncodedFrame{FrameType: FrameTypeDelta}).IsKeyframe())
}
