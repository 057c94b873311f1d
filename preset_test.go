package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreset_Sizes(t *testing.T) {
	tests := []struct {
		preset        Preset
		name          string
		width, height int
	}{
		{PresetQVGA, "qvga", 320, 240},
		{PresetVGA, "vga", 640, 480},
		{PresetHD, "hd", 1280, 720},
		{PresetFullHD, "fullhd", 1920, 1080},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.preset.String())
			assert.Equal(t, tt.width, tt.preset.Width())
			assert.Equal(t, tt.height, tt.preset.Height())
		})
	}

	bad := Preset(-1)
	assert.Equal(t, "unknown", bad.String())
	assert.Zero(t, bad.Width())
	assert.Zero(t, bad.Height())
}

func TestParsePreset(t *testing.T) {
	for in, want := range map[string]Preset{
		"qvga":      PresetQVGA,
		" VGA ":     PresetVGA,
		"1280x720":  PresetHD,
		"FullHD":    PresetFullHD,
		"1920x1080": PresetFullHD,
	} {
		got, err := ParsePreset(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "4k", "800x600"} {
		_, err := ParsePreset(in)
		assert.Error(t, err, in)
	}
}

func TestConstraintsHelpers(t *testing.T) {
	c := VideoOnly(PresetHD)
	require.NotNil(t, c.Video)
	assert.Equal(t, PresetHD, *c.Video)
	assert.False(t, c.Audio)

	c = AudioOnly()
	assert.True(t, c.Audio)
	assert.Nil(t, c.Video)
}
