package capture

import (
	"fmt"
	"strings"
)

// Preset is one of the fixed video resolutions a stream can be requested at.
type Preset int

const (
	PresetQVGA   Preset = iota // 320x240
	PresetVGA                  // 640x480
	PresetHD                   // 1280x720
	PresetFullHD               // 1920x1080
)

var presetSizes = [...]struct {
	name          string
	width, height int
}{
	PresetQVGA:   {"qvga", 320, 240},
	PresetVGA:    {"vga", 640, 480},
	PresetHD:     {"hd", 1280, 720},
	PresetFullHD: {"fullhd", 1920, 1080},
}

// Presets lists every preset from smallest to largest.
func Presets() []Preset {
	return []Preset{PresetQVGA, PresetVGA, PresetHD, PresetFullHD}
}

func (p Preset) valid() bool { return p >= PresetQVGA && p <= PresetFullHD }

// Width returns the exact width requested by the preset.
func (p Preset) Width() int {
	if !p.valid() {
		return 0
	}
	return presetSizes[p].width
}

// Height returns the exact height requested by the preset.
func (p Preset) Height() int {
	if !p.valid() {
		return 0
	}
	return presetSizes[p].height
}

func (p Preset) String() string {
	if !p.valid() {
		return "unknown"
	}
	return presetSizes[p].name
}

// ParsePreset accepts a preset name ("qvga", "vga", "hd", "fullhd") or its
// WIDTHxHEIGHT form.
func ParsePreset(s string) (Preset, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, p := range Presets() {
		if s == p.String() || s == fmt.Sprintf("%dx%d", p.Width(), p.Height()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown resolution preset %q", s)
}

// Constraints selects what Acquirer.Acquire opens: audio on/off and an
// optional video preset.
type Constraints struct {
	Audio bool
	Video *Preset

	// Optional device selection; empty picks the first device of the kind.
	AudioDeviceID string
	VideoDeviceID string
}

// VideoOnly returns constraints for a video-only request at preset.
func VideoOnly(p Preset) Constraints {
	return Constraints{Video: &p}
}

// AudioOnly returns constraints for an audio-only request.
func AudioOnly() Constraints {
	return Constraints{Audio: true}
}
