package capture

import (
	"fmt"
	"mime"
	"strings"

	"github.com/pion/webrtc/v4"
)

// VideoCodec identifies the video codec type.
type VideoCodec int

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecVP8
	VideoCodecVP9
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecVP8:
		return "VP8"
	case VideoCodecVP9:
		return "VP9"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP MIME type for this codec.
func (c VideoCodec) MimeType() string {
	switch c {
	case VideoCodecVP8:
		return webrtc.MimeTypeVP8
	case VideoCodecVP9:
		return webrtc.MimeTypeVP9
	default:
		return ""
	}
}

// WebMCodecID returns the Matroska codec id.
func (c VideoCodec) WebMCodecID() string {
	switch c {
	case VideoCodecVP8:
		return "V_VP8"
	case VideoCodecVP9:
		return "V_VP9"
	default:
		return ""
	}
}

// AudioCodec identifies the audio codec type.
type AudioCodec int

const (
	AudioCodecUnknown AudioCodec = iota
	AudioCodecOpus
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "Opus"
	default:
		return "Unknown"
	}
}

// MimeType returns the RTP MIME type for this codec.
func (c AudioCodec) MimeType() string {
	switch c {
	case AudioCodecOpus:
		return webrtc.MimeTypeOpus
	default:
		return ""
	}
}

// WebMCodecID returns the Matroska codec id.
func (c AudioCodec) WebMCodecID() string {
	switch c {
	case AudioCodecOpus:
		return "A_OPUS"
	default:
		return ""
	}
}

// ClockRate returns the sample clock of this codec.
func (c AudioCodec) ClockRate() uint32 {
	return 48000
}

// Container identifies a recording container format.
type Container int

const (
	ContainerUnknown Container = iota
	ContainerWebM
	ContainerOgg
)

func (c Container) String() string {
	switch c {
	case ContainerWebM:
		return "webm"
	case ContainerOgg:
		return "ogg"
	default:
		return "unknown"
	}
}

// MimeType describes a parsed container MIME type such as
// "video/webm;codecs=vp9,opus".
type MimeType struct {
	Media     string // "video" or "audio"
	Container Container
	Video     []VideoCodec
	Audio     []AudioCodec
	// Unknown holds codec names that map to no supported codec.
	Unknown []string
}

// ParseMimeType parses s. Unknown containers are an error; unknown codecs are
// collected in Unknown so callers can reject them.
func ParseMimeType(s string) (MimeType, error) {
	mediaType, params, err := mime.ParseMediaType(s)
	if err != nil {
		return MimeType{}, fmt.Errorf("parse mime type %q: %w", s, err)
	}
	media, sub, ok := strings.Cut(mediaType, "/")
	if !ok {
		return MimeType{}, fmt.Errorf("parse mime type %q: missing subtype", s)
	}

	var m MimeType
	switch media {
	case "video", "audio":
		m.Media = media
	default:
		return MimeType{}, fmt.Errorf("mime type %q: unsupported media %q", s, media)
	}
	switch sub {
	case "webm":
		m.Container = ContainerWebM
	case "ogg":
		m.Container = ContainerOgg
	default:
		return MimeType{}, fmt.Errorf("mime type %q: unsupported container %q", s, sub)
	}

	codecs := params["codecs"]
	if codecs == "" {
		return m, nil
	}
	for _, name := range strings.Split(codecs, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case name == "vp8" || strings.HasPrefix(name, "vp8."):
			m.Video = append(m.Video, VideoCodecVP8)
		case name == "vp9" || strings.HasPrefix(name, "vp9.") || strings.HasPrefix(name, "vp09."):
			m.Video = append(m.Video, VideoCodecVP9)
		case name == "opus":
			m.Audio = append(m.Audio, AudioCodecOpus)
		case name != "":
			m.Unknown = append(m.Unknown, name)
		}
	}
	return m, nil
}

// String formats m back into a MIME type.
func (m MimeType) String() string {
	var b strings.Builder
	b.WriteString(m.Media)
	b.WriteByte('/')
	b.WriteString(m.Container.String())
	var codecs []string
	for _, c := range m.Video {
		codecs = append(codecs, strings.ToLower(c.String()))
	}
	for _, c := range m.Audio {
		codecs = append(codecs, strings.ToLower(c.String()))
	}
	codecs = append(codecs, m.Unknown...)
	if len(codecs) > 0 {
		b.WriteString(";codecs=")
		b.WriteString(strings.Join(codecs, ","))
	}
	return b.String()
}
