package capture

import (
	"bytes"
	"strings"
	"testing"

	"github.com/decred/slog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	set := func(types ...string) func(string) bool {
		m := make(map[string]bool)
		for _, ty := range types {
			m[ty] = true
		}
		return func(s string) bool { return m[s] }
	}

	tests := []struct {
		name      string
		prefs     []string
		supported func(string) bool
		want      string
	}{
		{"first supported wins", []string{"codecX", "codecY", "plain"}, set("codecY", "plain"), "codecY"},
		{"first entry", []string{"codecX", "codecY"}, set("codecX", "codecY"), "codecX"},
		{"none supported", []string{"codecX"}, set(), ""},
		{"empty list", nil, set("codecX"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Negotiate(tt.prefs, tt.supported, nil))
		})
	}
}

func TestNegotiate_WarnsOncePerRejectedEntry(t *testing.T) {
	supported := func(s string) bool { return s == "codecY" || s == "plain" }

	var buf bytes.Buffer
	log := slog.NewBackend(&buf).Logger("TEST")
	log.SetLevel(slog.LevelTrace)

	got := Negotiate([]string{"codecX", "codecW", "codecY", "plain"}, supported, log)
	require.Equal(t, "codecY", got)

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2, out)
	assert.Contains(t, lines[0], "[WRN]")
	assert.Contains(t, lines[0], "codecX")
	assert.Contains(t, lines[1], "[WRN]")
	assert.Contains(t, lines[1], "codecW")
	// Nothing is said about the chosen entry or the ones after it.
	assert.NotContains(t, out, "codecY")
	assert.NotContains(t, out, "plain")

	buf.Reset()
	assert.Equal(t, "", Negotiate([]string{"codecX", "codecW"}, func(string) bool { return false }, log))
	assert.Equal(t, 2, strings.Count(buf.String(), "[WRN]"))
}

func TestParseMimeType(t *testing.T) {
	tests := []struct {
		in        string
		media     string
		container Container
		video     []VideoCodec
		audio     []AudioCodec
		unknown   []string
	}{
		{"video/webm", "video", ContainerWebM, nil, nil, nil},
		{"video/webm;codecs=vp9", "video", ContainerWebM, []VideoCodec{VideoCodecVP9}, nil, nil},
		{"video/webm; codecs=\"vp8, opus\"", "video", ContainerWebM, []VideoCodec{VideoCodecVP8}, []AudioCodec{AudioCodecOpus}, nil},
		{"video/webm;codecs=vp09.00.10.08", "video", ContainerWebM, []VideoCodec{VideoCodecVP9}, nil, nil},
		{"audio/ogg;codecs=opus", "audio", ContainerOgg, nil, []AudioCodec{AudioCodecOpus}, nil},
		{"video/webm;codecs=h264", "video", ContainerWebM, nil, nil, []string{"h264"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := ParseMimeType(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.media, m.Media)
			assert.Equal(t, tt.container, m.Container)
			assert.Equal(t, tt.video, m.Video)
			assert.Equal(t, tt.audio, m.Audio)
			assert.Equal(t, tt.unknown, m.Unknown)
		})
	}

	for _, bad := range []string{"", "video/mpeg", "text/webm", "webm"} {
		_, err := ParseMimeType(bad)
		assert.Error(t, err, bad)
	}
}

func TestMimeType_String(t *testing.T) {
	m, err := ParseMimeType("video/webm;codecs=vp9,opus")
	require.NoError(t, err)
	assert.Equal(t, "video/webm;codecs=vp9,opus", m.String())
}

func TestProbeTypes(t *testing.T) {
	b := NewContainerBackend(fakeEncoderSet(true, VideoCodecVP8), nil)
	res := ProbeTypes([]string{"video/webm;codecs=vp8", "video/webm;codecs=vp9"}, b.IsTypeSupported)
	assert.Equal(t, []TypeSupport{
		{MimeType: "video/webm;codecs=vp8", Supported: true},
		{MimeType: "video/webm;codecs=vp9", Supported: false},
	}, res)
}
