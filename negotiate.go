package capture

import "github.com/decred/slog"

// Preference lists tried by a Recorder, most wanted first.
var (
	DefaultVideoMimeTypes = []string{
		"video/webm;codecs=vp9",
		"video/webm;codecs=vp8",
		"video/webm",
	}
	DefaultAudioMimeTypes = []string{
		"audio/webm;codecs=opus",
		"audio/ogg;codecs=opus",
		"audio/webm",
	}
)

// Negotiate returns the first entry of prefs for which supported reports true,
// or "" to let the recorder pick its default. Each rejected entry is logged
// as a warning.
func Negotiate(prefs []string, supported func(string) bool, log slog.Logger) string {
	for _, p := range prefs {
		if supported(p) {
			return p
		}
		if log != nil {
			log.Warnf("%s is not supported", p)
		}
	}
	return ""
}

// TypeSupport is one ProbeTypes result.
type TypeSupport struct {
	MimeType  string `json:"mimeType"`
	Supported bool   `json:"supported"`
}

// ProbeTypes reports which of types the backend can record.
func ProbeTypes(types []string, supported func(string) bool) []TypeSupport {
	res := make([]TypeSupport, 0, len(types))
	for _, t := range types {
		res = append(res, TypeSupport{MimeType: t, Supported: supported(t)})
	}
	return res
}

// DiagnosticMimeTypes is the list the example UI probes at startup.
var DiagnosticMimeTypes = []string{
	"video/webm",
	"audio/webm",
	"video/webm;codecs=vp8",
	"video/webm;codecs=vp9",
	"video/webm;codecs=vp8,opus",
	"video/webm;codecs=vp9,opus",
	"audio/webm;codecs=opus",
	"audio/ogg;codecs=opus",
	"video/webm;codecs=h264",
	"video/mpeg",
}
