package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// ErrNoActiveStream is returned when recording is started without a live
// stream.
var ErrNoActiveStream = errors.New("no active stream to record")

// RecordingStopped is published when a session has flushed its last chunk.
type RecordingStopped struct {
	SessionID string `json:"sessionId"`
	MimeType  string `json:"mimeType"`
	Chunks    int    `json:"chunks"`
	Size      int    `json:"size"`
}

// RecordingFailed is published when a recording cannot start or breaks.
type RecordingFailed struct {
	SessionID string
	Err       error
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Backend   RecorderBackend
	Log       slog.Logger
	Timeslice time.Duration

	// Preference lists for negotiation; nil uses the defaults.
	VideoMimeTypes []string
	AudioMimeTypes []string
}

// Recorder runs recording sessions over a RecorderBackend, one at a time.
type Recorder struct {
	cfg     RecorderConfig
	log     slog.Logger
	stopped *Feed[RecordingStopped]
	failed  *Feed[RecordingFailed]

	// startMu serializes StartType so that stop, create and install of a
	// session happen as one step.
	startMu sync.Mutex

	mu            sync.Mutex
	session       *Session
	platform      PlatformRecorder
	stopRequested bool
}

// NewRecorder creates a recorder.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = DefaultTimeslice
	}
	if cfg.VideoMimeTypes == nil {
		cfg.VideoMimeTypes = DefaultVideoMimeTypes
	}
	if cfg.AudioMimeTypes == nil {
		cfg.AudioMimeTypes = DefaultAudioMimeTypes
	}
	return &Recorder{
		cfg:     cfg,
		log:     cfg.Log,
		stopped: NewFeed[RecordingStopped](4),
		failed:  NewFeed[RecordingFailed](4),
	}
}

// Start negotiates a type for stream and begins a new session. The
// preference list is the video one when the stream has a live video track,
// otherwise the audio one.
func (r *Recorder) Start(ctx context.Context, stream MediaStream) (*Session, error) {
	if stream == nil {
		return nil, ErrNoActiveStream
	}
	video, audio := streamKinds(stream)
	if !video && !audio {
		return nil, ErrNoActiveStream
	}
	prefs := r.AudioMimeTypes()
	if video {
		prefs = r.VideoMimeTypes()
	}
	return r.StartType(ctx, stream, r.Negotiate(prefs))
}

// Negotiate picks the first type of prefs the backend supports, or "".
func (r *Recorder) Negotiate(prefs []string) string {
	if r.cfg.Backend == nil {
		return ""
	}
	return Negotiate(prefs, r.cfg.Backend.IsTypeSupported, r.log)
}

// VideoMimeTypes returns the preference list used for streams with video.
func (r *Recorder) VideoMimeTypes() []string {
	return append([]string(nil), r.cfg.VideoMimeTypes...)
}

// AudioMimeTypes returns the preference list used for audio-only streams.
func (r *Recorder) AudioMimeTypes() []string {
	return append([]string(nil), r.cfg.AudioMimeTypes...)
}

// StartType begins a new session recording stream as mimeType. An empty
// mimeType lets the backend use its default. A session that is still
// recording is stopped first.
func (r *Recorder) StartType(ctx context.Context, stream MediaStream, mimeType string) (*Session, error) {
	if stream == nil || !stream.Active() {
		return nil, ErrNoActiveStream
	}
	if r.cfg.Backend == nil {
		return nil, fmt.Errorf("%w: no recorder backend", ErrRecorderInit)
	}

	r.startMu.Lock()
	defer r.startMu.Unlock()

	if _, err := r.StopAndWait(ctx); err != nil {
		return nil, err
	}

	platform, err := r.cfg.Backend.NewRecorder(stream, RecorderOptions{MimeType: mimeType})
	if err != nil {
		return nil, r.startFailed(err)
	}

	s := newSession(uuid.NewString(), platform.MimeType())
	platform.OnDataAvailable(func(data []byte) {
		if s.appendChunk(data) {
			r.log.Tracef("Session %s: chunk of %d bytes", s.ID(), len(data))
		}
	})
	platform.OnError(func(err error) {
		s.setErr(err)
		r.log.Errorf("Session %s: %v", s.ID(), err)
		r.failed.Send(RecordingFailed{SessionID: s.ID(), Err: err})
	})
	platform.OnStop(func() { r.finished(s) })

	if err := platform.Start(r.cfg.Timeslice); err != nil {
		return nil, r.startFailed(err)
	}

	r.mu.Lock()
	r.session = s
	r.platform = platform
	r.stopRequested = false
	r.mu.Unlock()

	r.log.Infof("Recording session %s started as %q", s.ID(), s.MimeType())
	return s, nil
}

func (r *Recorder) startFailed(err error) error {
	if !errors.Is(err, ErrRecorderInit) {
		err = fmt.Errorf("%w: %v", ErrRecorderInit, err)
	}
	r.log.Errorf("Unable to start recording: %v", err)
	r.failed.Send(RecordingFailed{Err: err})
	return err
}

func (r *Recorder) finished(s *Session) {
	if !s.finish() {
		return
	}
	r.mu.Lock()
	if r.session == s {
		r.platform = nil
		r.stopRequested = false
	}
	r.mu.Unlock()

	ev := RecordingStopped{
		SessionID: s.ID(),
		MimeType:  s.MimeType(),
		Chunks:    len(s.Chunks()),
		Size:      s.Size(),
	}
	r.log.Infof("Recording session %s stopped: %d chunks, %d bytes", ev.SessionID, ev.Chunks, ev.Size)
	r.stopped.Send(ev)
}

// Stop asks the current session to stop. It does nothing unless a session
// is recording, and nothing if a stop is already pending. The session moves
// to stopped once the backend has flushed.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil || r.platform == nil || r.stopRequested {
		return
	}
	if r.session.State() != SessionRecording {
		return
	}
	r.stopRequested = true
	r.platform.Stop()
}

// StopAndWait stops the current session and waits for it to finish. It
// returns the last session, or nil if there has been none.
func (r *Recorder) StopAndWait(ctx context.Context) (*Session, error) {
	r.Stop()
	s := r.Session()
	if s == nil {
		return nil, nil
	}
	select {
	case <-s.Done():
		return s, nil
	case <-ctx.Done():
		return s, ctx.Err()
	}
}

// Session returns the current or most recent session, or nil.
func (r *Recorder) Session() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// State returns the state of the current session, idle if there is none.
func (r *Recorder) State() SessionState {
	s := r.Session()
	if s == nil {
		return SessionIdle
	}
	return s.State()
}

// SubscribeStopped subscribes to completed sessions.
func (r *Recorder) SubscribeStopped() *Subscription[RecordingStopped] {
	return r.stopped.Subscribe()
}

// SubscribeFailed subscribes to recording failures.
func (r *Recorder) SubscribeFailed() *Subscription[RecordingFailed] {
	return r.failed.Subscribe()
}

// Close stops any session and ends all subscriptions.
func (r *Recorder) Close(ctx context.Context) error {
	_, err := r.StopAndWait(ctx)
	r.stopped.Close()
	r.failed.Close()
	return err
}
