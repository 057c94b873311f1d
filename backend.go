package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
)

// ErrRecorderInit is returned when a recorder cannot be created or started.
var ErrRecorderInit = errors.New("recorder initialization failed")

// DefaultTimeslice is how often recorded bytes are delivered.
const DefaultTimeslice = 10 * time.Millisecond

// RecorderOptions configures a PlatformRecorder. An empty MimeType lets the
// backend choose.
type RecorderOptions struct {
	MimeType        string
	VideoBitrateBps int
	AudioBitrateBps int
}

// RecorderBackend is the platform capability that turns a stream into
// encoded container bytes.
type RecorderBackend interface {
	IsTypeSupported(mimeType string) bool
	NewRecorder(stream MediaStream, opts RecorderOptions) (PlatformRecorder, error)
}

// PlatformRecorder records one stream. Data is delivered through
// OnDataAvailable every timeslice; after Stop the remaining data is
// delivered and then OnStop fires exactly once. Callbacks must be set before
// Start.
type PlatformRecorder interface {
	Start(timeslice time.Duration) error
	Stop()
	MimeType() string
	OnDataAvailable(func(data []byte))
	OnStop(func())
	OnError(func(err error))
}

// ContainerBackend records into WebM or Ogg with the encoders of an
// EncoderSet.
type ContainerBackend struct {
	encoders *EncoderSet
	log      slog.Logger
}

// NewContainerBackend creates a backend. A nil set uses DefaultEncoderSet.
func NewContainerBackend(encoders *EncoderSet, log slog.Logger) *ContainerBackend {
	if encoders == nil {
		encoders = DefaultEncoderSet()
	}
	if log == nil {
		log = slog.Disabled
	}
	return &ContainerBackend{encoders: encoders, log: log}
}

// Encoders returns the set the backend encodes with.
func (b *ContainerBackend) Encoders() *EncoderSet { return b.encoders }

// IsTypeSupported reports whether mimeType can be recorded.
func (b *ContainerBackend) IsTypeSupported(mimeType string) bool {
	m, err := ParseMimeType(mimeType)
	if err != nil || len(m.Unknown) > 0 {
		return false
	}
	for _, c := range m.Video {
		if !b.encoders.HasVideo(c) {
			return false
		}
	}
	for _, c := range m.Audio {
		if !b.encoders.HasAudio(c) {
			return false
		}
	}

	switch m.Container {
	case ContainerWebM:
		if m.Media == "audio" && len(m.Video) > 0 {
			return false
		}
		if len(m.Video)+len(m.Audio) > 0 {
			return true
		}
		if m.Media == "video" {
			return len(b.encoders.VideoCodecs()) > 0
		}
		return len(b.encoders.AudioCodecs()) > 0
	case ContainerOgg:
		if m.Media != "audio" || len(m.Video) > 0 {
			return false
		}
		return b.encoders.HasAudio(AudioCodecOpus)
	default:
		return false
	}
}

// defaultMimeType picks the first supported built-in type for the kinds
// present in stream.
func (b *ContainerBackend) defaultMimeType(video bool) string {
	prefs := DefaultAudioMimeTypes
	if video {
		prefs = DefaultVideoMimeTypes
	}
	return Negotiate(prefs, b.IsTypeSupported, nil)
}

// recordPlan is what a recorder will encode.
type recordPlan struct {
	mimeType   string
	container  Container
	videoCodec VideoCodec
	audioCodec AudioCodec
	videoTrack VideoTrack
	audioTrack AudioTrack
}

func (b *ContainerBackend) plan(stream MediaStream, mimeType string) (recordPlan, error) {
	video, audio := streamKinds(stream)
	if !video && !audio {
		return recordPlan{}, fmt.Errorf("%w: stream has no live tracks", ErrRecorderInit)
	}
	if mimeType == "" {
		mimeType = b.defaultMimeType(video)
		if mimeType == "" {
			return recordPlan{}, fmt.Errorf("%w: no default recording type", ErrRecorderInit)
		}
	}
	if !b.IsTypeSupported(mimeType) {
		return recordPlan{}, fmt.Errorf("%w: %s is not supported", ErrRecorderInit, mimeType)
	}
	m, err := ParseMimeType(mimeType)
	if err != nil {
		return recordPlan{}, fmt.Errorf("%w: %v", ErrRecorderInit, err)
	}

	p := recordPlan{mimeType: mimeType, container: m.Container}

	if m.Media == "video" && video {
		switch {
		case len(m.Video) > 0:
			p.videoCodec = m.Video[0]
		default:
			if codecs := b.encoders.VideoCodecs(); len(codecs) > 0 {
				p.videoCodec = codecs[0]
			}
		}
		if p.videoCodec != VideoCodecUnknown {
			p.videoTrack = firstLiveVideo(stream)
		}
	}
	if audio {
		switch {
		case len(m.Audio) > 0:
			p.audioCodec = m.Audio[0]
		default:
			if codecs := b.encoders.AudioCodecs(); len(codecs) > 0 {
				p.audioCodec = codecs[0]
			}
		}
		if p.audioCodec != AudioCodecUnknown {
			p.audioTrack = firstLiveAudio(stream)
		}
	}
	if p.videoTrack == nil {
		p.videoCodec = VideoCodecUnknown
	}
	if p.audioTrack == nil {
		p.audioCodec = AudioCodecUnknown
	}
	if p.videoTrack == nil && p.audioTrack == nil {
		return recordPlan{}, fmt.Errorf("%w: %s cannot record any track of the stream",
			ErrRecorderInit, mimeType)
	}
	return p, nil
}

func firstLiveVideo(s MediaStream) VideoTrack {
	for _, t := range s.GetVideoTracks() {
		if t.State() == TrackStateLive {
			return t
		}
	}
	return nil
}

func firstLiveAudio(s MediaStream) AudioTrack {
	for _, t := range s.GetAudioTracks() {
		if t.State() == TrackStateLive {
			return t
		}
	}
	return nil
}

// NewRecorder creates a recorder for stream. An empty opts.MimeType picks
// the first supported default type for the stream.
func (b *ContainerBackend) NewRecorder(stream MediaStream, opts RecorderOptions) (PlatformRecorder, error) {
	if stream == nil {
		return nil, fmt.Errorf("%w: nil stream", ErrRecorderInit)
	}
	p, err := b.plan(stream, opts.MimeType)
	if err != nil {
		return nil, err
	}
	return &containerRecorder{
		backend: b,
		plan:    p,
		opts:    opts,
		log:     b.log,
		stopCh:  make(chan struct{}),
	}, nil
}

type timedFrame struct {
	frame *VideoFrame
	at    time.Time
}

type timedSamples struct {
	samples *AudioSamples
	at      time.Time
}

// containerRecorder encodes and muxes on one goroutine, so the encoders and
// the muxer are never used concurrently.
type containerRecorder struct {
	backend *ContainerBackend
	plan    recordPlan
	opts    RecorderOptions
	log     slog.Logger

	mu      sync.Mutex
	onData  func([]byte)
	onStop  func()
	onError func(error)
	started bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

func (r *containerRecorder) MimeType() string { return r.plan.mimeType }

func (r *containerRecorder) OnDataAvailable(f func([]byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onData = f
}

func (r *containerRecorder) OnStop(f func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStop = f
}

func (r *containerRecorder) OnError(f func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onError = f
}

// Stop asks the recorder to finish. It returns immediately; OnStop fires
// after the last data has been delivered.
func (r *containerRecorder) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Start creates the encoders and the muxer and begins recording.
func (r *containerRecorder) Start(timeslice time.Duration) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("%w: recorder already started", ErrRecorderInit)
	}
	r.started = true
	r.mu.Unlock()

	if timeslice <= 0 {
		timeslice = DefaultTimeslice
	}

	p := r.plan
	tracks := muxerTracks{videoCodec: p.videoCodec, audioCodec: p.audioCodec}

	var venc VideoEncoder
	var aenc AudioEncoder
	closeEncoders := func() {
		if venc != nil {
			_ = venc.Close()
		}
		if aenc != nil {
			_ = aenc.Close()
		}
	}

	if p.videoTrack != nil {
		s := p.videoTrack.Settings()
		cfg := DefaultVideoEncoderConfig(p.videoCodec, s.Width, s.Height)
		if s.FrameRate > 0 {
			cfg.FPS = s.FrameRate
		}
		if r.opts.VideoBitrateBps > 0 {
			cfg.BitrateBps = r.opts.VideoBitrateBps
		}
		var err error
		venc, err = r.backend.encoders.NewVideoEncoder(cfg)
		if err != nil {
			return fmt.Errorf("%w: %s encoder: %v", ErrRecorderInit, p.videoCodec, err)
		}
		tracks.width, tracks.height, tracks.fps = s.Width, s.Height, cfg.FPS
	}
	if p.audioTrack != nil {
		s := p.audioTrack.Settings()
		cfg := DefaultAudioEncoderConfig(p.audioCodec)
		if s.SampleRate > 0 {
			cfg.SampleRate = s.SampleRate
		}
		if s.ChannelCount > 0 {
			cfg.Channels = s.ChannelCount
		}
		if r.opts.AudioBitrateBps > 0 {
			cfg.BitrateBps = r.opts.AudioBitrateBps
		}
		var err error
		aenc, err = r.backend.encoders.NewAudioEncoder(cfg)
		if err != nil {
			closeEncoders()
			return fmt.Errorf("%w: %s encoder: %v", ErrRecorderInit, p.audioCodec, err)
		}
		tracks.sampleRate, tracks.channels = cfg.SampleRate, cfg.Channels
	}

	buf := &chunkBuffer{}
	mux, err := newContainerMuxer(p.container, buf, tracks)
	if err != nil {
		closeEncoders()
		return fmt.Errorf("%w: %v", ErrRecorderInit, err)
	}

	frames := make(chan timedFrame, 8)
	samples := make(chan timedSamples, 64)
	var removers []func()
	if p.videoTrack != nil {
		removers = append(removers, p.videoTrack.OnFrame(func(f *VideoFrame) {
			select {
			case frames <- timedFrame{f.Clone(), time.Now()}:
			default:
				r.log.Debugf("Recorder dropped a video frame")
			}
		}))
	}
	if p.audioTrack != nil {
		removers = append(removers, p.audioTrack.OnSamples(func(s *AudioSamples) {
			select {
			case samples <- timedSamples{s.Clone(), time.Now()}:
			default:
				r.log.Debugf("Recorder dropped an audio buffer")
			}
		}))
	}

	l := &recordLoop{
		r:        r,
		venc:     venc,
		aenc:     aenc,
		mux:      mux,
		buf:      buf,
		frames:   frames,
		samples:  samples,
		removers: removers,
		start:    time.Now(),
	}
	r.log.Infof("Recording %s (video %s, audio %s)", p.mimeType, p.videoCodec, p.audioCodec)
	go l.run(timeslice)
	return nil
}

func (r *containerRecorder) callbacks() (func([]byte), func(), func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onData, r.onStop, r.onError
}

type recordLoop struct {
	r        *containerRecorder
	venc     VideoEncoder
	aenc     AudioEncoder
	mux      containerMuxer
	buf      *chunkBuffer
	frames   chan timedFrame
	samples  chan timedSamples
	removers []func()

	start       time.Time
	videoOffset time.Duration
	audioOffset time.Duration
	haveVideo   bool
	haveAudio   bool
	failed      bool
}

func (l *recordLoop) run(timeslice time.Duration) {
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

	for {
		select {
		case tf := <-l.frames:
			l.video(tf)
		case ts := <-l.samples:
			l.audio(ts)
		case <-ticker.C:
			l.deliver(l.buf.Take())
		case <-l.r.stopCh:
			l.finish()
			return
		}
		if l.failed {
			l.finish()
			return
		}
	}
}

func (l *recordLoop) video(tf timedFrame) {
	if l.venc == nil || l.failed {
		return
	}
	if !l.haveVideo {
		l.videoOffset = tf.at.Sub(l.start)
		l.haveVideo = true
	}
	enc, err := l.venc.Encode(tf.frame)
	if err != nil {
		l.fail(fmt.Errorf("encode video: %w", err))
		return
	}
	if enc == nil {
		return
	}
	if err := l.mux.WriteVideo(enc, l.videoOffset+enc.Timestamp); err != nil {
		l.fail(fmt.Errorf("mux video: %w", err))
	}
}

func (l *recordLoop) audio(ts timedSamples) {
	if l.aenc == nil || l.failed {
		return
	}
	if !l.haveAudio {
		l.audioOffset = ts.at.Sub(l.start)
		l.haveAudio = true
	}
	packets, err := l.aenc.Encode(ts.samples)
	for _, p := range packets {
		if err := l.mux.WriteAudio(p, l.audioOffset+p.Timestamp); err != nil {
			l.fail(fmt.Errorf("mux audio: %w", err))
			return
		}
	}
	if err != nil {
		l.fail(fmt.Errorf("encode audio: %w", err))
	}
}

func (l *recordLoop) fail(err error) {
	l.failed = true
	l.r.log.Errorf("Recording failed: %v", err)
	if _, _, onError := l.r.callbacks(); onError != nil {
		onError(err)
	}
}

func (l *recordLoop) deliver(data []byte) {
	if onData, _, _ := l.r.callbacks(); onData != nil {
		onData(data)
	}
}

// finish detaches from the tracks, encodes what is queued, closes the
// container and delivers the tail before signalling stop.
func (l *recordLoop) finish() {
	for _, remove := range l.removers {
		remove()
	}
	if !l.failed {
	drain:
		for {
			select {
			case tf := <-l.frames:
				l.video(tf)
			case ts := <-l.samples:
				l.audio(ts)
			default:
				break drain
			}
		}
	}
	if err := l.mux.Close(); err != nil && !l.failed {
		l.fail(fmt.Errorf("close container: %w", err))
	}
	if l.venc != nil {
		_ = l.venc.Close()
	}
	if l.aenc != nil {
		_ = l.aenc.Close()
	}
	_ = l.buf.Close()

	if tail := l.buf.Take(); len(tail) > 0 {
		l.deliver(tail)
	}
	l.r.log.Debugf("Recorder for %s finished", l.r.plan.mimeType)
	if _, onStop, _ := l.r.callbacks(); onStop != nil {
		onStop()
	}
}
