package capture

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/decred/slog"
)

// ErrNoAudioTrack is returned when a volume meter is attached to a stream
// without an audio track.
var ErrNoAudioTrack = errors.New("stream has no audio track")

// DefaultVolumeInterval is how often a VolumeMeter publishes a reading.
const DefaultVolumeInterval = 200 * time.Millisecond

// levelScale maps the RMS value onto the progress bar scale used by the UI.
const levelScale = 348

// SoundMeter tracks the loudness of a stream of PCM buffers.
type SoundMeter struct {
	mu      sync.Mutex
	instant float64
	slow    float64
	clip    float64
}

// Process updates the meter with one buffer of samples.
func (m *SoundMeter) Process(s *AudioSamples) {
	n := s.Len()
	if n == 0 {
		return
	}
	var sum float64
	clipCount := 0
	for i := 0; i < n; i++ {
		v := s.Float(i)
		sum += v * v
		if math.Abs(v) > 0.99 {
			clipCount++
		}
	}

	m.mu.Lock()
	m.instant = math.Sqrt(sum / float64(n))
	m.slow = 0.95*m.slow + 0.05*m.instant
	m.clip = float64(clipCount) / float64(n)
	m.mu.Unlock()
}

// Instant is the RMS of the last buffer.
func (m *SoundMeter) Instant() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instant
}

// Slow is the smoothed RMS.
func (m *SoundMeter) Slow() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slow
}

// Clip is the fraction of the last buffer at full scale.
func (m *SoundMeter) Clip() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clip
}

// Reset zeroes the meter.
func (m *SoundMeter) Reset() {
	m.mu.Lock()
	m.instant, m.slow, m.clip = 0, 0, 0
	m.mu.Unlock()
}

// VolumeReading is one published meter value.
type VolumeReading struct {
	Level   float64   `json:"level"`
	Instant float64   `json:"instant"`
	Slow    float64   `json:"slow"`
	Clip    float64   `json:"clip"`
	At      time.Time `json:"at"`
}

// VolumeMeter samples a stream's audio track and publishes readings on a
// fixed interval.
type VolumeMeter struct {
	interval time.Duration
	log      slog.Logger
	meter    SoundMeter
	feed     *Feed[VolumeReading]

	mu     sync.Mutex
	stream MediaStream
	remove func()
	stop   chan struct{}
	wg     sync.WaitGroup
	last   VolumeReading
}

// NewVolumeMeter creates a meter. A zero interval uses DefaultVolumeInterval.
func NewVolumeMeter(interval time.Duration, log slog.Logger) *VolumeMeter {
	if interval <= 0 {
		interval = DefaultVolumeInterval
	}
	if log == nil {
		log = slog.Disabled
	}
	return &VolumeMeter{
		interval: interval,
		log:      log,
		feed:     NewFeed[VolumeReading](16),
	}
}

// Attach connects the meter to the first audio track of stream. Attaching the
// stream that is already attached does nothing; attaching another stream
// replaces the previous one.
func (v *VolumeMeter) Attach(stream MediaStream) error {
	if stream == nil {
		return ErrNoAudioTrack
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return ErrNoAudioTrack
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stream == stream {
		return nil
	}
	if v.remove != nil {
		v.remove()
	}
	v.meter.Reset()
	v.stream = stream
	v.remove = tracks[0].OnSamples(v.meter.Process)
	v.log.Debugf("Volume meter attached to track %s", tracks[0].ID())
	return nil
}

// Start attaches to stream and begins publishing readings. It is a no-op if
// the meter is already running.
func (v *VolumeMeter) Start(stream MediaStream) error {
	if err := v.Attach(stream); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.stop != nil {
		return nil
	}
	stop := make(chan struct{})
	v.stop = stop
	v.wg.Add(1)
	go v.run(stop)
	return nil
}

func (v *VolumeMeter) run(stop chan struct{}) {
	defer v.wg.Done()
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			r := v.reading(now)
			v.mu.Lock()
			v.last = r
			v.mu.Unlock()
			v.feed.Send(r)
		}
	}
}

func (v *VolumeMeter) reading(now time.Time) VolumeReading {
	instant := v.meter.Instant()
	return VolumeReading{
		Level:   instant*levelScale + 1,
		Instant: instant,
		Slow:    v.meter.Slow(),
		Clip:    v.meter.Clip(),
		At:      now,
	}
}

// Stop halts publishing. The meter stays attached. Calling Stop on a stopped
// meter is a no-op.
func (v *VolumeMeter) Stop() {
	v.mu.Lock()
	stop := v.stop
	v.stop = nil
	v.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	v.wg.Wait()
}

// Detach stops the meter and disconnects it from its track.
func (v *VolumeMeter) Detach() {
	v.Stop()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.remove != nil {
		v.remove()
		v.remove = nil
	}
	v.stream = nil
	v.meter.Reset()
}

// Running reports whether readings are being published.
func (v *VolumeMeter) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stop != nil
}

// Last returns the most recent published reading.
func (v *VolumeMeter) Last() VolumeReading {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.last
}

// Subscribe returns a subscription to published readings.
func (v *VolumeMeter) Subscribe() *Subscription[VolumeReading] {
	return v.feed.Subscribe()
}
