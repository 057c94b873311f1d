package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/slog"
)

// Acquisition errors. Providers return (or wrap) these so callers can tell a
// refused permission from an unsupported resolution with errors.Is.
var (
	ErrNoProvider             = errors.New("no device provider configured")
	ErrNoDevice               = errors.New("requested device not found")
	ErrPermissionDenied       = errors.New("permission to use camera or microphone denied")
	ErrConstraintNotSatisfied = errors.New("constraints cannot be satisfied by any device")
)

// DeviceKind represents the type of media device.
type DeviceKind int

const (
	DeviceKindVideoInput  DeviceKind = iota // Camera
	DeviceKindAudioInput                    // Microphone
	DeviceKindAudioOutput                   // Speaker/headphones
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindVideoInput:
		return "videoinput"
	case DeviceKindAudioInput:
		return "audioinput"
	case DeviceKindAudioOutput:
		return "audiooutput"
	default:
		return "unknown"
	}
}

// ParseDeviceKind is the inverse of DeviceKind.String.
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch s {
	case "videoinput":
		return DeviceKindVideoInput, nil
	case "audioinput":
		return DeviceKindAudioInput, nil
	case "audiooutput":
		return DeviceKindAudioOutput, nil
	default:
		return 0, fmt.Errorf("unknown device kind %q", s)
	}
}

// DeviceInfo describes a media device (like browser's MediaDeviceInfo).
type DeviceInfo struct {
	DeviceID string     // Unique identifier for the device
	GroupID  string     // Group identifier (devices with same groupID belong together)
	Kind     DeviceKind // Device type
	Label    string     // Human-readable device name
}

// VideoConstraints describes a video request passed to a provider. Width and
// Height are exact: a device that cannot deliver them must fail with
// ErrConstraintNotSatisfied.
type VideoConstraints struct {
	DeviceID  string
	Width     int
	Height    int
	FrameRate int // 0 = device default
}

// AudioConstraints describes an audio request passed to a provider.
type AudioConstraints struct {
	DeviceID     string
	SampleRate   int // 0 = device default
	ChannelCount int // 0 = device default
}

// DeviceProvider is implemented by platform-specific device implementations.
type DeviceProvider interface {
	// ListVideoDevices returns available video input devices.
	ListVideoDevices(ctx context.Context) ([]DeviceInfo, error)

	// ListAudioInputDevices returns available audio input devices.
	ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error)

	// ListAudioOutputDevices returns available audio output devices.
	ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error)

	// OpenVideoDevice opens a video input device.
	OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error)

	// OpenAudioDevice opens an audio input device.
	OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error)
}

// Inventory holds the last snapshot of devices reported by a provider.
// A refresh replaces the snapshot wholesale.
type Inventory struct {
	provider DeviceProvider
	log      slog.Logger

	mu             sync.RWMutex
	devices        []DeviceInfo
	deviceChangeCb func()
}

// NewInventory creates an inventory over provider. The snapshot is empty until
// the first Refresh.
func NewInventory(provider DeviceProvider, log slog.Logger) *Inventory {
	if log == nil {
		log = slog.Disabled
	}
	return &Inventory{provider: provider, log: log}
}

// Refresh queries the provider for every device kind. A kind whose listing
// fails is logged and skipped; if every listing fails the previous snapshot
// is kept and the last error is returned.
func (inv *Inventory) Refresh(ctx context.Context) ([]DeviceInfo, error) {
	if inv.provider == nil {
		return nil, ErrNoProvider
	}

	listers := []struct {
		kind DeviceKind
		list func(context.Context) ([]DeviceInfo, error)
	}{
		{DeviceKindVideoInput, inv.provider.ListVideoDevices},
		{DeviceKindAudioInput, inv.provider.ListAudioInputDevices},
		{DeviceKindAudioOutput, inv.provider.ListAudioOutputDevices},
	}

	devices := make([]DeviceInfo, 0)
	var lastErr error
	failed := 0
	for _, l := range listers {
		list, err := l.list(ctx)
		if err != nil {
			inv.log.Warnf("Unable to list %s devices: %v", l.kind, err)
			lastErr = err
			failed++
			continue
		}
		devices = append(devices, list...)
	}
	if failed == len(listers) {
		return nil, fmt.Errorf("enumerate devices: %w", lastErr)
	}

	inv.mu.Lock()
	inv.devices = devices
	inv.mu.Unlock()

	inv.log.Debugf("Enumerated %d devices", len(devices))
	return inv.Devices(), nil
}

// Devices returns a copy of the last snapshot.
func (inv *Inventory) Devices() []DeviceInfo {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	res := make([]DeviceInfo, len(inv.devices))
	copy(res, inv.devices)
	return res
}

// ByKind returns the devices of one kind from the last snapshot.
func (inv *Inventory) ByKind(kind DeviceKind) []DeviceInfo {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	var res []DeviceInfo
	for _, d := range inv.devices {
		if d.Kind == kind {
			res = append(res, d)
		}
	}
	return res
}

// VideoInputs returns the cameras from the last snapshot.
func (inv *Inventory) VideoInputs() []DeviceInfo { return inv.ByKind(DeviceKindVideoInput) }

// AudioInputs returns the microphones from the last snapshot.
func (inv *Inventory) AudioInputs() []DeviceInfo { return inv.ByKind(DeviceKindAudioInput) }

// AudioOutputs returns the speakers from the last snapshot.
func (inv *Inventory) AudioOutputs() []DeviceInfo { return inv.ByKind(DeviceKindAudioOutput) }

// OnDeviceChange sets a callback for device connection/disconnection events.
func (inv *Inventory) OnDeviceChange(callback func()) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.deviceChangeCb = callback
}

// NotifyDeviceChange should be called when the provider's device set changes.
func (inv *Inventory) NotifyDeviceChange() {
	inv.mu.RLock()
	cb := inv.deviceChangeCb
	inv.mu.RUnlock()

	if cb != nil {
		go cb()
	}
}

// MultiProvider serves video devices from one provider and audio devices from
// another, e.g. V4L2 cameras together with malgo microphones.
type MultiProvider struct {
	Video DeviceProvider
	Audio DeviceProvider
}

func (m MultiProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	if m.Video == nil {
		return nil, nil
	}
	return m.Video.ListVideoDevices(ctx)
}

func (m MultiProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	if m.Audio == nil {
		return nil, nil
	}
	return m.Audio.ListAudioInputDevices(ctx)
}

func (m MultiProvider) ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error) {
	if m.Audio == nil {
		return nil, nil
	}
	return m.Audio.ListAudioOutputDevices(ctx)
}

func (m MultiProvider) OpenVideoDevice(ctx context.Context, deviceID string, constraints *VideoConstraints) (VideoTrack, error) {
	if m.Video == nil {
		return nil, ErrNoDevice
	}
	return m.Video.OpenVideoDevice(ctx, deviceID, constraints)
}

func (m MultiProvider) OpenAudioDevice(ctx context.Context, deviceID string, constraints *AudioConstraints) (AudioTrack, error) {
	if m.Audio == nil {
		return nil, ErrNoDevice
	}
	return m.Audio.OpenAudioDevice(ctx, deviceID, constraints)
}

// platformProviders is filled by build-tagged init functions.
var (
	platformVideoProvider func() DeviceProvider
	platformAudioProvider func() DeviceProvider
)

// PlatformProvider returns the native providers compiled into this build,
// merged into one. It returns nil when the build has none.
func PlatformProvider() DeviceProvider {
	var m MultiProvider
	if platformVideoProvider != nil {
		m.Video = platformVideoProvider()
	}
	if platformAudioProvider != nil {
		m.Audio = platformAudioProvider()
	}
	if m.Video == nil && m.Audio == nil {
		return nil
	}
	return m
}
