//go:build linux && !nodevices

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/decred/slog"
	"github.com/ebitengine/purego"
)

var (
	v4l2Once    sync.Once
	v4l2Handle  uintptr
	v4l2InitErr error
	v4l2Loaded  bool
)

// V4L2 function pointers
var (
	streamV4L2DeviceCount      func() int32
	streamV4L2DevicePath       func(index int32) uintptr
	streamV4L2DeviceName       func(index int32) uintptr
	streamV4L2FreeString       func(ptr uintptr)
	streamV4L2CaptureCreate    func(devicePath *byte, width, height, fps int32, callback, userData uintptr) uint64
	streamV4L2CaptureStart     func(handle uint64) int32
	streamV4L2CaptureStop      func(handle uint64) int32
	streamV4L2CaptureDestroy   func(handle uint64)
	streamV4L2CaptureGetWidth  func(handle uint64) int32
	streamV4L2CaptureGetHeight func(handle uint64) int32
	streamV4L2CaptureGetFPS    func(handle uint64) int32
	streamV4L2GetError         func() uintptr
)

func initV4L2() {
	v4l2Once.Do(func() {
		libPath := findLibrary(sharedLibName("libstream_v4l2"))
		if libPath == "" {
			v4l2InitErr = fmt.Errorf("libstream_v4l2.so not found")
			return
		}

		var err error
		v4l2Handle, err = purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			v4l2InitErr = fmt.Errorf("failed to load %s: %w", libPath, err)
			return
		}

		purego.RegisterLibFunc(&streamV4L2DeviceCount, v4l2Handle, "stream_v4l2_device_count")
		purego.RegisterLibFunc(&streamV4L2DevicePath, v4l2Handle, "stream_v4l2_device_path")
		purego.RegisterLibFunc(&streamV4L2DeviceName, v4l2Handle, "stream_v4l2_device_name")
		purego.RegisterLibFunc(&streamV4L2FreeString, v4l2Handle, "stream_v4l2_free_string")
		purego.RegisterLibFunc(&streamV4L2CaptureCreate, v4l2Handle, "stream_v4l2_capture_create")
		purego.RegisterLibFunc(&streamV4L2CaptureStart, v4l2Handle, "stream_v4l2_capture_start")
		purego.RegisterLibFunc(&streamV4L2CaptureStop, v4l2Handle, "stream_v4l2_capture_stop")
		purego.RegisterLibFunc(&streamV4L2CaptureDestroy, v4l2Handle, "stream_v4l2_capture_destroy")
		purego.RegisterLibFunc(&streamV4L2CaptureGetWidth, v4l2Handle, "stream_v4l2_capture_get_width")
		purego.RegisterLibFunc(&streamV4L2CaptureGetHeight, v4l2Handle, "stream_v4l2_capture_get_height")
		purego.RegisterLibFunc(&streamV4L2CaptureGetFPS, v4l2Handle, "stream_v4l2_capture_get_fps")
		purego.RegisterLibFunc(&streamV4L2GetError, v4l2Handle, "stream_v4l2_get_error")

		v4l2Loaded = true
	})
}

// IsV4L2Available reports whether the V4L2 capture library could be loaded.
func IsV4L2Available() bool {
	initV4L2()
	return v4l2Loaded
}

func v4l2LastError() string {
	if msg := goStringFromPtr(streamV4L2GetError()); msg != "" {
		return msg
	}
	return "unknown error"
}

var v4l2Ops = nativeCaptureOps{
	start:     func(h uint64) int32 { return streamV4L2CaptureStart(h) },
	stop:      func(h uint64) int32 { return streamV4L2CaptureStop(h) },
	destroy:   func(h uint64) { streamV4L2CaptureDestroy(h) },
	lastError: v4l2LastError,
}

// V4L2Provider lists and opens cameras through the V4L2 capture library. It
// has no audio devices; pair it with an audio provider in a MultiProvider.
type V4L2Provider struct {
	log slog.Logger
	mu  sync.Mutex
}

// NewV4L2Provider loads the V4L2 library.
func NewV4L2Provider(log slog.Logger) (*V4L2Provider, error) {
	initV4L2()
	if !v4l2Loaded {
		return nil, v4l2InitErr
	}
	if log == nil {
		log = slog.Disabled
	}
	return &V4L2Provider{log: log}, nil
}

func (p *V4L2Provider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := streamV4L2DeviceCount()
	devices := make([]DeviceInfo, 0, count)
	for i := int32(0); i < count; i++ {
		pathPtr := streamV4L2DevicePath(i)
		namePtr := streamV4L2DeviceName(i)
		if pathPtr != 0 && namePtr != 0 {
			path := goStringFromPtr(pathPtr)
			devices = append(devices, DeviceInfo{
				DeviceID: path,
				GroupID:  path,
				Label:    goStringFromPtr(namePtr),
				Kind:     DeviceKindVideoInput,
			})
		}
		if pathPtr != 0 {
			streamV4L2FreeString(pathPtr)
		}
		if namePtr != 0 {
			streamV4L2FreeString(namePtr)
		}
	}
	return devices, nil
}

func (p *V4L2Provider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

func (p *V4L2Provider) ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

func (p *V4L2Provider) OpenAudioDevice(ctx context.Context, deviceID string, c *AudioConstraints) (AudioTrack, error) {
	return nil, fmt.Errorf("v4l2 has no microphones: %w", ErrNoDevice)
}

// OpenVideoDevice opens the camera at deviceID (a /dev/video path). The
// driver may settle on a nearby size; anything but the exact request fails.
func (p *V4L2Provider) OpenVideoDevice(ctx context.Context, deviceID string, c *VideoConstraints) (VideoTrack, error) {
	devices, err := p.ListVideoDevices(ctx)
	if err != nil {
		return nil, err
	}
	label, ok := findLabel(devices, deviceID)
	if !ok {
		return nil, fmt.Errorf("camera %q: %w", deviceID, ErrNoDevice)
	}

	width, height, fps := videoRequest(c)
	src := newNativeVideoSource(deviceID, width, height, fps, v4l2Ops, p.log)
	src.handle = streamV4L2CaptureCreate(cString(deviceID), int32(width), int32(height), int32(fps),
		nativeFrameCallback(), src.userData)
	if src.handle == 0 {
		src.release()
		// The library fails the open when the device node is not accessible.
		return nil, fmt.Errorf("open camera %s: %s: %w", deviceID, v4l2LastError(), ErrPermissionDenied)
	}

	gotW := int(streamV4L2CaptureGetWidth(src.handle))
	gotH := int(streamV4L2CaptureGetHeight(src.handle))
	if gotW != width || gotH != height {
		src.release()
		return nil, fmt.Errorf("camera %s delivers %dx%d, want %dx%d: %w",
			deviceID, gotW, gotH, width, height, ErrConstraintNotSatisfied)
	}
	if got := int(streamV4L2CaptureGetFPS(src.handle)); got > 0 {
		src.fps = got
	}

	track := NewSourceVideoTrack(generateTrackID(RTPCodecTypeVideo), label, src, VideoTrackSettings{
		Width:     width,
		Height:    height,
		FrameRate: src.fps,
		DeviceID:  deviceID,
	})
	if err := src.Start(ctx); err != nil {
		src.release()
		return nil, err
	}
	return track, nil
}

func init() {
	platformVideoProvider = func() DeviceProvider {
		p, err := NewV4L2Provider(nil)
		if err != nil {
			return nil
		}
		return p
	}
}
