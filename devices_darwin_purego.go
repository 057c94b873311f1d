//go:build darwin && !nodevices

package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/ebitengine/purego"
)

// AVFoundation permission status values
const (
	AVAuthorizationStatusNotDetermined = 0
	AVAuthorizationStatusRestricted    = 1
	AVAuthorizationStatusDenied        = 2
	AVAuthorizationStatusAuthorized    = 3
)

// firstFrameTimeout bounds how long an open waits to learn the delivered size.
const firstFrameTimeout = 5 * time.Second

var (
	avfOnce    sync.Once
	avfHandle  uintptr
	avfInitErr error
	avfLoaded  bool
)

// libstream_avfoundation function pointers
var (
	streamAVVideoDeviceCount        func() int32
	streamAVVideoDeviceID           func(index int32) uintptr
	streamAVVideoDeviceLabel        func(index int32) uintptr
	streamAVFreeString              func(ptr uintptr)
	streamAVCameraPermissionStatus  func() int32
	streamAVRequestCameraPermission func()
	streamAVVideoCaptureCreate      func(deviceID *byte, width, height, fps int32, callback, userData uintptr) uint64
	streamAVVideoCaptureStart       func(handle uint64) int32
	streamAVVideoCaptureStop        func(handle uint64) int32
	streamAVVideoCaptureDestroy     func(handle uint64)
	streamAVGetError                func() uintptr
)

func initAVFoundation() {
	avfOnce.Do(func() {
		libPath := findLibrary(sharedLibName("libstream_avfoundation"))
		if libPath == "" {
			avfInitErr = fmt.Errorf("libstream_avfoundation.dylib not found")
			return
		}

		var err error
		avfHandle, err = purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			avfInitErr = fmt.Errorf("failed to load %s: %w", libPath, err)
			return
		}

		purego.RegisterLibFunc(&streamAVVideoDeviceCount, avfHandle, "stream_av_video_device_count")
		purego.RegisterLibFunc(&streamAVVideoDeviceID, avfHandle, "stream_av_video_device_id")
		purego.RegisterLibFunc(&streamAVVideoDeviceLabel, avfHandle, "stream_av_video_device_label")
		purego.RegisterLibFunc(&streamAVFreeString, avfHandle, "stream_av_free_string")
		purego.RegisterLibFunc(&streamAVCameraPermissionStatus, avfHandle, "stream_av_camera_permission_status")
		purego.RegisterLibFunc(&streamAVRequestCameraPermission, avfHandle, "stream_av_request_camera_permission")
		purego.RegisterLibFunc(&streamAVVideoCaptureCreate, avfHandle, "stream_av_video_capture_create")
		purego.RegisterLibFunc(&streamAVVideoCaptureStart, avfHandle, "stream_av_video_capture_start")
		purego.RegisterLibFunc(&streamAVVideoCaptureStop, avfHandle, "stream_av_video_capture_stop")
		purego.RegisterLibFunc(&streamAVVideoCaptureDestroy, avfHandle, "stream_av_video_capture_destroy")
		purego.RegisterLibFunc(&streamAVGetError, avfHandle, "stream_av_get_error")

		avfLoaded = true
	})
}

// IsAVFoundationAvailable reports whether the AVFoundation library could be
// loaded.
func IsAVFoundationAvailable() bool {
	initAVFoundation()
	return avfLoaded
}

func avfLastError() string {
	if msg := goStringFromPtr(streamAVGetError()); msg != "" {
		return msg
	}
	return "unknown error"
}

var avfOps = nativeCaptureOps{
	start:     func(h uint64) int32 { return streamAVVideoCaptureStart(h) },
	stop:      func(h uint64) int32 { return streamAVVideoCaptureStop(h) },
	destroy:   func(h uint64) { streamAVVideoCaptureDestroy(h) },
	lastError: avfLastError,
}

// CameraPermissionStatus returns the AVAuthorizationStatus for the camera.
func CameraPermissionStatus() int {
	initAVFoundation()
	if !avfLoaded {
		return AVAuthorizationStatusNotDetermined
	}
	return int(streamAVCameraPermissionStatus())
}

// AVFoundationProvider lists and opens cameras through AVFoundation. Audio
// comes from a separate provider.
type AVFoundationProvider struct {
	log slog.Logger
	mu  sync.Mutex
}

// NewAVFoundationProvider loads the AVFoundation library.
func NewAVFoundationProvider(log slog.Logger) (*AVFoundationProvider, error) {
	initAVFoundation()
	if !avfLoaded {
		return nil, avfInitErr
	}
	if log == nil {
		log = slog.Disabled
	}
	return &AVFoundationProvider{log: log}, nil
}

func (p *AVFoundationProvider) ListVideoDevices(ctx context.Context) ([]DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	count := streamAVVideoDeviceCount()
	devices := make([]DeviceInfo, 0, count)
	for i := int32(0); i < count; i++ {
		idPtr := streamAVVideoDeviceID(i)
		labelPtr := streamAVVideoDeviceLabel(i)
		if idPtr != 0 && labelPtr != 0 {
			id := goStringFromPtr(idPtr)
			devices = append(devices, DeviceInfo{
				DeviceID: id,
				GroupID:  id,
				Label:    goStringFromPtr(labelPtr),
				Kind:     DeviceKindVideoInput,
			})
		}
		if idPtr != 0 {
			streamAVFreeString(idPtr)
		}
		if labelPtr != 0 {
			streamAVFreeString(labelPtr)
		}
	}
	return devices, nil
}

func (p *AVFoundationProvider) ListAudioInputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

func (p *AVFoundationProvider) ListAudioOutputDevices(ctx context.Context) ([]DeviceInfo, error) {
	return nil, nil
}

func (p *AVFoundationProvider) OpenAudioDevice(ctx context.Context, deviceID string, c *AudioConstraints) (AudioTrack, error) {
	return nil, fmt.Errorf("avfoundation provider has no microphones: %w", ErrNoDevice)
}

// OpenVideoDevice opens a camera. An undetermined permission triggers the
// system prompt and still fails; the caller retries once the user answers.
func (p *AVFoundationProvider) OpenVideoDevice(ctx context.Context, deviceID string, c *VideoConstraints) (VideoTrack, error) {
	switch streamAVCameraPermissionStatus() {
	case AVAuthorizationStatusNotDetermined:
		streamAVRequestCameraPermission()
		return nil, fmt.Errorf("camera permission not yet determined: %w", ErrPermissionDenied)
	case AVAuthorizationStatusDenied, AVAuthorizationStatusRestricted:
		return nil, fmt.Errorf("camera: %w", ErrPermissionDenied)
	}

	devices, err := p.ListVideoDevices(ctx)
	if err != nil {
		return nil, err
	}
	label, ok := findLabel(devices, deviceID)
	if !ok {
		return nil, fmt.Errorf("camera %q: %w", deviceID, ErrNoDevice)
	}

	width, height, fps := videoRequest(c)
	src := newNativeVideoSource(deviceID, width, height, fps, avfOps, p.log)
	src.handle = streamAVVideoCaptureCreate(cString(deviceID), int32(width), int32(height), int32(fps),
		nativeFrameCallback(), src.userData)
	if src.handle == 0 {
		src.release()
		return nil, fmt.Errorf("open camera %s: %s", deviceID, avfLastError())
	}

	track := NewSourceVideoTrack(generateTrackID(RTPCodecTypeVideo), label, src, VideoTrackSettings{
		Width:     width,
		Height:    height,
		FrameRate: fps,
		DeviceID:  deviceID,
	})
	if err := src.Start(ctx); err != nil {
		src.release()
		return nil, err
	}

	// AVFoundation picks the closest session preset; only the first frame
	// tells which one.
	waitCtx, cancel := context.WithTimeout(ctx, firstFrameTimeout)
	defer cancel()
	if err := src.awaitSize(waitCtx); err != nil {
		track.Stop()
		return nil, err
	}
	return track, nil
}

func init() {
	platformVideoProvider = func() DeviceProvider {
		p, err := NewAVFoundationProvider(nil)
		if err != nil {
			return nil
		}
		return p
	}
}
