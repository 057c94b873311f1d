//go:build (darwin || linux) && !nodevices

package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/decred/slog"
	"github.com/ebitengine/purego"
)

// Native camera libraries deliver I420 frames through one C callback. The
// user data argument selects the capture it belongs to.
var (
	nativeCaptures      sync.Map // uintptr -> *nativeVideoSource
	nextNativeCaptureID atomic.Uintptr

	nativeCallbackOnce sync.Once
	nativeCallback     uintptr
)

// nativeFrameCallback returns the shared C entry point. purego callbacks are
// never freed, so only one is ever created.
func nativeFrameCallback() uintptr {
	nativeCallbackOnce.Do(func() {
		nativeCallback = purego.NewCallback(goNativeFrameCallback)
	})
	return nativeCallback
}

// goNativeFrameCallback receives planes owned by the library. They are only
// valid until it returns, so sinks that keep a frame must Clone it.
func goNativeFrameCallback(
	yPlane uintptr, yStride int32,
	uPlane uintptr, uStride int32,
	vPlane uintptr, vStride int32,
	width, height int32,
	timestampNs int64,
	userData uintptr,
) {
	v, ok := nativeCaptures.Load(userData)
	if !ok {
		return
	}
	s := v.(*nativeVideoSource)

	h := int(height)
	uvHeight := (h + 1) / 2
	frame := &VideoFrame{
		Data: [][]byte{
			unsafe.Slice((*byte)(unsafe.Pointer(yPlane)), int(yStride)*h),
			unsafe.Slice((*byte)(unsafe.Pointer(uPlane)), int(uStride)*uvHeight),
			unsafe.Slice((*byte)(unsafe.Pointer(vPlane)), int(vStride)*uvHeight),
		},
		Stride:    []int{int(yStride), int(uStride), int(vStride)},
		Width:     int(width),
		Height:    h,
		Format:    PixelFormatI420,
		Timestamp: timestampNs,
	}
	s.deliver(frame)
}

// nativeCaptureOps are the library calls behind one camera backend.
type nativeCaptureOps struct {
	start     func(handle uint64) int32
	stop      func(handle uint64) int32
	destroy   func(handle uint64)
	lastError func() string
}

// nativeVideoSource is a VideoSource over one native capture handle.
type nativeVideoSource struct {
	deviceID           string
	width, height, fps int
	log                slog.Logger
	ops                nativeCaptureOps
	userData           uintptr
	handle             uint64
	running            atomic.Bool

	// firstFrame receives the size of the first delivered frame.
	firstFrame chan [2]int
	gotFirst   atomic.Bool

	mu       sync.RWMutex
	callback VideoFrameCallback
}

func newNativeVideoSource(deviceID string, width, height, fps int, ops nativeCaptureOps, log slog.Logger) *nativeVideoSource {
	s := &nativeVideoSource{
		deviceID:   deviceID,
		width:      width,
		height:     height,
		fps:        fps,
		log:        log,
		ops:        ops,
		userData:   nextNativeCaptureID.Add(1),
		firstFrame: make(chan [2]int, 1),
	}
	nativeCaptures.Store(s.userData, s)
	return s
}

func (s *nativeVideoSource) deliver(frame *VideoFrame) {
	if !s.gotFirst.Swap(true) {
		s.firstFrame <- [2]int{frame.Width, frame.Height}
	}
	s.mu.RLock()
	cb := s.callback
	s.mu.RUnlock()
	if cb != nil {
		cb(frame)
	}
}

// awaitSize waits for the first frame and fails unless it has exactly the
// requested size.
func (s *nativeVideoSource) awaitSize(ctx context.Context) error {
	select {
	case size := <-s.firstFrame:
		if size[0] != s.width || size[1] != s.height {
			return fmt.Errorf("camera %s delivers %dx%d, want %dx%d: %w",
				s.deviceID, size[0], size[1], s.width, s.height, ErrConstraintNotSatisfied)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *nativeVideoSource) release() {
	if s.handle != 0 {
		s.ops.destroy(s.handle)
		s.handle = 0
	}
	nativeCaptures.Delete(s.userData)
}

func (s *nativeVideoSource) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return fmt.Errorf("source already running")
	}
	if s.ops.start(s.handle) != 0 {
		s.running.Store(false)
		return fmt.Errorf("start camera %s: %s", s.deviceID, s.ops.lastError())
	}
	s.log.Debugf("Camera %s capturing %dx%d@%d", s.deviceID, s.width, s.height, s.fps)
	return nil
}

func (s *nativeVideoSource) Stop() error {
	if !s.running.Swap(false) {
		s.release()
		return nil
	}
	rc := s.ops.stop(s.handle)
	s.release()
	if rc != 0 {
		return fmt.Errorf("stop camera %s: %s", s.deviceID, s.ops.lastError())
	}
	return nil
}

func (s *nativeVideoSource) SetCallback(cb VideoFrameCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

func (s *nativeVideoSource) Config() SourceConfig {
	return SourceConfig{
		Width:      s.width,
		Height:     s.height,
		FPS:        s.fps,
		Format:     PixelFormatI420,
		SourceType: SourceTypeCamera,
	}
}

// cString returns a NUL-terminated copy of s.
func cString(s string) *byte {
	b := append([]byte(s), 0)
	return &b[0]
}

// findLabel returns the label of deviceID in devices.
func findLabel(devices []DeviceInfo, deviceID string) (string, bool) {
	for _, d := range devices {
		if d.DeviceID == deviceID {
			return d.Label, true
		}
	}
	return "", false
}

// videoRequest resolves constraints to a size and frame rate. VGA at 30 fps
// is the default.
func videoRequest(c *VideoConstraints) (width, height, fps int) {
	width, height, fps = PresetVGA.Width(), PresetVGA.Height(), 30
	if c != nil && c.Width > 0 && c.Height > 0 {
		width, height = c.Width, c.Height
	}
	if c != nil && c.FrameRate > 0 {
		fps = c.FrameRate
	}
	return width, height, fps
}
