//go:build (darwin || linux) && !novpx

// VP8/VP9 encoding via libmedia_vpx, a thin primitive-only wrapper around
// libvpx loaded at runtime with purego. The encoders are only added to the
// built-in set when the library loads and reports the codec.

package capture

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mediaVPXOnce    sync.Once
	mediaVPXHandle  uintptr
	mediaVPXInitErr error
)

// libmedia_vpx function pointers
var (
	mediaVPXEncoderCreate        func(codec, width, height, fps, bitrateKbps, threads int32) uint64
	mediaVPXEncoderEncode        func(encoder uint64, yPlane, uPlane, vPlane uintptr, yStride, uvStride, forceKeyframe int32, outData uintptr, outCapacity int32, outFrameType, outPts uintptr) int32
	mediaVPXEncoderMaxOutputSize func(encoder uint64) int32
	mediaVPXEncoderDestroy       func(encoder uint64)
	mediaVPXGetError             func() uintptr
	mediaVPXCodecAvailable       func(codec int32) int32
)

// Constants from media_vpx.h
const (
	mediaVPXCodecVP8 = 0
	mediaVPXCodecVP9 = 1

	mediaVPXFrameKey = 0
)

func loadMediaVPX() error {
	mediaVPXOnce.Do(func() {
		mediaVPXInitErr = loadMediaVPXLib()
	})
	return mediaVPXInitErr
}

func loadMediaVPXLib() error {
	libName := sharedLibName("libmedia_vpx")
	paths := []string{}
	if envPath := os.Getenv("MEDIA_VPX_LIB_PATH"); envPath != "" {
		paths = append(paths, envPath)
	}
	if found := findLibrary(libName); found != "" {
		paths = append(paths, found)
	}
	// Let the dynamic loader try its own search path last.
	paths = append(paths, libName)

	var lastErr error
	for _, path := range paths {
		handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		mediaVPXHandle = handle
		purego.RegisterLibFunc(&mediaVPXEncoderCreate, handle, "media_vpx_encoder_create")
		purego.RegisterLibFunc(&mediaVPXEncoderEncode, handle, "media_vpx_encoder_encode")
		purego.RegisterLibFunc(&mediaVPXEncoderMaxOutputSize, handle, "media_vpx_encoder_max_output_size")
		purego.RegisterLibFunc(&mediaVPXEncoderDestroy, handle, "media_vpx_encoder_destroy")
		purego.RegisterLibFunc(&mediaVPXGetError, handle, "media_vpx_get_error")
		purego.RegisterLibFunc(&mediaVPXCodecAvailable, handle, "media_vpx_codec_available")
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to load libmedia_vpx: %w", lastErr)
	}
	return errors.New("libmedia_vpx not found in any standard location")
}

// IsVPXAvailable checks if libmedia_vpx is available.
func IsVPXAvailable() bool {
	return loadMediaVPX() == nil
}

func getVPXError() string {
	ptr := mediaVPXGetError()
	if ptr == 0 {
		return "unknown error"
	}
	return goStringFromPtr(ptr)
}

// VPXEncoder implements VideoEncoder using libmedia_vpx via purego.
type VPXEncoder struct {
	config VideoEncoderConfig
	codec  VideoCodec

	mu        sync.Mutex
	handle    uint64
	outputBuf []byte
	firstTS   int64
	haveFirst bool

	keyframeReq atomic.Bool
}

// NewVP8Encoder creates a new VP8 encoder.
func NewVP8Encoder(config VideoEncoderConfig) (*VPXEncoder, error) {
	return newVPXEncoder(config, VideoCodecVP8)
}

// NewVP9Encoder creates a new VP9 encoder.
func NewVP9Encoder(config VideoEncoderConfig) (*VPXEncoder, error) {
	return newVPXEncoder(config, VideoCodecVP9)
}

func newVPXEncoder(config VideoEncoderConfig, codec VideoCodec) (*VPXEncoder, error) {
	if err := loadMediaVPX(); err != nil {
		return nil, fmt.Errorf("%s encoder not available: %w", codec, err)
	}

	var codecType int32
	switch codec {
	case VideoCodecVP8:
		codecType = mediaVPXCodecVP8
	case VideoCodecVP9:
		codecType = mediaVPXCodecVP9
	default:
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, codec)
	}

	threads := config.Threads
	if threads <= 0 {
		threads = 4
	}
	bitrateKbps := config.BitrateBps / 1000
	if bitrateKbps <= 0 {
		bitrateKbps = 1000
	}
	fps := config.FPS
	if fps <= 0 {
		fps = 30
	}

	handle := mediaVPXEncoderCreate(codecType, int32(config.Width), int32(config.Height),
		int32(fps), int32(bitrateKbps), int32(threads))
	if handle == 0 {
		return nil, fmt.Errorf("failed to create %s encoder: %s", codec, getVPXError())
	}

	maxOutput := mediaVPXEncoderMaxOutputSize(handle)
	if maxOutput <= 0 {
		maxOutput = int32(config.Width * config.Height * 3 / 2)
	}

	enc := &VPXEncoder{
		config:    config,
		codec:     codec,
		handle:    handle,
		outputBuf: make([]byte, maxOutput),
	}
	enc.keyframeReq.Store(true)
	return enc, nil
}

// Encode implements VideoEncoder.
func (e *VPXEncoder) Encode(frame *VideoFrame) (*EncodedFrame, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle == 0 {
		return nil, fmt.Errorf("encoder closed")
	}
	if frame.Format != PixelFormatI420 || len(frame.Data) < 3 {
		return nil, fmt.Errorf("%s encoder needs I420 input, got %s", e.codec, frame.Format)
	}
	if frame.Width != e.config.Width || frame.Height != e.config.Height {
		return nil, fmt.Errorf("frame %dx%d does not match encoder %dx%d",
			frame.Width, frame.Height, e.config.Width, e.config.Height)
	}

	forceKeyframe := int32(0)
	if e.keyframeReq.Swap(false) {
		forceKeyframe = 1
	}

	var frameType int32
	var pts int64
	n := mediaVPXEncoderEncode(
		e.handle,
		uintptr(unsafe.Pointer(&frame.Data[0][0])),
		uintptr(unsafe.Pointer(&frame.Data[1][0])),
		uintptr(unsafe.Pointer(&frame.Data[2][0])),
		int32(frame.Stride[0]),
		int32(frame.Stride[1]),
		forceKeyframe,
		uintptr(unsafe.Pointer(&e.outputBuf[0])),
		int32(len(e.outputBuf)),
		uintptr(unsafe.Pointer(&frameType)),
		uintptr(unsafe.Pointer(&pts)),
	)
	if n < 0 {
		return nil, fmt.Errorf("encode failed: %s", getVPXError())
	}
	if n == 0 {
		return nil, nil
	}

	if !e.haveFirst {
		e.firstTS = frame.Timestamp
		e.haveFirst = true
	}
	ft := FrameTypeDelta
	if frameType == mediaVPXFrameKey {
		ft = FrameTypeKey
	}
	return &EncodedFrame{
		Data:      e.outputBuf[:n],
		FrameType: ft,
		Timestamp: time.Duration(frame.Timestamp - e.firstTS),
	}, nil
}

// RequestKeyframe implements VideoEncoder.
func (e *VPXEncoder) RequestKeyframe() {
	e.keyframeReq.Store(true)
}

// Codec implements VideoEncoder.
func (e *VPXEncoder) Codec() VideoCodec { return e.codec }

// Close implements io.Closer.
func (e *VPXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != 0 {
		mediaVPXEncoderDestroy(e.handle)
		e.handle = 0
	}
	return nil
}

func init() {
	if err := loadMediaVPX(); err != nil {
		return
	}
	if mediaVPXCodecAvailable(mediaVPXCodecVP8) != 0 {
		builtinVideoEncoders[VideoCodecVP8] = func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewVP8Encoder(config)
		}
	}
	if mediaVPXCodecAvailable(mediaVPXCodecVP9) != 0 {
		builtinVideoEncoders[VideoCodecVP9] = func(config VideoEncoderConfig) (VideoEncoder, error) {
			return NewVP9Encoder(config)
		}
	}
}
