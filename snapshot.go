package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
)

// ErrTrackEnded is returned when a frame is requested from an ended track.
var ErrTrackEnded = errors.New("track has ended")

// Snapshot waits for the next frame of track and returns it as an image.
func Snapshot(ctx context.Context, track VideoTrack) (image.Image, error) {
	if track == nil || track.State() != TrackStateLive {
		return nil, ErrTrackEnded
	}

	frames := make(chan *VideoFrame, 1)
	remove := track.OnFrame(func(f *VideoFrame) {
		select {
		case frames <- f.Clone():
		default:
		}
	})
	defer remove()

	select {
	case f := <-frames:
		return FrameToImage(f)
	case <-ctx.Done():
		return nil, fmt.Errorf("snapshot: %w", ctx.Err())
	}
}

// FrameToImage converts a 4:2:0 frame into an image.YCbCr without copying
// the luma plane when the strides allow it.
func FrameToImage(f *VideoFrame) (image.Image, error) {
	rect := image.Rect(0, 0, f.Width, f.Height)
	switch f.Format {
	case PixelFormatI420:
		if len(f.Data) < 3 || len(f.Stride) < 3 {
			return nil, fmt.Errorf("I420 frame needs 3 planes, got %d", len(f.Data))
		}
		if f.Stride[1] != f.Stride[2] {
			return nil, fmt.Errorf("I420 chroma strides differ (%d, %d)", f.Stride[1], f.Stride[2])
		}
		return &image.YCbCr{
			Y:              f.Data[0],
			Cb:             f.Data[1],
			Cr:             f.Data[2],
			YStride:        f.Stride[0],
			CStride:        f.Stride[1],
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil
	case PixelFormatNV12:
		if len(f.Data) < 2 || len(f.Stride) < 2 {
			return nil, fmt.Errorf("NV12 frame needs 2 planes, got %d", len(f.Data))
		}
		img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
		for y := 0; y < f.Height; y++ {
			copy(img.Y[y*img.YStride:y*img.YStride+f.Width], f.Data[0][y*f.Stride[0]:])
		}
		cw, ch := (f.Width+1)/2, (f.Height+1)/2
		for y := 0; y < ch; y++ {
			row := f.Data[1][y*f.Stride[1]:]
			for x := 0; x < cw; x++ {
				img.Cb[y*img.CStride+x] = row[2*x]
				img.Cr[y*img.CStride+x] = row[2*x+1]
			}
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", f.Format)
	}
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}
