// Package frame provides the frame sources of the gaze pipeline: a live
// camera, a video file or a single still image.
package frame

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrStreamExhausted is returned by Next once a source has no more frames
var ErrStreamExhausted = errors.New("stream exhausted")

// Kind selects where frames come from
type Kind string

const (
	KindCamera Kind = "cam"
	KindVideo  Kind = "video"
	KindImage  Kind = "image"
)

// ParseKind validates a source selector
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindCamera, KindVideo, KindImage:
		return k, nil
	default:
		return "", fmt.Errorf("unknown input type %q (want cam, video or image)", s)
	}
}

// Frame is one decoded image. It is consumed immediately and not retained.
type Frame struct {
	Image     *image.NRGBA
	Seq       uint64
	Timestamp time.Time
}

// Width returns the frame width in pixels
func (f *Frame) Width() int { return f.Image.Bounds().Dx() }

// Height returns the frame height in pixels
func (f *Frame) Height() int { return f.Image.Bounds().Dy() }

// Source is a lazy sequence of frames. Camera sources are infinite; file
// and image sources end with ErrStreamExhausted.
type Source interface {
	// Kind reports the source selector, used for the mirroring policy
	Kind() Kind

	// Next blocks until the next frame is available
	Next(ctx context.Context) (*Frame, error)

	// Close releases the capture handle
	Close() error
}

// Options configures capture
type Options struct {
	CameraDevice string
	FPS          int
	Width        int
	Height       int
	FFmpegPath   string
}

func (o Options) withDefaults() Options {
	if o.CameraDevice == "" {
		o.CameraDevice = "/dev/video0"
	}
	if o.FPS <= 0 {
		o.FPS = 30
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 640, 480
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	return o
}

// Open creates the source selected by kind. path is ignored for the camera.
func Open(kind Kind, path string, opts Options, logger logrus.FieldLogger) (Source, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = opts.withDefaults()

	var (
		src Source
		err error
	)
	switch kind {
	case KindCamera:
		src, err = startFFmpeg(kind, cameraArgs(opts), opts, logger)
	case KindVideo:
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("video file: %w", statErr)
		}
		src, err = startFFmpeg(kind, videoArgs(path), opts, logger)
	case KindImage:
		src, err = openImage(path, logger)
	default:
		return nil, fmt.Errorf("unknown input type %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}
