package frame

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

// imageSource yields a single still image, then ErrStreamExhausted
type imageSource struct {
	img  *image.NRGBA
	sent bool
}

func openImage(path string, logger logrus.FieldLogger) (*imageSource, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image file: %w", err)
	}
	b := img.Bounds()
	logger.Infof("[FrameSource] Loaded image %s (%dx%d)", path, b.Dx(), b.Dy())
	return &imageSource{img: imaging.Clone(img)}, nil
}

// NewImageSource wraps an already decoded image
func NewImageSource(img image.Image) Source {
	return &imageSource{img: imaging.Clone(img)}
}

func (s *imageSource) Kind() Kind {
	return KindImage
}

func (s *imageSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.sent || s.img == nil {
		return nil, ErrStreamExhausted
	}
	s.sent = true
	return &Frame{Image: imaging.Clone(s.img), Seq: 1, Timestamp: time.Now()}, nil
}

func (s *imageSource) Close() error {
	s.img = nil
	return nil
}
