package model

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// DefaultFaceThreshold is the minimum detection confidence for a face
const DefaultFaceThreshold = 0.5

// detectionSize is the width of one row of a detection_out tensor:
// image_id, label, conf, xmin, ymin, xmax, ymax
const detectionSize = 7

// BoundingBox is a detected face in frame coordinates
type BoundingBox struct {
	Rect       image.Rectangle `json:"rect"`
	XMin       float32         `json:"xmin"` // fractional, as reported by the detector
	YMin       float32         `json:"ymin"`
	XMax       float32         `json:"xmax"`
	YMax       float32         `json:"ymax"`
	Confidence float32         `json:"confidence"`
}

// FaceDetection is the best face of a frame and its crop
type FaceDetection struct {
	Box  BoundingBox  `json:"box"`
	Crop *image.NRGBA `json:"-"`
}

// FaceDetector finds the most confident face of a frame
type FaceDetector struct {
	*Stage[image.Image, *FaceDetection]
	threshold float32
}

// NewFaceDetector wraps a loaded face-detection model. A threshold <= 0
// selects DefaultFaceThreshold.
func NewFaceDetector(m *Model, threshold float32) *FaceDetector {
	if threshold <= 0 {
		threshold = DefaultFaceThreshold
	}
	d := &FaceDetector{threshold: threshold}
	d.Stage = NewStage(m, imageInput, d.postprocess)
	return d
}

// Detect returns nil, nil when no detection reaches the threshold
func (d *FaceDetector) Detect(ctx context.Context, img image.Image) (*FaceDetection, error) {
	return d.Predict(ctx, img)
}

func (d *FaceDetector) postprocess(net *inference.Network, img image.Image, outputs map[string]*tensor.Dense) (*FaceDetection, error) {
	rows, err := output(net, outputs, "")
	if err != nil {
		return nil, err
	}
	if len(rows)%detectionSize != 0 {
		return nil, fmt.Errorf("detection output of %d values is not a multiple of %d", len(rows), detectionSize)
	}

	best := -1
	for i := 0; i+detectionSize <= len(rows); i += detectionSize {
		if rows[i] < 0 {
			break // image_id -1 ends the list
		}
		if best < 0 || rows[i+2] > rows[best+2] {
			best = i
		}
	}
	if best < 0 || rows[best+2] < d.threshold {
		return nil, nil
	}

	box := BoundingBox{
		XMin:       clamp01(rows[best+3]),
		YMin:       clamp01(rows[best+4]),
		XMax:       clamp01(rows[best+5]),
		YMax:       clamp01(rows[best+6]),
		Confidence: rows[best+2],
	}

	b := img.Bounds()
	w, h := float32(b.Dx()), float32(b.Dy())
	box.Rect = image.Rect(
		b.Min.X+int(box.XMin*w),
		b.Min.Y+int(box.YMin*h),
		b.Min.X+int(box.XMax*w),
		b.Min.Y+int(box.YMax*h),
	).Intersect(b)

	// A degenerate box is treated like no face at all
	if box.Rect.Empty() {
		return nil, nil
	}

	return &FaceDetection{Box: box, Crop: imaging.Crop(img, box.Rect)}, nil
}

func clamp01(v float32) float32 {
	switch {
	case math.IsNaN(float64(v)), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
