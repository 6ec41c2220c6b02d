package model

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// EyeFaceRatio is the eye crop side as a fraction of the face crop width
const EyeFaceRatio = 0.2

// landmarkCount is the number of (x, y) points the landmarks model returns
const landmarkCount = 5

// Point is a landmark relative to the face crop, each coordinate in [0,1]
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Landmarks are the five facial points. Only the eye centres are used.
type Landmarks [landmarkCount]Point

// LeftEye returns the first landmark
func (l Landmarks) LeftEye() Point { return l[0] }

// RightEye returns the second landmark
func (l Landmarks) RightEye() Point { return l[1] }

// EyeCrop is a square patch of the face crop centred on an eye landmark
type EyeCrop struct {
	Center image.Point  `json:"center"` // in face crop pixels
	Side   int          `json:"side"`
	Image  *image.NRGBA `json:"-"`
}

// EyePair is the landmarks stage result
type EyePair struct {
	Landmarks Landmarks `json:"landmarks"`
	Left      EyeCrop   `json:"left"`
	Right     EyeCrop   `json:"right"`
}

// EyeSide returns the eye crop side for a face crop of the given width
func EyeSide(faceWidth int) int {
	return int(EyeFaceRatio * float64(faceWidth))
}

// CropEye cuts a side×side square centred on p. Pixels falling outside the
// face crop repeat the nearest edge pixel, so the crop always has the
// requested size.
func CropEye(face image.Image, p Point, side int) (EyeCrop, error) {
	if side <= 0 {
		return EyeCrop{}, fmt.Errorf("eye crop side %d is not positive", side)
	}
	b := face.Bounds()
	if b.Empty() {
		return EyeCrop{}, fmt.Errorf("empty face crop")
	}

	center := image.Pt(
		b.Min.X+int(clamp01(p.X)*float32(b.Dx())),
		b.Min.Y+int(clamp01(p.Y)*float32(b.Dy())),
	)
	origin := center.Sub(image.Pt(side/2, side/2))
	area := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(side, side))}

	crop := EyeCrop{Center: center.Sub(b.Min), Side: side}
	if area.In(b) {
		crop.Image = imaging.Crop(face, area)
		return crop, nil
	}

	src := imaging.Clone(face)
	dst := image.NewNRGBA(image.Rect(0, 0, side, side))
	for y := 0; y < side; y++ {
		sy := clampInt(area.Min.Y+y-b.Min.Y, 0, b.Dy()-1)
		for x := 0; x < side; x++ {
			sx := clampInt(area.Min.X+x-b.Min.X, 0, b.Dx()-1)
			copy(dst.Pix[dst.PixOffset(x, y):dst.PixOffset(x, y)+4], src.Pix[src.PixOffset(sx, sy):src.PixOffset(sx, sy)+4])
		}
	}
	crop.Image = dst
	return crop, nil
}

// LandmarksDetector locates the eyes in a face crop
type LandmarksDetector struct {
	*Stage[image.Image, EyePair]
}

// NewLandmarksDetector wraps a loaded landmarks model
func NewLandmarksDetector(m *Model) *LandmarksDetector {
	d := &LandmarksDetector{}
	d.Stage = NewStage(m, imageInput, d.postprocess)
	return d
}

// Eyes returns both eye crops of a face crop
func (d *LandmarksDetector) Eyes(ctx context.Context, face image.Image) (EyePair, error) {
	return d.Predict(ctx, face)
}

func (d *LandmarksDetector) postprocess(net *inference.Network, face image.Image, outputs map[string]*tensor.Dense) (EyePair, error) {
	values, err := output(net, outputs, "")
	if err != nil {
		return EyePair{}, err
	}
	if len(values) < 2*landmarkCount {
		return EyePair{}, fmt.Errorf("expected %d landmark values, got %d", 2*landmarkCount, len(values))
	}

	var pair EyePair
	for i := range pair.Landmarks {
		pair.Landmarks[i] = Point{X: values[2*i], Y: values[2*i+1]}
	}

	side := EyeSide(face.Bounds().Dx())
	if pair.Left, err = CropEye(face, pair.Landmarks.LeftEye(), side); err != nil {
		return EyePair{}, fmt.Errorf("left eye: %w", err)
	}
	if pair.Right, err = CropEye(face, pair.Landmarks.RightEye(), side); err != nil {
		return EyePair{}, fmt.Errorf("right eye: %w", err)
	}
	return pair, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
