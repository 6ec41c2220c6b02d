// Package overlay draws pipeline results on frames for the preview and the
// recorder.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"gazepointer/internal/pipeline"
)

var (
	FaceColor  = color.RGBA{0, 255, 0, 255}
	EyeColor   = color.RGBA{255, 165, 0, 255}
	GazeColor  = color.RGBA{255, 0, 0, 255}
	LabelColor = color.RGBA{255, 255, 255, 255}
)

// ArrowScale is the arrow length in pixels for a unit gaze component
const ArrowScale = 80

// Annotate returns a copy of the frame with the face box, eye boxes, gaze
// arrow and a status label drawn on it. The source frame is not modified.
func Annotate(res *pipeline.FrameResult) *image.RGBA {
	if res == nil || res.Frame == nil {
		return nil
	}

	bounds := res.Frame.Bounds()
	img := image.NewRGBA(bounds)
	draw.Draw(img, bounds, res.Frame, bounds.Min, draw.Src)

	if res.Face != nil {
		r := res.Face.Box.Rect
		DrawBox(img, r, FaceColor, 2)

		if res.Eyes != nil {
			for _, eye := range []struct {
				center image.Point
				side   int
			}{{res.Eyes.Left.Center, res.Eyes.Left.Side}, {res.Eyes.Right.Center, res.Eyes.Right.Side}} {
				origin := r.Min.Add(eye.center).Sub(image.Pt(eye.side/2, eye.side/2))
				DrawBox(img, image.Rectangle{Min: origin, Max: origin.Add(image.Pt(eye.side, eye.side))}, EyeColor, 1)
			}
		}

		if res.Gaze != nil {
			center := image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
			tip := center.Add(image.Pt(
				int(math.Round(float64(res.Gaze.X)*ArrowScale)),
				int(math.Round(-float64(res.Gaze.Y)*ArrowScale)),
			))
			DrawArrow(img, center, tip, GazeColor)
		}

		DrawLabel(img, r.Min.X, r.Min.Y-15, fmt.Sprintf("face %.0f%%", res.Face.Box.Confidence*100), FaceColor)
	}

	DrawLabel(img, bounds.Min.X+4, bounds.Min.Y+4, StatusLine(res), LabelColor)
	return img
}

// StatusLine summarizes a result in one short line
func StatusLine(res *pipeline.FrameResult) string {
	switch {
	case res.Gaze != nil:
		return fmt.Sprintf("#%d gaze x=%.2f y=%.2f z=%.2f", res.Seq, res.Gaze.X, res.Gaze.Y, res.Gaze.Z)
	case res.Skipped != nil:
		return fmt.Sprintf("#%d skipped %s (%s)", res.Seq, res.Skipped.Stage, res.Skipped.Reason)
	default:
		return fmt.Sprintf("#%d", res.Seq)
	}
}

// FaceCrop returns the face crop labeled with the gaze vector, or nil when
// the result has no face
func FaceCrop(res *pipeline.FrameResult) *image.RGBA {
	if res == nil || res.Face == nil || res.Face.Crop == nil {
		return nil
	}
	crop := res.Face.Crop
	bounds := crop.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(img, img.Bounds(), crop, bounds.Min, draw.Src)

	if res.Gaze != nil {
		DrawLabel(img, 2, 2, fmt.Sprintf("%.2f %.2f %.2f", res.Gaze.X, res.Gaze.Y, res.Gaze.Z), LabelColor)
	}
	return img
}

// Fit resizes an annotated frame to exactly width x height
func Fit(img image.Image, width, height int) *image.NRGBA {
	if b := img.Bounds(); b.Dx() == width && b.Dy() == height {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, height, imaging.Linear)
}

// DrawBox draws the outline of r, clipped to the image
func DrawBox(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	bounds := img.Bounds()
	set := func(x, y int) {
		if image.Pt(x, y).In(bounds) {
			img.SetRGBA(x, y, c)
		}
	}

	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			set(x, r.Min.Y+t)
			set(x, r.Max.Y-1-t)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			set(r.Min.X+t, y)
			set(r.Max.X-1-t, y)
		}
	}
}

// DrawLabel draws text on a dark background with its top-left corner at x,y
func DrawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	bounds := img.Bounds()
	if y < bounds.Min.Y {
		y = bounds.Min.Y
	}
	if x < bounds.Min.X {
		x = bounds.Min.X
	}

	bg := color.RGBA{0, 0, 0, 180}
	textWidth := len(label) * 7
	for dy := -2; dy < 14; dy++ {
		for dx := -2; dx < textWidth+2; dx++ {
			if p := image.Pt(x+dx, y+dy); p.In(bounds) {
				img.SetRGBA(p.X, p.Y, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 11)},
	}
	d.DrawString(label)
}

// DrawArrow draws a line from -> to with a two-stroke head at to
func DrawArrow(img *image.RGBA, from, to image.Point, c color.RGBA) {
	drawLine(img, from, to, c)

	dx, dy := float64(to.X-from.X), float64(to.Y-from.Y)
	length := math.Hypot(dx, dy)
	if length < 1 {
		return
	}
	head := math.Min(10, length/3)
	angle := math.Atan2(dy, dx)
	for _, side := range []float64{-math.Pi / 6, math.Pi / 6} {
		a := angle + math.Pi + side
		end := image.Pt(
			to.X+int(math.Round(head*math.Cos(a))),
			to.Y+int(math.Round(head*math.Sin(a))),
		)
		drawLine(img, to, end, c)
	}
}

// drawLine is Bresenham's line, clipped to the image
func drawLine(img *image.RGBA, from, to image.Point, c color.RGBA) {
	bounds := img.Bounds()
	dx := absInt(to.X - from.X)
	dy := -absInt(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	e := dx + dy
	x, y := from.X, from.Y
	for {
		if image.Pt(x, y).In(bounds) {
			img.SetRGBA(x, y, c)
		}
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
