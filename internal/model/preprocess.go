package model

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gorgonia.org/tensor"

	"gazepointer/internal/inference"
)

// Blob resizes img to the H×W of an NCHW input shape and lays it out as a
// [1, C, H, W] float32 tensor in BGR channel order.
func Blob(img image.Image, shape []int) (*tensor.Dense, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image")
	}
	if len(shape) != 4 || shape[0] != 1 {
		return nil, fmt.Errorf("expected input shape [1 C H W], got %v", shape)
	}
	c, h, w := shape[1], shape[2], shape[3]
	if c != 3 {
		return nil, fmt.Errorf("expected 3 channels, got %d", c)
	}
	if h <= 0 || w <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", w, h)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image %v", b)
	}

	resized := imaging.Resize(img, w, h, imaging.Linear)

	// HWC, BGR
	hwc := make([]float32, 0, h*w*c)
	for y := 0; y < h; y++ {
		row := resized.Pix[y*resized.Stride : y*resized.Stride+w*4]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			hwc = append(hwc, float32(px[2]), float32(px[1]), float32(px[0]))
		}
	}

	t := tensor.New(tensor.WithShape(h, w, c), tensor.WithBacking(hwc))
	if err := t.T(2, 0, 1); err != nil {
		return nil, fmt.Errorf("transpose: %w", err)
	}
	if err := t.Transpose(); err != nil {
		return nil, fmt.Errorf("transpose: %w", err)
	}
	if err := t.Reshape(1, c, h, w); err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	return t, nil
}

// imageInput prepares the single image input of a network
func imageInput(net *inference.Network, img image.Image) (map[string]*tensor.Dense, error) {
	in, err := net.FirstInput()
	if err != nil {
		return nil, err
	}
	blob, err := Blob(img, in.Shape)
	if err != nil {
		return nil, fmt.Errorf("input %s: %w", in.Name, err)
	}
	return map[string]*tensor.Dense{in.Name: blob}, nil
}

// output returns the values of a named output, or of the first declared
// output when name is empty
func output(net *inference.Network, outputs map[string]*tensor.Dense, name string) ([]float32, error) {
	if name == "" {
		first, err := net.FirstOutput()
		if err != nil {
			return nil, err
		}
		name = first.Name
	}
	t, ok := outputs[name]
	if !ok {
		return nil, fmt.Errorf("missing output %s", name)
	}
	return inference.Float32s(t)
}
